// Package danmaku connects to a live room's danmaku stream over WebSocket or
// raw TCP and reports what happens there as typed events.
//
// A Session is one connection attempt: it joins the room, keeps a heartbeat
// loop going to learn the viewer count and decodes inbound packets. Once it
// closes it stays closed.
//
// A Supervisor keeps a room subscribed across failures. It owns a liveness
// timer of its own, independent of the session's heartbeat loop, and replaces
// the session whenever it closes, errors or goes quiet for too long:
//
//	sup, err := danmaku.NewWS(roomID, danmaku.DefaultConfig(), func(ev danmaku.Event) {
//		switch ev := ev.(type) {
//		case danmaku.Heartbeat:
//			fmt.Println("online:", ev.Online)
//		case danmaku.Command:
//			if ev.Kind == protocol.CommandDanmaku {
//				fmt.Println(string(ev.Raw))
//			}
//		}
//	})
//	if err != nil {
//		return err
//	}
//	defer sup.Close()
//
// Retries use a fixed delay and never give up; Close is the only way to stop.
package danmaku
