package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/omochice/live-danmaku/pkg/danmaku"
)

// eventLine is the JSON form of one event.
type eventLine struct {
	Time    time.Time       `json:"time"`
	Room    int64           `json:"room"`
	Event   string          `json:"event"`
	Online  *int            `json:"online,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// printer writes events as text or JSON lines.
type printer struct {
	out    io.Writer
	json   bool
	roomID int64
	now    func() time.Time
}

func (p *printer) print(ev danmaku.Event) error {
	if p.json {
		return p.printJSON(ev)
	}

	var detail string
	switch ev := ev.(type) {
	case danmaku.Heartbeat:
		detail = fmt.Sprintf("online=%d", ev.Online)
	case danmaku.Command:
		detail = string(ev.Raw)
	case danmaku.Error:
		detail = ev.Error()
	case danmaku.Msg:
		// the command line carries the payload
		return nil
	}
	_, err := fmt.Fprintf(p.out, "%s [%d] %s %s\n", p.now().Format(time.TimeOnly), p.roomID, ev.Name(), detail)
	return err
}

func (p *printer) printJSON(ev danmaku.Event) error {
	line := eventLine{Time: p.now(), Room: p.roomID, Event: ev.Name()}
	switch ev := ev.(type) {
	case danmaku.Heartbeat:
		line.Online = &ev.Online
	case danmaku.Error:
		line.Error = ev.Error()
	case danmaku.Msg:
		payload, err := protojson.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		line.Payload = payload
	case danmaku.Command:
		// the msg line already carries the payload
		return nil
	}

	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}
