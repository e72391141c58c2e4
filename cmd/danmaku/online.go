package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/live-danmaku/pkg/danmaku"
)

func onlineCmd() *cobra.Command {
	var (
		room    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "online",
		Short: "Print the current viewer count of a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := danmaku.ParseRoomID(room)
			if err != nil {
				return err
			}
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			defer s.Logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			events := make(chan danmaku.Event, 16)
			listener := func(ev danmaku.Event) {
				select {
				case events <- ev:
				default:
				}
			}

			var session *danmaku.Session
			if s.Transport == "tcp" {
				session, err = danmaku.NewTCPSession(roomID, s.Client, listener)
			} else {
				session, err = danmaku.NewWSSession(roomID, s.Client, listener)
			}
			if err != nil {
				return err
			}
			defer session.Close()

			if err := waitFor(ctx, events, "live"); err != nil {
				return fmt.Errorf("room %d did not go live: %w", roomID, err)
			}
			select {
			case online, ok := <-session.GetOnline():
				if !ok {
					return fmt.Errorf("room %d: %w", roomID, danmaku.ErrClosed)
				}
				fmt.Fprintln(cmd.OutOrStdout(), online)
				return nil
			case <-ctx.Done():
				return fmt.Errorf("room %d: %w", roomID, ctx.Err())
			}
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "", "room id")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "give up after this long")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}
