package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/live-danmaku/pkg/danmaku"
)

func watchCmd() *cobra.Command {
	var (
		room        string
		asJSON      bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every event of a room until interrupted",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			s.Client.Metrics = danmaku.NewMetrics(reg)

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsRouter(reg)}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						s.Logger.Error("metrics server error", zap.Error(err))
					}
				}()
				defer srv.Close()
				s.Logger.Info("serving metrics", zap.String("addr", metricsAddr))
			}

			p := &printer{out: cmd.OutOrStdout(), json: asJSON, roomID: roomID, now: time.Now}
			var mu sync.Mutex
			listener := func(ev danmaku.Event) {
				mu.Lock()
				defer mu.Unlock()
				if err := p.print(ev); err != nil {
					s.Logger.Warn("failed to print event", zap.Error(err))
				}
			}

			sv, err := connect(s.Transport, roomID, s.Client, listener)
			if err != nil {
				return err
			}
			<-ctx.Done()
			sv.Close()
			return nil
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "", "room id to watch")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}

func connect(transport string, roomID int64, cfg danmaku.Config, l danmaku.Listener) (*danmaku.Supervisor, error) {
	switch transport {
	case "tcp":
		return danmaku.NewTCP(roomID, cfg, l)
	case "ws":
		return danmaku.NewWS(roomID, cfg, l)
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

// waitFor returns once the first event named name arrives, or ctx is done.
func waitFor(ctx context.Context, events <-chan danmaku.Event, name string) error {
	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case danmaku.Error:
				return ev
			case danmaku.Close:
				return danmaku.ErrClosed
			}
			if ev.Name() == name {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
