package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/live-danmaku/internal/mockserver"
	"github.com/omochice/live-danmaku/pkg/protocol"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr        string
		adminAddr   string
		online      int
		compression string
		dev         bool
	)

	cmd := &cobra.Command{
		Use:   "mockserver",
		Short: "Run a fake danmaku server for local development",
		Long: `mockserver accepts danmaku clients over raw TCP and WebSocket on one port,
answers joins and heartbeats, and exposes an admin HTTP API to push messages
and drop connections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(dev)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ver, err := parseCompression(compression)
			if err != nil {
				return err
			}

			srv := mockserver.New(addr, mockserver.WithLogger(logger), mockserver.WithOnline(online))
			srv.SetCompression(ver)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			admin := &http.Server{Addr: adminAddr, Handler: adminRouter(srv)}
			go func() {
				if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin server error", zap.Error(err))
				}
			}()
			defer admin.Close()

			logger.Info("accepting TCP and WebSocket clients", zap.String("addr", srv.Addr()), zap.String("admin", adminAddr))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:2243", "address for TCP and WebSocket clients")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:8081", "address of the admin HTTP API")
	cmd.Flags().IntVar(&online, "online", 1, "viewer count sent in heartbeat replies")
	cmd.Flags().StringVar(&compression, "compression", "none", "batch broadcasts with none, zlib or brotli")
	cmd.Flags().BoolVar(&dev, "dev", false, "human readable development logging")

	return cmd
}

func parseCompression(name string) (protocol.Version, error) {
	switch name {
	case "none", "":
		return protocol.VersionJSON, nil
	case "zlib":
		return protocol.VersionZlib, nil
	case "brotli":
		return protocol.VersionBrotli, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
