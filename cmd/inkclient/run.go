package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/inkframe/internal/config"
	"github.com/danmuck/inkframe/internal/observability"
	"github.com/danmuck/inkframe/internal/statusapi"
	"github.com/danmuck/inkframe/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd(load func() (config.Config, error)) *cobra.Command {
	var (
		serverURL string
		listen    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the frame server and drive the display",
		Long: `Connect to the frame server over WebSocket, apply every packet to the
frame buffer and serve the status API until interrupted.

Examples:
  inkclient run
  inkclient run -c /etc/inkframe/config.toml
  inkclient run --server ws://10.0.0.2:8080/ws --listen :9191`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if listen != "" {
				cfg.Status.ListenAddr = listen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "frame server url (overrides server_url)")
	cmd.Flags().StringVar(&listen, "listen", "", "status api address (overrides status.listen_addr)")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger := observability.InitLogger("inkclient")
	observability.RegisterMetrics()

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.device.Close()

	tcfg := transport.DefaultConfig()
	tcfg.URL = cfg.ServerURL
	tcfg.DeviceID = cfg.DeviceID
	tcfg.ChunkBytes = cfg.Memory.RxChunkBytes
	tcfg.Backoff = cfg.Reconnect
	client, err := transport.NewClient(tcfg, st.device, logger)
	if err != nil {
		return err
	}

	opts := statusapi.Options{
		DeviceID:    cfg.DeviceID,
		Addr:        cfg.Status.ListenAddr,
		CorsOrigins: cfg.Status.CorsOrigins,
		Device:      st.device,
		Power:       st.tracker,
		Link:        client,
		Logger:      logger,
	}
	if st.battery != nil {
		opts.Battery = st.battery
	}
	status := statusapi.New(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return status.Serve(gctx) })
	g.Go(func() error { return st.tracker.Watch(gctx, st.panel, time.Second, logger) })

	err = g.Wait()
	snap := st.device.Snapshot()
	logger.Info().
		Uint64("packets", snap.Packets).
		Uint64("acked", snap.Acked).
		Uint64("naked", snap.Naked).
		Msg("stopped")
	return err
}
