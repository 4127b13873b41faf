package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/canvas/internal/api"
	"github.com/manpreetbhatti/canvas/internal/config"
	"github.com/manpreetbhatti/canvas/internal/db"
	"github.com/manpreetbhatti/canvas/internal/discovery"
	"github.com/manpreetbhatti/canvas/internal/gateway"
	"github.com/manpreetbhatti/canvas/internal/janitor"
	"github.com/manpreetbhatti/canvas/internal/logger"
	"github.com/manpreetbhatti/canvas/internal/metrics"
	"github.com/manpreetbhatti/canvas/internal/room"
	"github.com/manpreetbhatti/canvas/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "canvas-server",
		Short: "Real-time collaborative drawing server",
		Long: `Serves shared drawing rooms over WebSocket.

Every participant in a room sees the same strokes in the same order,
with room-wide undo and redo and live cursor and stroke previews.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to listen on")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite activity journal path; empty disables the journal")
	f.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Largest inbound frame in bytes")
	f.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "Outbound frames buffered per connection")
	f.Float64Var(&cfg.PreviewRate, "preview-rate", cfg.PreviewRate, "drawPoint and cursor messages per second per connection")
	f.IntVar(&cfg.PreviewBurst, "preview-burst", cfg.PreviewBurst, "Preview burst allowance")
	f.Float64Var(&cfg.CommitRate, "commit-rate", cfg.CommitRate, "stroke, undo, redo, join and clear messages per second per connection")
	f.IntVar(&cfg.CommitBurst, "commit-burst", cfg.CommitBurst, "Commit burst allowance")
	f.IntVar(&cfg.MaxViolations, "max-violations", cfg.MaxViolations, "Rate limit violations before disconnecting; 0 never disconnects")
	f.DurationVar(&cfg.RoomIdleTTL, "room-idle-ttl", cfg.RoomIdleTTL, "Evict history of empty rooms idle this long; 0 keeps rooms forever")
	f.DurationVar(&cfg.JanitorInterval, "janitor-interval", cfg.JanitorInterval, "How often to look for idle rooms; 0 disables")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for in-flight HTTP requests")
	f.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "Advertise the server on the local network")
	f.StringVar(&cfg.MDNSInstance, "mdns-instance", cfg.MDNSInstance, "mDNS instance name (default hostname)")

	rootCmd.AddCommand(discoverCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func discoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List canvas servers advertising on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := discovery.Browse(timeout)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("No servers found")
				return nil
			}
			for _, addr := range found {
				fmt.Printf("ws://%s/ws\n", addr)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "How long to wait for answers")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := []gateway.Option{
		gateway.WithLogger(log.Named("gateway")),
		gateway.WithMetrics(m),
	}

	var database *db.Database
	var journal *db.Journal
	if cfg.DBPath != "" {
		database, err = db.New(cfg.DBPath)
		if err != nil {
			return errors.Wrap(err, "initialize database")
		}
		defer database.Close()

		journal = db.NewJournal(database, log.Named("db"), 0)
		journal.Start()
		opts = append(opts, gateway.WithRecorder(journal))
	}

	gw := gateway.New(room.NewStore(), opts...)
	gwCtx, stopGateway := context.WithCancel(context.Background())
	gwDone := make(chan struct{})
	go func() {
		defer close(gwDone)
		gw.Run(gwCtx)
	}()

	sweeper := janitor.New(gw, cfg.Janitor(), log.Named("janitor"))
	sweeper.Start()

	socket := ws.NewHandler(gw, log.Named("ws"), m, cfg.WS())
	router := api.New(gw, database, log.Named("api")).Router(socket, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var advertiser *discovery.Advertiser
	if cfg.MDNS {
		port, _ := cfg.Port()
		advertiser, err = discovery.Advertise(cfg.MDNSInstance, port, log.Named("mdns"))
		if err != nil {
			log.Warn("mdns advertisement unavailable", zap.Error(err))
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	log.Info("canvas server starting",
		zap.String("addr", cfg.Addr),
		zap.Bool("journal", database != nil),
		zap.Bool("janitor", cfg.Janitor().Enabled()),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = errors.Wrap(err, "listen")
		}
	}

	if advertiser != nil {
		advertiser.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	sweeper.Stop()
	stopGateway()
	<-gwDone
	if journal != nil {
		journal.Stop()
	}

	log.Info("server stopped")
	return runErr
}
