package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collabrelay/broker/internal/apperr"
	"github.com/collabrelay/broker/internal/audit"
	"github.com/collabrelay/broker/internal/broker"
	"github.com/collabrelay/broker/internal/config"
	"github.com/collabrelay/broker/internal/event"
	"github.com/collabrelay/broker/internal/logger"
	"github.com/collabrelay/broker/internal/ratelimit"
	"github.com/collabrelay/broker/internal/telemetry"
	"github.com/collabrelay/broker/internal/transport/tcp"
	"github.com/collabrelay/broker/internal/transport/ws"
)

var (
	servePort   int
	serveWSPort int
	serveDebug  bool
)

// serveCmd starts the broker's listeners. Grounded on the teacher's
// cmd/mqtt-broker/main.go startup sequence (config -> logger -> cleaner
// -> database -> server), generalized to also start the optional
// WebSocket gateway and rate limiter.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the session broker",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "TCP port to listen on (overrides config)")
	serveCmd.Flags().IntVar(&serveWSPort, "ws-port", 0, "WebSocket port to listen on, 0 disables it (overrides config)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return apperr.Boundary(apperr.ErrConfig, err, "loading config")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("ws-port") {
		cfg.WSPort = serveWSPort
	}
	if cmd.Flags().Changed("debug") {
		cfg.DebugMode = serveDebug
	}

	loggerShutdown := logger.Init(cfg.DebugMode, "logs")
	logger.Info("collabrelay starting up")

	cleaner := event.NewCleaner()
	cleaner.Init(loggerShutdown)

	if cfg.SentryDSN != "" {
		if err := telemetry.Init(cfg.SentryDSN, cfg.AppName); err != nil {
			logger.WarnF("sentry init failed, continuing without error reporting: %v", err)
		} else {
			cleaner.Add(telemetry.NewFlushCallback())
		}
	}

	var sink broker.Sink = broker.NoopSink{}
	if cfg.AuditEnabled() {
		if err := audit.Connect(cfg.Database, cfg.AppName); err != nil {
			err = apperr.Boundary(apperr.ErrAuditSink, err, "connecting audit database")
			logger.ErrorF("audit sink unavailable, shutting down: %v", err)
			telemetry.Capture(err)
			return err
		}
		cleaner.Add(audit.NewCloseCallback())
		sink = audit.NewMongoSink()
	}

	b := broker.New(sink)
	go b.Run()

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	cleaner.Add(ratelimit.NewCloseCallback(limiter))

	tcpServer := tcp.New(b, limiter)
	errCh := make(chan error, 2)
	go func() {
		if err := tcpServer.ListenAndServe(cfg.Port); err != nil {
			errCh <- apperr.Boundary(apperr.ErrListenerBind, err, "tcp listener")
		}
	}()

	var gateway *ws.Gateway
	if cfg.WSPort != 0 {
		gateway = ws.New(b, limiter)
		go func() {
			if err := gateway.ListenAndServe(fmt.Sprintf(":%d", cfg.WSPort)); err != nil {
				errCh <- apperr.Boundary(apperr.ErrListenerBind, err, "websocket gateway")
			}
		}()
	}

	err = <-errCh
	logger.ErrorF("listener failed, shutting down: %v", err)
	telemetry.Capture(err)
	return err
}
