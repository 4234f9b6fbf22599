package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/chatgate/internal/alert"
	"github.com/ppiankov/chatgate/internal/audit"
	"github.com/ppiankov/chatgate/internal/config"
	"github.com/ppiankov/chatgate/internal/integrity"
	"github.com/ppiankov/chatgate/internal/proxy"
	"github.com/ppiankov/chatgate/internal/report"
	"github.com/ppiankov/chatgate/internal/server"
)

var (
	serveListen   string
	serveGRPC     string
	serveUpstream string
	serveNoGRPC   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveGRPC, "grpc-listen", "", "gRPC listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "Backend chat endpoint URL (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoGRPC, "no-grpc", false, "Do not start the gRPC admission service")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gating proxy",
	Long:  "Runs the HTTP gating proxy in front of the chat backend and, unless disabled,\nthe gRPC admission service. The config file is watched and hot-reloaded.",
	RunE:  runServe,
}

func proxyConfig(cfg *config.Config, logger *slog.Logger) proxy.Config {
	return proxy.Config{
		Listen:             cfg.Listen,
		ChatPath:           cfg.ChatPath,
		Upstream:           cfg.Upstream,
		UpstreamTimeout:    cfg.UpstreamTimeout(),
		TrustForwarded:     cfg.TrustForwarded,
		PlaceholderAddress: cfg.PlaceholderAddress,
		Logger:             logger,
	}
}

func applyServeFlags(cfg *config.Config) {
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveGRPC != "" {
		cfg.GRPCListen = serveGRPC
	}
	if serveUpstream != "" {
		cfg.Upstream = serveUpstream
	}
	if serveNoGRPC {
		cfg.GRPCListen = ""
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg)
	logger := cfg.Log.NewLogger(os.Stderr)

	alerts := alert.NewDispatcher(cfg.Alerts, logger)
	if err := integrity.NewVerifier(cfg.TamperLog, alerts, logger).Verify(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, backend, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	var auditLog *audit.Log
	if cfg.AuditLog != "" {
		auditLog, err = audit.Open(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	}
	recorder := report.NewRecorder(auditLog, alerts, hash, logger)
	defer recorder.Close()

	proxySrv, err := proxy.NewServer(proxyConfig(cfg, logger), engine, recorder)
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}

	path := resolvedConfigPath()
	reloader, err := config.NewReloader([]string{path}, func() error {
		next, nextHash, err := config.LoadWithHash(path)
		if err != nil {
			return err
		}
		applyServeFlags(next)
		if err := proxySrv.Reload(proxyConfig(next, logger)); err != nil {
			return err
		}
		recorder.SetAlerts(alert.NewDispatcher(next.Alerts, logger), nextHash)
		logger.Info("config applied", "config_hash", nextHash)
		return nil
	}, logger)
	if err != nil {
		logger.Warn("hot-reload disabled", "error", err)
	} else {
		go reloader.Run(ctx)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- proxySrv.Start(ctx) }()

	var grpcSrv *server.Server
	if cfg.GRPCListen != "" {
		grpcSrv = server.New(server.Config{Listen: cfg.GRPCListen, Logger: logger}, engine, recorder)
		go func() { errCh <- grpcSrv.Serve() }()
	}

	logger.Info("chatgate listening",
		"http", cfg.Listen,
		"grpc", cfg.GRPCListen,
		"upstream", cfg.Upstream,
		"store", cfg.Store.Kind,
		"config_hash", hash)

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
	}

	logger.Info("shutting down")
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := proxySrv.Stop(shutdownCtx); serr != nil && !errors.Is(serr, context.Canceled) {
		logger.Warn("proxy shutdown", "error", serr)
	}
	return err
}
