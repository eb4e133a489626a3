package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	cfg, err := LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Infof("🚀 Starting WhatsApp bridge %q...", cfg.Instance)
	defer recoverTo(logger, "main")

	state := NewBridgeState()
	relay := NewRelay(cfg.WebhookURL, cfg.Instance, cfg.WebhookTimeout, logger.Sub("Relay"))
	sessions := NewSQLiteSessionStore(cfg.SessionDir, logger.Sub("Database"))

	var qrOut io.Writer
	if cfg.PrintQR {
		qrOut = os.Stdout
	}
	supervisor := NewSupervisor(SupervisorConfig{
		SessionName:        cfg.SessionName,
		RestartDelay:       cfg.RestartDelay,
		WipeOnUnauthorized: cfg.WipeOnUnauthorized,
		QROut:              qrOut,
	}, sessions, newWhatsmeowFactory(logger.Sub("Client")), state, relay, logger.Sub("Supervisor"))

	// Bind before the first connection attempt so the port is live while
	// the WhatsApp handshake runs.
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		logger.Errorf("Failed to listen on port %s: %v", cfg.Port, err)
		os.Exit(1)
	}
	httpLog := logger.Sub("HTTP")
	srv := &http.Server{
		Handler:           NewServer(state, supervisor, cfg.Instance, httpLog).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	safeGo(httpLog, "http server", func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpLog.Errorf("❌ Server error: %v", err)
		}
	})
	logger.Infof("🌐 Listening on http://localhost:%s", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor.Run(ctx)
	<-ctx.Done()

	fmt.Println("👋 Shutting down...")
	supervisor.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
