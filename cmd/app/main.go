package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dex_go/internal/app"
	"dex_go/internal/infra/wsapi"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. System Bootstrapping (config, logger, storage, recovery)
	bootstrap := app.NewBootstrap("configs/config.yaml")
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 3. Pprof Server (for performance profiling)
	if cfg.Server.PprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", cfg.Server.PprofAddr))
			if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 4. Start Sequencer in its own goroutine (The Hotpath Loop)
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		bootstrap.Sequencer.Run(ctx)
	}()
	slog.InfoContext(ctx, "✅ Sequencer (Hotpath) started", slog.Uint64("next_seq", bootstrap.Sequencer.NextSeq()))

	// 5. WebSocket Gateway
	server := wsapi.NewServer(bootstrap.Sequencer, bootstrap.Query, bootstrap.Metrics)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.ListenAndServe(ctx, cfg.Server.ListenAddr, cfg.Server.WSPath); err != nil {
			slog.Error("WebSocket server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ DEX settlement core fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal or a sequencer halt
	select {
	case <-ctx.Done():
	case err := <-bootstrap.Halted():
		slog.Error("SEQUENCER_HALTED", slog.Any("error", err))
		stop()
	}

	slog.Info("👋 Shutting down gracefully...")
	<-serverDone
	<-seqDone
	bootstrap.Close()
}
