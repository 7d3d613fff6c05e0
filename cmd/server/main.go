// Command server runs the Greedy Pirates orchestrator.
//
// The server listens for player connections, relays encrypted bid shares
// between them and runs the round lifecycle. It never sees a plaintext bid
// on the wire: it verifies bids through its own encrypted share, like any
// other recipient.
//
// # Configuration
//
// Settings come from built-in defaults, an optional YAML file and PIRATES_*
// environment variables. Write a starter file with:
//
//	go run ./cmd/server --init-config=pirates.yaml
//
// # Usage
//
//	go run ./cmd/server --config=pirates.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinWeiss1995/GreedyPirates/config"
	"github.com/KevinWeiss1995/GreedyPirates/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		initConfig = flag.String("init-config", "", "Write a default config file to this path and exit")
	)
	flag.Parse()

	if *initConfig != "" {
		if err := config.WriteDefault(*initConfig); err != nil {
			fmt.Printf("Write config error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", *initConfig)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	srv, err := server.New(cfg, log)
	if err != nil {
		fmt.Printf("Create server error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		fmt.Printf("Start error: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
