package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/puppycloud/puppycloud/internal/app"
	"github.com/puppycloud/puppycloud/internal/config"
	"github.com/puppycloud/puppycloud/internal/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "expire-user" {
		if err := runExpireUser(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadFrom(".env", os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := app.New(cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer node.Close()

	if err := node.Start(ctx); err != nil {
		log.Error("startup failed", "err", err)
		node.Close()
		os.Exit(1)
	}
	if err := node.Serve(ctx); err != nil {
		log.Error("http server stopped", "err", err)
		node.Close()
		os.Exit(1)
	}
}
