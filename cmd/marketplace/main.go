// Package main starts the marketplace service and handles termination.
//
// The process hosts the listing lifecycle API and the notification push
// channel behind a single HTTP listener.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	marketplacecmd "github.com/campuswork/campuswork/internal/cmd/marketplace"
)

func main() {
	cfg, err := marketplacecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[MARKETPLACE] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := marketplacecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
