// Command streamcheck writes account streams to a store and verifies they
// read back exactly as written.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/terraskye/eventstream/internal/cmd/streamcheck"
)

func main() {
	cfg, err := streamcheck.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := streamcheck.Run(ctx, cfg); err != nil {
		log.Fatalf("streamcheck: %v", err)
	}
}
