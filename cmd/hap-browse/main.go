// hap-browse lists the HAP accessories advertised on the local network.
//
// Usage:
//
//	hap-browse [-timeout 3s] [-unpaired]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/hap/examples/browse"
)

func main() {
	opts := browse.DefaultOptions()
	flag.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Browse duration")
	flag.BoolVar(&opts.Unpaired, "unpaired", false, "Only list accessories that are not paired")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := browse.Accessories(ctx, opts)
	if err != nil {
		log.Fatalf("Browse failed: %v", err)
	}
	if len(services) == 0 {
		log.Println("No accessories found")
		return
	}
	browse.Print(os.Stdout, services)
}
