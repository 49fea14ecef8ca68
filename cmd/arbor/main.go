// Spins up the arbor server, serving lists and search trees over the Redis protocol.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nobletooth/arbor/pkg/config"
	"github.com/nobletooth/arbor/pkg/port"
	"github.com/nobletooth/arbor/pkg/store"
	"github.com/nobletooth/arbor/pkg/utils"
	"golang.org/x/sync/errgroup"
)

var printVersion = flag.Bool("print_version", false, "Print the version and exit.")

func main() {
	if err := config.InitFlags(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize flags:", err)
		os.Exit(2)
	}
	if err := utils.InitLogging(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logging:", err)
		os.Exit(2)
	}

	if *printVersion {
		slog.Info("Arbor build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() { // Listen for OS interrupts in the background.
		select {
		case sig := <-signals:
			slog.Info("Received termination signal, cancelling server context.", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx); err != nil {
		slog.Error("Arbor server stopped.", "err", err)
		os.Exit(1)
	}
}

// run serves Redis protocol and metrics until `ctx` is done or either server fails.
func run(ctx context.Context) error {
	ks, err := store.NewKeyspace()
	if err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return port.RunRedisServer(groupCtx, ks) })
	group.Go(func() error { return port.RunMetricsServer(groupCtx) })
	return group.Wait()
}
