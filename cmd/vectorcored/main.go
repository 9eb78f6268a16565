// Command vectorcored is the composition root that wires the core's
// ambient stack (logging, tracing, metrics) into a running
// store.Store and keeps its background auto-save loop alive until
// terminated. It exposes no transport of its own: HTTP/RPC/AI-assistant
// adapters are explicitly out of scope (spec §1) and are expected to
// embed this module's pkg/vectorcore.Store directly rather than shell out to this
// binary. Grounded on contextd's cmd/contextd/main.go signal-handling and
// graceful-shutdown shape, trimmed to the pieces that have a real home in
// this module's scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vectorcore/vectorcore/internal/obs"
	"github.com/vectorcore/vectorcore/internal/store"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "root directory for collection persistence")
	env := flag.String("env", "prod", "logging environment: prod or dev")
	flag.Parse()

	if len(flag.Args()) > 0 && flag.Arg(0) == "version" {
		fmt.Printf("vectorcored %s (%s)\n", version, gitCommit)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *dataDir, *env); err != nil {
		log.Fatalf("vectorcored: %v", err)
	}
	log.Println("vectorcored: shutdown complete")
}

func run(ctx context.Context, dataDir, env string) error {
	logger, err := obs.NewLogger(env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	tracing, err := obs.NewTracing(ctx, "vectorcored")
	if err != nil {
		logger.Warn("tracing init degraded", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background())

	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

	s, err := store.NewStore(dataDir, store.WithLogger(logger), store.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer s.Close()

	s.StartAutoSave(ctx)
	logger.Info("vectorcored started", zap.String("data_dir", dataDir))

	<-ctx.Done()
	return nil
}
