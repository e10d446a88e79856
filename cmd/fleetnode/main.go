// Command fleetnode runs a single frame-fleet worker node: it connects to
// the broker, wires up heartbeat/RB/dispatch, and serves ambient
// health/metrics endpoints until signaled to shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/adred-codev/frame-fleet/internal/broker"
	"github.com/adred-codev/frame-fleet/internal/config"
	"github.com/adred-codev/frame-fleet/internal/detector"
	"github.com/adred-codev/frame-fleet/internal/logging"
	"github.com/adred-codev/frame-fleet/internal/metrics"
	"github.com/adred-codev/frame-fleet/internal/node"
	"github.com/adred-codev/frame-fleet/internal/videoio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetnode: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New("info", "json")

	undoMaxProcs, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Info().Msgf(format, args...)
	}))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to adjust GOMAXPROCS for container limits")
	}
	defer undoMaxProcs()

	cfg, err := config.Load(&logger)
	if err != nil {
		return err
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		nodeID = fmt.Sprintf("node-%d", os.Getpid())
	}

	sink := metrics.New()
	sampler := metrics.NewSystemSampler()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerCfg := broker.DefaultConfig(cfg.BrokerURL())
	client, err := broker.Dial(ctx, brokerCfg, sink, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer client.Close()

	// The fleet's node set is not independently discovered; it is sized by
	// the heartbeat tracker's live view, since membership is implicit in
	// who is currently heartbeating.
	var n *node.Node
	nodeCount := func() int {
		if l := n.Tracker().Len(); l > 0 {
			return l
		}
		return 1
	}

	det := detector.NewStubDetector(nil)
	n = node.New(nodeID, client, det, videoio.Container{}, logger, sink, cfg.UseHashRB, nodeCount)
	if err := n.Wire(); err != nil {
		return fmt.Errorf("failed to subscribe node topics: %w", err)
	}

	ops := node.NewOpsServer(cfg.HTTPAddr, n)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.RunHeartbeatPublisher(cfg.HeartbeatInterval, gctx.Done())
		return nil
	})

	g.Go(func() error {
		n.Tracker().RunSwapper(cfg.HeartbeatInterval, gctx.Done())
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(metrics.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sampler.Sample()
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("ops server listening")
		return ops.ListenAndServe()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return ops.Shutdown(shutdownCtx)
	})

	logger.Info().Str("node_id", nodeID).Msg("fleetnode started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("fleetnode exited with error")
		return err
	}

	logger.Info().Msg("fleetnode shut down cleanly")
	return nil
}
