package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akmonengine/tether"
	"github.com/akmonengine/tether/netsync"
	"github.com/akmonengine/tether/transport/ws"
)

func main() {
	var (
		configPath string
		listen     string
		frames     uint64
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML config, defaults are used when empty")
	flag.StringVar(&listen, "listen", "", "address to serve /sync and /debug/vars on, overrides the config")
	flag.Uint64Var(&frames, "frames", 0, "stop after this many frames, 0 runs until interrupted")
	flag.Parse()

	logger := log.New(os.Stderr, "tether-authority ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if listen != "" {
		cfg.Listen = listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, frames, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg fileConfig, frames uint64, logger *log.Logger) error {
	world, err := tether.NewWorld(cfg.World,
		tether.WithLogger(tether.WrapLogger(logger)),
		tether.WithMetrics(newExpvarMetrics("tether")),
	)
	if err != nil {
		return fmt.Errorf("create world: %w", err)
	}
	if err := populate(world, cfg.Scene); err != nil {
		return err
	}

	hub := ws.NewHub(ws.HandlerConfig{Logger: logger})
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", hub.Handle)
	mux.Handle("/debug/vars", expvar.Handler())
	server := &http.Server{Addr: cfg.Listen, Handler: mux}

	logger.Printf("serving %d bodies on %s, %s solver, timestep %s", len(world.Bodies()), cfg.Listen, cfg.World.Solver, cfg.World.FixedTimestep)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		return simulate(ctx, world, hub, frames, logger)
	})
	return g.Wait()
}

// simulate steps world on a fixed clock and publishes every frame
func simulate(ctx context.Context, world *tether.World, hub *ws.Hub, frames uint64, logger *log.Logger) error {
	dt := world.Config().FixedTimestep
	bridge := netsync.NewBridge(0)

	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	for frames == 0 || world.Frame() < frames {
		select {
		case <-ctx.Done():
			logger.Printf("stopping at frame %d", world.Frame())
			return nil
		case <-ticker.C:
		}

		if err := world.StepContext(ctx, dt); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("step frame %d: %w", world.Frame()+1, err)
		}

		state, ok := world.LatestFrameState()
		if !ok {
			continue
		}
		if err := hub.Publish(bridge.FromFrameState(state)); err != nil {
			return fmt.Errorf("publish frame %d: %w", state.Frame, err)
		}
		if state.Frame%600 == 0 {
			logger.Printf("frame %d checksum %#016x, %d subscribers", state.Frame, state.Checksum, hub.Subscribers())
		}
	}
	logger.Printf("reached frame %d", world.Frame())
	return nil
}
