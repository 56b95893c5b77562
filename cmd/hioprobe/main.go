// File: cmd/hioprobe/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioprobe measures TCP connect latency to a set of targets through the
// reactor, the asynchronous connector and the buffer pools.
//
// Usage:
//
//	hioprobe --target 10.0.0.1:443 --target 10.0.0.2:443 --rounds 5 --interval 2s
//	hioprobe --config hioprobe.toml --watch --metrics-addr :9102
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-io/control"
	"github.com/momentics/hioload-io/internal/logging"
	"github.com/momentics/hioload-io/internal/probe"
	"github.com/momentics/hioload-io/pool"
	"github.com/momentics/hioload-io/reactor"
	"github.com/momentics/hioload-io/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hioprobe:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts := newOptions()
	fs := pflag.NewFlagSet("hioprobe", pflag.ContinueOnError)
	opts.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	log, atom, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}

	metrics := control.NewMetrics()
	shards := cfg.Pool.Shards
	if shards == 0 {
		shards = cfg.Reactor.Dispatchers
	}
	arena, err := pool.NewBufferArena(cfg.Pool.Strategy, cfg.Pool.Capacity, shards, cfg.Pool.BufferSize)
	if err != nil {
		return err
	}
	if err := metrics.RegisterPool("buffers", arena); err != nil {
		return err
	}

	group, err := reactor.NewGroup(cfg.Reactor.Dispatchers, reactorOptions(cfg, log, arena, metrics)...)
	if err != nil {
		return err
	}
	registry := transport.NewRegistry(0)
	connector := transport.NewConnector(group,
		transport.WithLogger(log),
		transport.WithRegistry(registry),
		transport.WithIdleTimeout(cfg.Transport.IdleTimeout.Duration),
		transport.WithDrainTimeout(cfg.Transport.DrainTimeout.Duration),
	)
	prober, err := probe.New(connector, probe.Config{
		Targets:  cfg.Probe.Targets,
		Interval: cfg.Probe.Interval.Duration,
		Timeout:  cfg.Transport.ConnectTimeout.Duration,
		Rounds:   cfg.Probe.Rounds,
	}, probe.WithLogger(log))
	if err != nil {
		return err
	}

	store := control.NewConfigStore(cfg)
	store.OnReload(func(_, updated *control.Config) {
		if err := logging.SetLevel(atom, updated.Log.Level); err != nil {
			log.Error(err, "log level not applied")
		}
		prober.SetInterval(updated.Probe.Interval.Duration)
		prober.SetTimeout(updated.Transport.ConnectTimeout.Duration)
	})

	probes := control.NewDebugProbes()
	control.RegisterRuntimeProbes(probes)
	probes.RegisterProbe("pool.stats", func() any { return arena.Stats().String() })
	probes.RegisterProbe("pool.pooled", func() any { return arena.NumPooled() })
	probes.RegisterProbe("reactor.loads", func() any { return group.Loads() })
	probes.RegisterProbe("transport.connections", func() any { return registry.Len() })
	probes.RegisterProbe("probe.pending", func() any { return prober.Pending() })

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return group.Run(ctx) })
	if cfg.Metrics.Addr != "" {
		serveMetrics(ctx, eg, cfg.Metrics.Addr, metrics, log)
	}
	if opts.watch {
		eg.Go(func() error { return control.Watch(ctx, opts.configPath, store, log) })
	}
	eg.Go(func() error {
		defer cancel()
		return prober.Run(ctx)
	})

	log.Info("probing", "targets", prober.Targets(), "dispatchers", cfg.Reactor.Dispatchers,
		"pool", cfg.Pool.Strategy, "rounds", cfg.Probe.Rounds)
	err = eg.Wait()
	if n := registry.AbortAll(context.Canceled); n > 0 {
		log.V(logging.DEBUG).Info("aborted leftover connections", "count", n)
	}
	fmt.Print(probes.String())
	syncLogger(log)
	return err
}

func reactorOptions(cfg *control.Config, log logr.Logger, arena pool.Arena[*pool.Buffer], obs reactor.Observer) []reactor.Option {
	opts := []reactor.Option{
		reactor.WithLogger(log),
		reactor.WithMaxWait(cfg.Reactor.MaxWait.Duration),
		reactor.WithEventBatch(cfg.Reactor.EventBatch),
		reactor.WithBufferArena(arena),
		reactor.WithObserver(obs),
	}
	if cfg.Reactor.Distribution == control.DistributionLeastLoaded {
		opts = append(opts, reactor.WithDistribution(reactor.LeastLoaded{}))
	}
	if cfg.Reactor.PinCPU {
		opts = append(opts, reactor.WithCPU(cfg.Reactor.FirstCPU))
	}
	return opts
}

func serveMetrics(ctx context.Context, eg *errgroup.Group, addr string, m *control.Metrics, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	eg.Go(func() error {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// syncLogger flushes the zap core behind log.
func syncLogger(log logr.Logger) {
	if u, ok := log.GetSink().(zapr.Underlier); ok {
		_ = u.GetUnderlying().Sync()
	}
}
