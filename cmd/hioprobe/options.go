// File: cmd/hioprobe/options.go
// Author: momentics <momentics@gmail.com>

package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/control"
)

// options holds the command line. Flags the user set override the file.
type options struct {
	configPath     string
	watch          bool
	metricsAddr    string
	targets        []string
	dispatchers    int
	strategy       string
	connectTimeout time.Duration
	interval       time.Duration
	rounds         int
	logLevel       string
	development    bool

	fs *pflag.FlagSet
}

func newOptions() *options {
	def := control.DefaultConfig()
	return &options{
		dispatchers:    def.Reactor.Dispatchers,
		strategy:       def.Pool.Strategy,
		connectTimeout: def.Transport.ConnectTimeout.Duration,
		interval:       def.Probe.Interval.Duration,
		rounds:         def.Probe.Rounds,
		logLevel:       def.Log.Level,
	}
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	o.fs = fs
	fs.StringVarP(&o.configPath, "config", "c", o.configPath, "TOML configuration file.")
	fs.BoolVar(&o.watch, "watch", o.watch, "Reload the configuration file when it changes.")
	fs.StringVar(&o.metricsAddr, "metrics-addr", o.metricsAddr, "Serve Prometheus metrics on this address.")
	fs.StringSliceVarP(&o.targets, "target", "t", o.targets, "Repeatable host:port to probe.")
	fs.IntVar(&o.dispatchers, "dispatchers", o.dispatchers, "Number of reactor dispatchers.")
	fs.StringVar(&o.strategy, "pool-strategy", o.strategy, "Buffer pool strategy: simple, sharded or reclaimable.")
	fs.DurationVar(&o.connectTimeout, "connect-timeout", o.connectTimeout, "Connect timeout per probe.")
	fs.DurationVar(&o.interval, "interval", o.interval, "Delay between rounds of one target.")
	fs.IntVar(&o.rounds, "rounds", o.rounds, "Rounds per target; 0 runs until interrupted.")
	fs.StringVarP(&o.logLevel, "log-level", "v", o.logLevel, "Zap level name or logr verbosity 0..3.")
	fs.BoolVar(&o.development, "log-development", o.development, "Human readable development logging.")
}

func (o *options) changed(name string) bool {
	return o.fs != nil && o.fs.Changed(name)
}

// config loads the file, if any, and applies the flags the user set.
func (o *options) config() (*control.Config, error) {
	cfg := control.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = control.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.changed("target") {
		cfg.Probe.Targets = append([]string(nil), o.targets...)
	}
	if o.changed("dispatchers") {
		cfg.Reactor.Dispatchers = o.dispatchers
	}
	if o.changed("pool-strategy") {
		cfg.Pool.Strategy = o.strategy
	}
	if o.changed("connect-timeout") {
		cfg.Transport.ConnectTimeout = control.D(o.connectTimeout)
	}
	if o.changed("interval") {
		cfg.Probe.Interval = control.D(o.interval)
	}
	if o.changed("rounds") {
		cfg.Probe.Rounds = o.rounds
	}
	if o.changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if o.changed("log-development") {
		cfg.Log.Development = o.development
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Probe.Targets) == 0 {
		return nil, fmt.Errorf("hioprobe: no targets, use --target or [probe] targets: %w", api.ErrInvalidArgument)
	}
	if o.watch && o.configPath == "" {
		return nil, fmt.Errorf("hioprobe: --watch needs --config: %w", api.ErrInvalidArgument)
	}
	return cfg, nil
}
