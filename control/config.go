// control/config.go
// Author: momentics <momentics@gmail.com>
//
// TOML configuration with defaults, validation and a thread-safe store that
// propagates reloads to listeners.

package control

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/internal/logging"
	"github.com/momentics/hioload-io/pool"
	"github.com/momentics/hioload-io/transport"
)

// Distribution names accepted in [reactor].
const (
	DistributionRoundRobin  = "round-robin"
	DistributionLeastLoaded = "least-loaded"
)

// Duration is a time.Duration written as a string ("250ms", "5s") in TOML.
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ReactorConfig struct {
	Dispatchers  int      `toml:"dispatchers"`
	MaxWait      Duration `toml:"max_wait"`
	EventBatch   int      `toml:"event_batch"`
	PinCPU       bool     `toml:"pin_cpu"`
	FirstCPU     int      `toml:"first_cpu"`
	Distribution string   `toml:"distribution"`
}

type PoolConfig struct {
	Strategy   string `toml:"strategy"`
	Capacity   int    `toml:"capacity"`
	BufferSize int    `toml:"buffer_size"`
	// Shards of the sharded strategy; zero means one per dispatcher.
	Shards int `toml:"shards"`
}

type TransportConfig struct {
	ConnectTimeout Duration `toml:"connect_timeout"`
	IdleTimeout    Duration `toml:"idle_timeout"`
	DrainTimeout   Duration `toml:"drain_timeout"`
	AcceptBatch    int      `toml:"accept_batch"`
	Backlog        int      `toml:"backlog"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set.
	Addr string `toml:"addr"`
}

type ProbeConfig struct {
	Targets  []string `toml:"targets"`
	Interval Duration `toml:"interval"`
	// Rounds per target; zero probes until interrupted.
	Rounds int `toml:"rounds"`
}

// Config is the full runtime configuration.
type Config struct {
	Reactor   ReactorConfig   `toml:"reactor"`
	Pool      PoolConfig      `toml:"pool"`
	Transport TransportConfig `toml:"transport"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Probe     ProbeConfig     `toml:"probe"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Reactor: ReactorConfig{
			Dispatchers:  1,
			MaxWait:      D(500 * time.Millisecond),
			EventBatch:   256,
			Distribution: DistributionRoundRobin,
		},
		Pool: PoolConfig{
			Strategy:   pool.StrategySharded,
			Capacity:   64,
			BufferSize: pool.DefaultBufferSize,
		},
		Transport: TransportConfig{
			ConnectTimeout: D(3 * time.Second),
			DrainTimeout:   D(transport.DefaultDrainTimeout),
			AcceptBatch:    64,
			Backlog:        1024,
		},
		Log:   LogConfig{Level: "info"},
		Probe: ProbeConfig{Interval: D(10 * time.Second), Rounds: 1},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Probe.Targets = append([]string(nil), c.Probe.Targets...)
	return &out
}

// LoadConfig overlays the TOML file at path onto the defaults and validates
// the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("control: load %s: %w", path, err)
	}
	return cfg, finishLoad(cfg, md)
}

// LoadConfigStr is LoadConfig for an in-memory document.
func LoadConfigStr(str string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(str, cfg)
	if err != nil {
		return nil, fmt.Errorf("control: decode: %w", err)
	}
	return cfg, finishLoad(cfg, md)
}

func finishLoad(cfg *Config, md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("control: unknown keys %s: %w", strings.Join(keys, ", "), api.ErrInvalidArgument)
	}
	return cfg.Validate()
}

func invalid(field string, v any) error {
	return fmt.Errorf("control: %s = %v: %w", field, v, api.ErrInvalidArgument)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	positive := func(field string, v int) {
		if v <= 0 {
			errs = append(errs, invalid(field, v))
		}
	}
	positiveDuration := func(field string, d Duration) {
		if d.Duration <= 0 {
			errs = append(errs, invalid(field, d))
		}
	}
	nonNegativeDuration := func(field string, d Duration) {
		if d.Duration < 0 {
			errs = append(errs, invalid(field, d))
		}
	}

	positive("reactor.dispatchers", c.Reactor.Dispatchers)
	positiveDuration("reactor.max_wait", c.Reactor.MaxWait)
	positive("reactor.event_batch", c.Reactor.EventBatch)
	if c.Reactor.FirstCPU < 0 {
		errs = append(errs, invalid("reactor.first_cpu", c.Reactor.FirstCPU))
	}
	switch c.Reactor.Distribution {
	case DistributionRoundRobin, DistributionLeastLoaded:
	default:
		errs = append(errs, invalid("reactor.distribution", c.Reactor.Distribution))
	}

	switch c.Pool.Strategy {
	case pool.StrategySimple, pool.StrategySharded, pool.StrategyReclaimable:
	default:
		errs = append(errs, invalid("pool.strategy", c.Pool.Strategy))
	}
	positive("pool.capacity", c.Pool.Capacity)
	positive("pool.buffer_size", c.Pool.BufferSize)
	if c.Pool.Shards < 0 {
		errs = append(errs, invalid("pool.shards", c.Pool.Shards))
	}

	positiveDuration("transport.connect_timeout", c.Transport.ConnectTimeout)
	nonNegativeDuration("transport.idle_timeout", c.Transport.IdleTimeout)
	positiveDuration("transport.drain_timeout", c.Transport.DrainTimeout)
	positive("transport.accept_batch", c.Transport.AcceptBatch)
	positive("transport.backlog", c.Transport.Backlog)

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, invalid("log.level", c.Log.Level))
	}

	positiveDuration("probe.interval", c.Probe.Interval)
	if c.Probe.Rounds < 0 {
		errs = append(errs, invalid("probe.rounds", c.Probe.Rounds))
	}
	return errors.Join(errs...)
}

// ConfigStore holds the current configuration and notifies listeners when it
// is replaced.
type ConfigStore struct {
	mu        sync.RWMutex
	config    *Config
	listeners []func(old, updated *Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg *Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// Current returns the active configuration. Callers must not modify it.
func (cs *ConfigStore) Current() *Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set validates cfg, makes it current and runs the reload listeners in
// registration order on the calling goroutine.
func (cs *ConfigStore) Set(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	old := cs.config
	cs.config = cfg
	listeners := append([]func(old, updated *Config)(nil), cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(old, cfg)
	}
	return nil
}

// OnReload registers a listener called after every successful Set.
func (cs *ConfigStore) OnReload(fn func(old, updated *Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
