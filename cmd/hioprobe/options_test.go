package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-io/api"
)

func parse(t *testing.T, args ...string) *options {
	t.Helper()
	o := newOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.addFlags(fs)
	require.NoError(t, fs.Parse(args))
	return o
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hioprobe.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[reactor]
dispatchers = 3

[probe]
targets = ["10.0.0.1:80"]
rounds = 4
interval = "3s"
`), 0o644))

	cfg, err := parse(t, "--config", path, "--rounds", "2", "-t", "10.0.0.2:80", "-t", "10.0.0.3:80").config()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Reactor.Dispatchers)
	require.Equal(t, 2, cfg.Probe.Rounds)
	require.Equal(t, 3*time.Second, cfg.Probe.Interval.Duration)
	require.Equal(t, []string{"10.0.0.2:80", "10.0.0.3:80"}, cfg.Probe.Targets)
}

func TestUnsetFlagsKeepDefaults(t *testing.T) {
	cfg, err := parse(t, "--target", "10.0.0.1:80", "--connect-timeout", "250ms").config()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.Transport.ConnectTimeout.Duration)
	require.Equal(t, 1, cfg.Reactor.Dispatchers)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestConfigErrors(t *testing.T) {
	_, err := parse(t).config()
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = parse(t, "-t", "10.0.0.1:80", "--watch").config()
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = parse(t, "-t", "10.0.0.1:80", "--pool-strategy", "magic").config()
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestRunRejectsBadFlags(t *testing.T) {
	require.Error(t, run(context.Background(), []string{"--no-such-flag"}))
	require.ErrorIs(t, run(context.Background(), nil), api.ErrInvalidArgument)
}
