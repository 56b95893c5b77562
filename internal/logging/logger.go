// File: internal/logging/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// logr front-end over zap with a shared atomic level.

package logging

import (
	"fmt"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for logger.V(...).
const (
	DEFAULT = 0
	VERBOSE = 1
	DEBUG   = 2
	TRACE   = 3
)

// New builds a logger at the given level. level is either a zap level name
// ("info", "error", ...) or a logr verbosity ("0".."3"). The returned
// AtomicLevel changes verbosity of the logger and everything derived from it.
func New(level string, development bool) (logr.Logger, zap.AtomicLevel, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Discard(), zap.AtomicLevel{}, err
	}
	atom := zap.NewAtomicLevelAt(lvl)
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = atom
	z, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), zap.AtomicLevel{}, fmt.Errorf("logging: build zap logger: %w", err)
	}
	return zapr.NewLogger(z), atom, nil
}

// SetLevel applies level to atom.
func SetLevel(atom zap.AtomicLevel, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	atom.SetLevel(lvl)
	return nil
}

// ParseLevel maps a level name or a logr verbosity to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	if v, err := strconv.Atoi(level); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("logging: negative verbosity %d", v)
		}
		return zapcore.Level(-v), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("logging: %w", err)
	}
	return lvl, nil
}

// NewTestLogger returns a development logger that prints every verbosity.
func NewTestLogger() logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-TRACE))
	z, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}
