// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness dispatcher: a single-goroutine event
// loop that multiplexes many non-blocking channels, fires per-handler
// deadlines and runs tasks posted from other goroutines. Group composes
// several dispatchers behind one registration surface.
package reactor
