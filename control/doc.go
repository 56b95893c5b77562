// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot-reload, metrics and debug introspection layer.
//
// Provides:
//   - TOML configuration with defaults and validation
//   - A ConfigStore whose listeners see every accepted reload
//   - An fsnotify watcher feeding the store
//   - Prometheus metrics for dispatchers and pools
//   - Named debug probes dumped on demand
package control
