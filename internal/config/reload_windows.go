//go:build windows

package config

// registerSignalHandler is a no-op on Windows, which has no SIGHUP.
func (r *Reloader) registerSignalHandler() {}
