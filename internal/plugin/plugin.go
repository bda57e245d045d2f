// Package plugin discovers and runs the operator-supplied executables hooked
// into the receiver. Plugins live in one directory per event:
//
//	<plugin dir>/test/   run on every check request
//	<plugin dir>/store/  run once for every stored artifact
//
// and run in lexicographic path order, so numeric prefixes such as "001_" and
// "002_" give a deterministic sequence. Each plugin is invoked as
//
//	<plugin> -s <site> -i <artifact path or "">
//
// Plugins are advisory: a plugin that fails to launch or exits non-zero is
// recorded and the chain carries on. Nothing a plugin does changes the outcome
// of the request that triggered it.
package plugin

import (
	"time"
)

// Event selects the plugin directory and the arguments a plugin receives.
type Event string

const (
	EventCheck  Event = "test"
	EventIngest Event = "store"
)

// Plugin is one discovered executable.
type Plugin struct {
	Path  string
	Event Event
}

// Result is the outcome of a single plugin invocation.
type Result struct {
	Plugin   Plugin
	ExitCode int

	// Err is set when the plugin could not be launched or was stopped before
	// it exited on its own. ExitCode is -1 in that case.
	Err error

	Duration time.Duration
}

// Succeeded reports whether the plugin ran and exited with status 0.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}
