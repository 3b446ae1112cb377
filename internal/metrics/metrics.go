// Package metrics is a small vendor-neutral seam for counters and histograms.
//
// Command and loader code records through the package-level helpers; the
// process installs a concrete Backend at startup (or leaves the no-op one).
package metrics

import (
	"sync"
	"time"
)

// Metric names recorded by dataforge.
const (
	CommandTotal    = "dataforge_command_total"
	CommandDuration = "dataforge_command_duration_seconds"
	RowsLoadedTotal = "dataforge_rows_loaded_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b; nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordCommand counts one shell or CLI command and observes its duration.
func RecordCommand(command string, err error, took time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"command": command, "status": status}
	b := current()
	b.IncCounter(CommandTotal, 1, l)
	b.ObserveHistogram(CommandDuration, took.Seconds(), l)
}

// RecordRowsLoaded counts rows registered from a source of the given format.
func RecordRowsLoaded(format string, rows int) {
	if rows <= 0 {
		return
	}
	current().IncCounter(RowsLoadedTotal, float64(rows), Labels{"format": format})
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}
