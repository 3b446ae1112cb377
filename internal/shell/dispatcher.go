package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KaramelBytes/dataforge-cli/internal/backend"
	"github.com/KaramelBytes/dataforge-cli/internal/logging"
	"github.com/KaramelBytes/dataforge-cli/internal/metrics"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("shell dispatcher closed")

type result struct {
	out string
	err error
}

type job struct {
	ctx   context.Context
	name  string
	run   func(context.Context, *backend.Backend) (string, error)
	reply chan result
}

// Dispatcher runs commands one at a time on a single goroutine that owns the
// backend. Callers block until their command's output is ready.
type Dispatcher struct {
	jobs chan job
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker goroutine for b.
func NewDispatcher(b *backend.Backend) *Dispatcher {
	d := &Dispatcher{jobs: make(chan job), done: make(chan struct{})}
	go d.loop(b)
	return d
}

func (d *Dispatcher) loop(b *backend.Backend) {
	defer close(d.done)
	for j := range d.jobs {
		start := time.Now()
		out, err := runJob(j, b)
		took := time.Since(start)
		metrics.RecordCommand(j.name, err, took)
		logging.WithCommand(j.name).Debug("command finished", "took", took, "error", err)
		j.reply <- result{out: out, err: err}
	}
}

func runJob(j job, b *backend.Backend) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: internal error: %v", j.name, r)
		}
	}()
	return j.run(j.ctx, b)
}

// Do queues run under the command name and waits for its output.
func (d *Dispatcher) Do(ctx context.Context, name string, run func(context.Context, *backend.Backend) (string, error)) (string, error) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return "", ErrClosed
	}
	j := job{ctx: ctx, name: name, run: run, reply: make(chan result, 1)}
	select {
	case d.jobs <- j:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return "", ctx.Err()
	}
	select {
	case r := <-j.reply:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops accepting commands and waits for the running one to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	<-d.done
}
