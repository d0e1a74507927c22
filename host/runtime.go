package host

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/wippyai/mapstyle-bridge/errors"
	"github.com/wippyai/mapstyle-bridge/handle"
)

// Runtime owns the handle table, the class registry and the execution
// context shared by every proxy it creates.
type Runtime struct {
	table   *handle.Table
	classes map[string]*Class
	fields  map[*handleField]struct{}
	log     *zap.Logger
	env     *Env

	envMu    sync.Mutex
	classMu  sync.RWMutex
	fieldsMu sync.Mutex
	owner    atomic.Int64

	attaches    atomic.Uint64
	collected   atomic.Uint64
	invalidated atomic.Uint64
	closed      atomic.Bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger overrides the package logger for one runtime.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTable uses an existing handle table instead of a fresh one.
func WithTable(t *handle.Table) Option {
	return func(r *Runtime) {
		if t != nil {
			r.table = t
		}
	}
}

// New creates a runtime with an empty handle table and no registered classes.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		table:   handle.NewTable(),
		classes: make(map[string]*Class),
		fields:  make(map[*handleField]struct{}),
		log:     Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Env is the host execution context. It is only valid until the release
// function returned alongside it runs.
type Env struct {
	rt  *Runtime
	gid int64
}

// Runtime returns the runtime the env belongs to.
func (e *Env) Runtime() *Runtime { return e.rt }

// AttachEnv acquires the host execution context for the calling goroutine.
// If the goroutine already holds it, the existing env is returned with a
// no-op release. The release function must be called exactly once.
func (r *Runtime) AttachEnv() (*Env, func()) {
	gid := goid.Get()
	if r.owner.Load() == gid {
		return r.env, func() {}
	}

	r.envMu.Lock()
	r.owner.Store(gid)
	env := &Env{rt: r, gid: gid}
	r.env = env
	r.attaches.Add(1)

	var once sync.Once
	return env, func() {
		once.Do(func() {
			r.env = nil
			r.owner.Store(0)
			r.envMu.Unlock()
		})
	}
}

// Handles exposes the runtime's handle table, mainly for observers.
func (r *Runtime) Handles() *handle.Table {
	return r.table
}

// Lookup resolves the value behind a proxy's handle field.
func (r *Runtime) Lookup(p *Proxy) (any, bool) {
	if p == nil || p.rt != r {
		return nil, false
	}
	return r.table.Get(p.Handle())
}

// Len returns the number of proxies whose handle is still live.
func (r *Runtime) Len() int {
	return r.table.Len()
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	// Attaches counts env acquisitions that were not already held by the caller.
	Attaches uint64
	// Collected counts proxies whose collection ran a native destructor.
	Collected uint64
	// Invalidated counts handle fields cleared by native teardown.
	Invalidated uint64
	// Handles is the number of live handles.
	Handles int
}

// Stats returns current counters.
func (r *Runtime) Stats() Stats {
	return Stats{
		Attaches:    r.attaches.Load(),
		Collected:   r.collected.Load(),
		Invalidated: r.invalidated.Load(),
		Handles:     r.table.Len(),
	}
}

// Close clears the handle field of every live proxy, destroys every peer
// still referenced from the table and rejects new proxies. Safe to call more
// than once.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.fieldsMu.Lock()
	fields := r.fields
	r.fields = make(map[*handleField]struct{})
	r.fieldsMu.Unlock()

	cleared := 0
	for f := range fields {
		if f.h.Swap(0) != 0 {
			cleared++
		}
	}
	r.invalidated.Add(uint64(cleared))

	r.log.Debug("runtime closing",
		zap.Int("handles", r.table.Len()),
		zap.Int("cleared", cleared))
	return r.table.Close()
}

func (r *Runtime) track(f *handleField) {
	r.fieldsMu.Lock()
	r.fields[f] = struct{}{}
	r.fieldsMu.Unlock()
}

func (r *Runtime) untrack(f *handleField) {
	r.fieldsMu.Lock()
	delete(r.fields, f)
	r.fieldsMu.Unlock()
}

func (r *Runtime) checkOpen() error {
	if r.closed.Load() {
		return errors.Closed(errors.PhaseHost, "runtime")
	}
	return nil
}
