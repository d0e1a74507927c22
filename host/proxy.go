package host

import (
	"runtime"
	"sync/atomic"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/wippyai/mapstyle-bridge/errors"
	"github.com/wippyai/mapstyle-bridge/handle"
)

// Proxy is the garbage-collected object application code holds.
// Its handle field is the only reference to the native peer.
type Proxy struct {
	rt    *Runtime
	class *Class
	field *handleField
}

// handleField is kept apart from Proxy so the collection cleanup can read it
// without keeping the proxy reachable.
type handleField struct {
	h atomic.Uint32
}

// NewProxy publishes value in the handle table and returns a proxy of class c
// whose handle field references it. When the proxy is collected while the
// field is still set, the value is removed from the table and, if it
// implements handle.Dropper, destroyed.
func (r *Runtime) NewProxy(c *Class, value any) (*Proxy, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "proxy class cannot be nil")
	}
	if registered, ok := r.Class(c.name); !ok || registered != c {
		return nil, errors.NotInitialized(errors.PhaseHost, "class "+c.name)
	}

	h, err := r.table.Insert(value)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindClosed, err, "publish native peer")
	}

	p := &Proxy{
		rt:    r,
		class: c,
		field: &handleField{},
	}
	p.field.h.Store(uint32(h))
	r.track(p.field)
	runtime.AddCleanup(p, r.collect, p.field)

	r.log.Debug("proxy created",
		zap.String("class", c.name),
		zap.Uint32("handle", uint32(h)))
	return p, nil
}

// collect runs on the runtime's cleanup goroutine after a proxy is unreachable.
func (r *Runtime) collect(f *handleField) {
	_, release := r.AttachEnv()
	defer release()

	r.untrack(f)
	h := handle.Handle(f.h.Swap(0))
	if h == handle.Null {
		return
	}
	r.collected.Add(1)
	r.log.Debug("proxy collected", zap.Uint32("handle", uint32(h)))
	r.table.Remove(h)
}

// Runtime returns the runtime that created the proxy.
func (p *Proxy) Runtime() *Runtime { return p.rt }

// Class returns the proxy's class.
func (p *Proxy) Class() *Class { return p.class }

// Handle returns the current value of the handle field.
func (p *Proxy) Handle() handle.Handle {
	return handle.Handle(p.field.h.Load())
}

// Valid reports whether the handle field still references a native peer.
func (p *Proxy) Valid() bool {
	return p.Handle() != handle.Null
}

// Invalidate clears the handle field and forgets the table entry without
// running its destructor. It reports false if the field was already clear.
// env must be held by the calling goroutine.
func (p *Proxy) Invalidate(env *Env) bool {
	if env == nil || env.rt != p.rt || env.gid != goid.Get() {
		panic(errors.Invariant(errors.PhaseHost, "", "handle field written without an attached env"))
	}

	p.rt.untrack(p.field)
	h := handle.Handle(p.field.h.Swap(0))
	if h == handle.Null {
		return false
	}
	p.rt.table.Release(h)
	p.rt.invalidated.Add(1)
	p.rt.log.Debug("proxy invalidated",
		zap.String("class", p.class.name),
		zap.Uint32("handle", uint32(h)))
	return true
}

// Call invokes a native method of the proxy's class on its peer.
func (p *Proxy) Call(method string) (string, error) {
	m, ok := p.class.Method(method)
	if !ok {
		return "", errors.New(errors.PhaseHost, errors.KindNotFound).
			Detail("class %s has no native method %s", p.class.name, method).
			Build()
	}

	env, release := p.rt.AttachEnv()
	defer release()

	peer, ok := p.rt.table.Get(p.Handle())
	if !ok {
		return "", errors.New(errors.PhaseHost, errors.KindNotInitialized).
			Detail("%s.%s is 0", p.class.name, p.class.field).
			Build()
	}
	return m(env, peer)
}
