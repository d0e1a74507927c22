package bridge

import (
	"sync"
	"weak"

	"go.uber.org/zap"

	"github.com/wippyai/mapstyle-bridge/errors"
	"github.com/wippyai/mapstyle-bridge/host"
	"github.com/wippyai/mapstyle-bridge/style"
)

// Peer is the native counterpart of a Source proxy.
type Peer struct {
	rt     *host.Runtime
	source *style.Source
	state  peerState
	log    *zap.Logger
	mu     sync.Mutex
}

// New creates a detached peer that owns src and returns the proxy that owns
// the peer. On error ownership of src stays with the caller.
func New(rt *host.Runtime, src *style.Source) (*host.Proxy, error) {
	c, err := class(rt)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "source cannot be nil")
	}
	if src.Destroyed() {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Source(src.ID()).
			Detail("source was destroyed").
			Build()
	}
	if src.Peer() != nil {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Source(src.ID()).
			Detail("source already has a peer").
			Build()
	}

	p := newPeer(rt, src)
	p.state = detached{owned: src}

	proxy, err := rt.NewProxy(c, p)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.state = detached{owned: src, proxy: weak.Make(proxy)}
	p.mu.Unlock()

	p.log.Debug("peer created", zap.Uint32("handle", uint32(proxy.Handle())))
	return proxy, nil
}

// FromProxy resolves the peer behind a proxy's handle field.
func FromProxy(proxy *host.Proxy) (*Peer, error) {
	if proxy == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "proxy cannot be nil")
	}
	v, ok := proxy.Runtime().Lookup(proxy)
	if !ok {
		return nil, errors.New(errors.PhaseHost, errors.KindNotInitialized).
			Detail("%s.%s is 0", ClassName, HandleField).
			Build()
	}
	return asPeer(v)
}

// PeerFor returns the peer of a source st already owns, creating a borrowed
// peer in the source's slot if it has none. Borrowed peers only bridge reads:
// they cannot be detached or attached elsewhere.
func PeerFor(rt *host.Runtime, st *style.Style, id string) (*Peer, error) {
	src, ok := st.Source(id)
	if !ok {
		return nil, errors.NotFound(errors.PhaseStyle, id)
	}

	if d := src.Peer(); d != nil {
		return slotPeer(src, d)
	}

	p := newPeer(rt, src)
	p.state = borrowed{}
	if !src.SetPeer(p) {
		if d := src.Peer(); d != nil {
			return slotPeer(src, d)
		}
		return nil, errors.New(errors.PhaseStyle, errors.KindInvalidInput).
			Source(id).
			Detail("source was destroyed").
			Build()
	}

	p.log.Debug("borrowed peer created")
	return p, nil
}

func slotPeer(src *style.Source, d style.Dropper) (*Peer, error) {
	p, ok := d.(*Peer)
	if !ok {
		return nil, errors.New(errors.PhaseStyle, errors.KindInvalidInput).
			Source(src.ID()).
			Detail("peer slot holds %T", d).
			Build()
	}
	return p, nil
}

func newPeer(rt *host.Runtime, src *style.Source) *Peer {
	return &Peer{
		rt:     rt,
		source: src,
		log:    Logger().With(zap.String("source", src.ID())),
	}
}

// ID returns the source ID. Valid in every state.
func (p *Peer) ID() string {
	return p.source.ID()
}

// Attribution returns the source attribution. Valid in every state.
func (p *Peer) Attribution() (string, bool) {
	return p.source.Attribution()
}

// Source returns the bridged source without transferring ownership.
func (p *Peer) Source() *style.Source {
	return p.source
}

// State returns the current ownership state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.public()
}

// Owns reports whether the peer currently owns its source.
func (p *Peer) Owns() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.state.(detached)
	return ok
}

// Borrowed reports whether the peer wraps a source it was never given.
func (p *Peer) Borrowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.state.(borrowed)
	return ok
}

// Style returns the style the peer is attached to, or nil.
func (p *Peer) Style() *style.Style {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.state.(attached); ok {
		return a.style
	}
	return nil
}

// Proxy returns the peer's proxy, creating it on first use for borrowed
// peers. A peer never has more than one proxy.
func (p *Peer) Proxy() (*host.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch s := p.state.(type) {
	case detached:
		if proxy := s.proxy.Value(); proxy != nil {
			return proxy, nil
		}
		return nil, errors.Precondition(errors.PhaseHost, p.ID(), "proxy was collected")
	case attached:
		return s.proxy, nil
	case borrowed:
		if s.proxy != nil {
			return s.proxy, nil
		}
		c, err := class(p.rt)
		if err != nil {
			return nil, err
		}
		proxy, err := p.rt.NewProxy(c, p)
		if err != nil {
			return nil, err
		}
		p.state = borrowed{proxy: proxy}
		p.log.Debug("proxy created on demand", zap.Uint32("handle", uint32(proxy.Handle())))
		return proxy, nil
	default:
		return nil, errors.Precondition(errors.PhaseHost, p.ID(), "peer was released")
	}
}

// Attach moves ownership of the source into st. The source is inserted
// before the back-reference is installed and the proxy reference is made
// strong last. All three happen before st notifies its observers, which run
// without the peer lock held. On error nothing changes.
//
// The caller must hold a live reference to the peer's proxy across the call.
func (p *Peer) Attach(st *style.Style) error {
	p.mu.Lock()
	d, err := p.attachable()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if st == nil {
		return errors.InvalidInput(errors.PhaseAttach, "style cannot be nil")
	}

	proxy := d.proxy.Value()
	if proxy == nil {
		return errors.Precondition(errors.PhaseAttach, p.ID(), "proxy was collected")
	}

	err = st.AddSourceWith(d.owned, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()

		cur, err := p.attachable()
		if err != nil {
			return err
		}
		if cur.owned != d.owned {
			return errors.Invariant(errors.PhaseAttach, p.ID(), "owned source changed during attach")
		}
		if !d.owned.SetPeer(p) {
			return errors.Invariant(errors.PhaseAttach, p.ID(), "peer slot occupied after insertion")
		}
		p.state = attached{style: st, proxy: proxy}
		return nil
	})
	if errors.IsKind(err, errors.KindInvariant) {
		p.fatal(err)
	}
	if err != nil {
		return err
	}

	p.log.Debug("attached", zap.String("style", st.Name()))
	return nil
}

// attachable returns the detached state or the error Attach reports for the
// current one. p.mu must be held.
func (p *Peer) attachable() (detached, error) {
	switch s := p.state.(type) {
	case detached:
		return s, nil
	case released:
		return detached{}, errors.Precondition(errors.PhaseAttach, p.ID(), "peer was released")
	default:
		return detached{}, errors.AlreadyAttached(p.ID())
	}
}

// Detach moves ownership of the source from st back to the peer. The
// back-reference is cleared before the style gives the source up, and the
// proxy reference becomes weak again. Observers of st see the peer detached.
func (p *Peer) Detach(st *style.Style) error {
	p.mu.Lock()
	a, ok := p.state.(attached)
	state := p.state.public()
	p.mu.Unlock()
	if !ok {
		return errors.NotAttached(p.ID(), "peer is "+state.String())
	}
	if st == nil || a.style != st {
		return errors.NotAttached(p.ID(), "source is attached to a different style")
	}

	_, err := st.RemoveSourceWith(p.ID(), func(held *style.Source) error {
		p.mu.Lock()
		defer p.mu.Unlock()

		cur, ok := p.state.(attached)
		if !ok || cur.style != st {
			return errors.NotAttached(p.ID(), "peer is "+p.state.public().String())
		}
		if held != p.source {
			return errors.NotAttached(p.ID(), "style does not hold this source")
		}
		if p.source.Peer() != style.Dropper(p) {
			return errors.Invariant(errors.PhaseDetach, p.ID(), "peer slot does not hold this peer")
		}
		p.source.ReleasePeer()
		p.state = detached{owned: held, proxy: weak.Make(cur.proxy)}
		return nil
	})
	switch {
	case errors.IsKind(err, errors.KindInvariant):
		p.fatal(err)
	case errors.IsKind(err, errors.KindNotFound):
		return errors.NotAttached(p.ID(), "style does not hold this source")
	case err != nil:
		return err
	}

	p.log.Debug("detached", zap.String("style", st.Name()))
	return nil
}

// Drop tears the peer down. It is reached from two directions: collection of
// a detached peer's proxy, and destruction of an attached peer's source by
// its style. Only the first call has an effect.
//
// A detached peer takes its source with it. A peer that does not own its
// source clears the proxy's handle field under an attached host env before
// letting go of the proxy.
func (p *Peer) Drop() {
	p.mu.Lock()
	prev := p.state
	if _, done := prev.(released); done {
		p.mu.Unlock()
		return
	}
	p.state = released{}
	p.mu.Unlock()

	switch s := prev.(type) {
	case detached:
		if s.owned.Destroyed() || s.owned.Peer() != nil {
			p.fatal(errors.Invariant(errors.PhaseTeardown, p.ID(), "owned source is no longer in the peer's hands"))
		}
		p.log.Debug("dropped with owned source")
		s.owned.Destroy()
	case attached:
		p.unlinkSource()
		p.releaseProxy(s.proxy)
	case borrowed:
		p.unlinkSource()
		p.releaseProxy(s.proxy)
	}
}

// unlinkSource checks the source's slot for a peer that does not own its
// source. A drop through Source.Destroy finds it empty. A drop that did not
// come through Source.Destroy, such as host runtime shutdown, finds the peer
// still there and leaves the source in its style without one.
func (p *Peer) unlinkSource() {
	switch d := p.source.Peer(); {
	case d == style.Dropper(p):
		p.source.ReleasePeer()
		p.log.Warn("peer dropped while its source still owned it")
	case d != nil:
		p.fatal(errors.Invariant(errors.PhaseTeardown, p.ID(), "peer slot holds another peer"))
	case !p.source.Destroyed():
		p.fatal(errors.Invariant(errors.PhaseTeardown, p.ID(), "peer slot unexpectedly empty"))
	}
}

func (p *Peer) releaseProxy(proxy *host.Proxy) {
	if proxy == nil {
		p.log.Debug("dropped without proxy")
		return
	}

	env, release := p.rt.AttachEnv()
	defer release()

	cleared := proxy.Invalidate(env)
	p.log.Debug("dropped without owning source", zap.Bool("handle_cleared", cleared))
}

func (p *Peer) fatal(err error) {
	p.log.Error("ownership invariant violated", zap.Error(err))
	panic(err)
}
