package bridge

import (
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/wippyai/mapstyle-bridge/errors"
	"github.com/wippyai/mapstyle-bridge/host"
	"github.com/wippyai/mapstyle-bridge/style"
)

type nopDropper struct{}

func (nopDropper) Drop() {}

type styleHook struct {
	fn func(style.Event)
}

func (h *styleHook) OnStyleEvent(e style.Event) { h.fn(e) }

func newRuntime(t *testing.T) *host.Runtime {
	t.Helper()
	rt := host.New()
	if err := RegisterNative(rt); err != nil {
		t.Fatalf("RegisterNative failed: %v", err)
	}
	return rt
}

func newPeerProxy(t *testing.T, rt *host.Runtime, src *style.Source) (*host.Proxy, *Peer) {
	t.Helper()
	proxy, err := New(rt, src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p, err := FromProxy(proxy)
	if err != nil {
		t.Fatalf("FromProxy failed: %v", err)
	}
	return proxy, p
}

// checkOwnership asserts that exactly one party owns the source and that the
// proxy edge points the opposite way.
func checkOwnership(t *testing.T, p *Peer, st *style.Style) {
	t.Helper()
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	held, inStyle := st.Source(p.ID())
	inStyle = inStyle && held == p.source

	switch s := state.(type) {
	case detached:
		if s.owned != p.source {
			t.Fatalf("detached peer owns %p, bridges %p", s.owned, p.source)
		}
		if inStyle {
			t.Fatal("source owned by both peer and style")
		}
		if p.source.Peer() != nil {
			t.Fatal("detached source still has a back-reference")
		}
		if s.proxy.Value() == nil {
			t.Fatal("detached peer lost its weak proxy reference")
		}
	case attached:
		if !inStyle {
			t.Fatal("attached source has no owner")
		}
		if p.source.Peer() != style.Dropper(p) {
			t.Fatal("attached source does not own its peer")
		}
		if s.proxy == nil {
			t.Fatal("attached peer holds no strong proxy reference")
		}
	default:
		t.Fatalf("unexpected state %T", state)
	}
}

func TestAttachDetach_Terrain(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	src := style.NewSource("terrain", style.WithAttribution("© Terrain Tiles"))
	proxy, p := newPeerProxy(t, rt, src)

	if p.State() != StateDetached || !p.Owns() {
		t.Fatalf("new peer state = %v, owns = %v", p.State(), p.Owns())
	}

	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("style has %d sources, want 1", st.Len())
	}
	if got, ok := st.Source("terrain"); !ok || got != src {
		t.Fatal("style does not hold terrain")
	}
	if p.State() != StateAttached || p.Owns() || p.Style() != st {
		t.Fatalf("attached peer state = %v, owns = %v", p.State(), p.Owns())
	}
	checkOwnership(t, p, st)

	err := p.Attach(st)
	if !errors.IsKind(err, errors.KindAlreadyAttached) {
		t.Fatalf("second Attach error = %v, want already_attached", err)
	}
	if p.State() != StateAttached || st.Len() != 1 {
		t.Fatal("failed Attach changed state")
	}

	if err := p.Detach(st); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("style has %d sources, want 0", st.Len())
	}
	if p.State() != StateDetached || !p.Owns() {
		t.Fatal("peer should be detached and own its source")
	}
	if p.Source() != src {
		t.Fatal("peer owns a different source instance after round trip")
	}
	if p.ID() != "terrain" {
		t.Errorf("ID = %q", p.ID())
	}
	if text, ok := p.Attribution(); !ok || text != "© Terrain Tiles" {
		t.Errorf("Attribution = (%q, %v)", text, ok)
	}
	checkOwnership(t, p, st)
	runtime.KeepAlive(proxy)
}

func TestAttach_Conflict(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()

	proxy1, first := newPeerProxy(t, rt, style.NewSource("terrain"))
	proxy2, second := newPeerProxy(t, rt, style.NewSource("terrain"))

	if err := first.Attach(st); err != nil {
		t.Fatalf("first Attach failed: %v", err)
	}
	err := second.Attach(st)
	if !errors.IsKind(err, errors.KindConflict) {
		t.Fatalf("second Attach error = %v, want conflict", err)
	}

	if st.Len() != 1 {
		t.Fatalf("style has %d sources, want 1", st.Len())
	}
	if got, _ := st.Source("terrain"); got != first.Source() {
		t.Fatal("style holds the wrong terrain")
	}
	if second.State() != StateDetached || !second.Owns() {
		t.Fatal("conflicting peer should stay detached")
	}
	if second.Source().Peer() != nil {
		t.Fatal("conflicting source got a back-reference")
	}
	runtime.KeepAlive(proxy1)
	runtime.KeepAlive(proxy2)
}

func TestDetach_NotAttached(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	other := style.New()
	proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))

	if err := p.Detach(st); !errors.IsKind(err, errors.KindNotAttached) {
		t.Fatalf("Detach on detached peer error = %v, want not_attached", err)
	}
	if p.State() != StateDetached || !p.Owns() {
		t.Fatal("failed Detach changed state")
	}

	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := p.Detach(other); !errors.IsKind(err, errors.KindNotAttached) {
		t.Fatalf("Detach from other style error = %v, want not_attached", err)
	}
	if err := p.Detach(nil); !errors.IsKind(err, errors.KindNotAttached) {
		t.Fatalf("Detach(nil) error = %v, want not_attached", err)
	}
	if p.State() != StateAttached || st.Len() != 1 {
		t.Fatal("failed Detach changed state")
	}
	runtime.KeepAlive(proxy)
}

func TestDetach_SourceRemovedBehindPeer(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))

	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := st.RemoveSource("terrain"); err != nil {
		t.Fatalf("RemoveSource failed: %v", err)
	}
	if err := p.Detach(st); !errors.IsKind(err, errors.KindNotAttached) {
		t.Fatalf("Detach error = %v, want not_attached", err)
	}
	runtime.KeepAlive(proxy)
}

func TestAttach_ReadsUnchanged(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()

	tests := []struct {
		name string
		src  *style.Source
	}{
		{"with attribution", style.NewSource("terrain", style.WithAttribution("© Terrain"))},
		{"without attribution", style.NewSource("roads", style.WithKind(style.KindVector))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy, p := newPeerProxy(t, rt, tt.src)

			beforeID, _ := GetID(proxy)
			beforeAttr, _ := GetAttribution(proxy)
			text, hasText := p.Attribution()

			if err := p.Attach(st); err != nil {
				t.Fatalf("Attach failed: %v", err)
			}

			afterID, err := GetID(proxy)
			if err != nil {
				t.Fatalf("GetID failed: %v", err)
			}
			afterAttr, err := GetAttribution(proxy)
			if err != nil {
				t.Fatalf("GetAttribution failed: %v", err)
			}
			if afterID != beforeID || afterID != tt.src.ID() {
				t.Errorf("id %q -> %q", beforeID, afterID)
			}
			if afterAttr != beforeAttr {
				t.Errorf("attribution %q -> %q", beforeAttr, afterAttr)
			}
			if gotText, gotHas := p.Attribution(); gotText != text || gotHas != hasText {
				t.Errorf("Attribution changed: (%q, %v) -> (%q, %v)", text, hasText, gotText, gotHas)
			}
			if !hasText && afterAttr != "" {
				t.Errorf("absent attribution should read as empty, got %q", afterAttr)
			}
		})
	}
}

func TestNativeTeardown_InvalidatesOnce(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	src := style.NewSource("terrain")
	proxy, p := newPeerProxy(t, rt, src)

	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if err := st.DestroySource("terrain"); err != nil {
		t.Fatalf("DestroySource failed: %v", err)
	}
	p.Drop()
	src.Destroy()

	if got := rt.Stats().Invalidated; got != 1 {
		t.Fatalf("Invalidated = %d, want 1", got)
	}
	if proxy.Valid() {
		t.Fatal("proxy handle should be 0 after native teardown")
	}
	if p.State() != StateReleased {
		t.Fatalf("state = %v, want released", p.State())
	}
	if !src.Destroyed() {
		t.Fatal("source should be destroyed")
	}
	if rt.Len() != 0 {
		t.Fatalf("runtime still has %d handles", rt.Len())
	}
	if _, err := GetID(proxy); !errors.IsKind(err, errors.KindNotInitialized) {
		t.Fatalf("GetID on invalidated proxy error = %v, want not_initialized", err)
	}
	if err := p.Attach(st); !errors.IsKind(err, errors.KindPrecondition) {
		t.Fatalf("Attach after release error = %v, want precondition", err)
	}
	if _, err := p.Proxy(); !errors.IsKind(err, errors.KindPrecondition) {
		t.Fatalf("Proxy after release error = %v, want precondition", err)
	}
}

func TestNativeTeardown_OffGoroutineAttachesEnv(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))
	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	before := rt.Stats().Attaches
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Close()
	}()
	<-done

	stats := rt.Stats()
	if stats.Attaches != before+1 {
		t.Fatalf("Attaches = %d, want %d", stats.Attaches, before+1)
	}
	if stats.Invalidated != 1 || proxy.Valid() {
		t.Fatalf("Invalidated = %d, valid = %v", stats.Invalidated, proxy.Valid())
	}
}

func TestNativeTeardown_UnderHeldEnv(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))
	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	_, release := rt.AttachEnv()
	before := rt.Stats().Attaches
	st.Close()
	after := rt.Stats().Attaches
	release()

	if after != before {
		t.Fatalf("teardown under a held env attached again: %d -> %d", before, after)
	}
	if proxy.Valid() {
		t.Fatal("proxy handle should be 0")
	}
}

func TestProxyCollected_DestroysOwnedSource(t *testing.T) {
	rt := newRuntime(t)
	src := style.NewSource("terrain")

	func() {
		if _, err := New(rt, src); err != nil {
			t.Fatalf("New failed: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !src.Destroyed() && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if !src.Destroyed() {
		t.Fatal("owned source survived collection of its proxy")
	}
	if rt.Len() != 0 {
		t.Fatalf("runtime still has %d handles", rt.Len())
	}
	if got := rt.Stats().Collected; got != 1 {
		t.Fatalf("Collected = %d, want 1", got)
	}
}

func TestAttachedProxy_NotCollected(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	src := style.NewSource("terrain")

	var p *Peer
	func() {
		var proxy *host.Proxy
		proxy, p = newPeerProxy(t, rt, src)
		if err := p.Attach(st); err != nil {
			t.Fatalf("Attach failed: %v", err)
		}
		runtime.KeepAlive(proxy)
	}()

	for i := 0; i < 5; i++ {
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
	}
	if src.Destroyed() || p.State() != StateAttached {
		t.Fatal("attached peer lost its proxy to collection")
	}

	proxy, err := p.Proxy()
	if err != nil || !proxy.Valid() {
		t.Fatalf("Proxy = (%v, %v)", proxy, err)
	}
	if id, _ := GetID(proxy); id != "terrain" {
		t.Fatalf("GetID = %q", id)
	}
}

func TestBorrowedPeer(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	src := style.NewSource("roads", style.WithAttribution("© Roads"))
	if err := st.AddSource(src); err != nil {
		t.Fatalf("AddSource failed: %v", err)
	}

	p, err := PeerFor(rt, st, "roads")
	if err != nil {
		t.Fatalf("PeerFor failed: %v", err)
	}
	again, _ := PeerFor(rt, st, "roads")
	if again != p {
		t.Fatal("PeerFor created a second peer")
	}
	if !p.Borrowed() || p.State() != StateAttached || p.Owns() {
		t.Fatalf("borrowed peer state = %v", p.State())
	}

	proxy, err := p.Proxy()
	if err != nil {
		t.Fatalf("Proxy failed: %v", err)
	}
	if second, _ := p.Proxy(); second != proxy {
		t.Fatal("Proxy created a second proxy")
	}
	if text, _ := GetAttribution(proxy); text != "© Roads" {
		t.Errorf("GetAttribution = %q", text)
	}

	if err := p.Attach(style.New()); !errors.IsKind(err, errors.KindAlreadyAttached) {
		t.Fatalf("Attach error = %v, want already_attached", err)
	}
	if err := p.Detach(st); !errors.IsKind(err, errors.KindNotAttached) {
		t.Fatalf("Detach error = %v, want not_attached", err)
	}

	st.Close()
	if proxy.Valid() || p.State() != StateReleased {
		t.Fatalf("valid = %v, state = %v", proxy.Valid(), p.State())
	}

	if _, err := PeerFor(rt, st, "roads"); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("PeerFor on missing source error = %v, want not_found", err)
	}
}

func TestPeerFor_ReturnsAttachedPeer(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))
	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	found, err := PeerFor(rt, st, "terrain")
	if err != nil || found != p {
		t.Fatalf("PeerFor = (%p, %v), want %p", found, err, p)
	}
	if got, _ := found.Proxy(); got != proxy {
		t.Fatal("attached peer returned a different proxy")
	}
}

func TestNew_Errors(t *testing.T) {
	bare := host.New()
	if _, err := New(bare, style.NewSource("terrain")); !errors.IsKind(err, errors.KindNotInitialized) {
		t.Fatalf("New without registration error = %v, want not_initialized", err)
	}
	if err := RegisterNative(bare); err != nil {
		t.Fatalf("RegisterNative failed: %v", err)
	}
	if err := RegisterNative(bare); !errors.IsKind(err, errors.KindRegistration) {
		t.Fatalf("second RegisterNative error = %v, want registration", err)
	}

	destroyed := style.NewSource("dead")
	destroyed.Destroy()

	taken := style.NewSource("taken")
	taken.SetPeer(nopDropper{})

	tests := []struct {
		name string
		src  *style.Source
	}{
		{"nil", nil},
		{"destroyed", destroyed},
		{"has peer", taken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(bare, tt.src); !errors.IsKind(err, errors.KindInvalidInput) {
				t.Errorf("New error = %v, want invalid_input", err)
			}
		})
	}
}

func TestRuntimeClose_ReleasesPeers(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	detachedSrc := style.NewSource("parcels")
	attachedSrc := style.NewSource("terrain")

	proxy1, _ := newPeerProxy(t, rt, detachedSrc)
	proxy2, p := newPeerProxy(t, rt, attachedSrc)
	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !detachedSrc.Destroyed() {
		t.Fatal("detached peer's source should die with the runtime")
	}
	if attachedSrc.Destroyed() {
		t.Fatal("style-owned source must survive runtime shutdown")
	}
	if attachedSrc.Peer() != nil {
		t.Fatal("released peer left in source slot")
	}
	if proxy2.Valid() {
		t.Fatal("attached proxy should be invalidated")
	}
	if proxy1.Valid() {
		t.Fatal("detached proxy should be cleared by runtime shutdown")
	}
	if _, err := GetID(proxy1); !errors.IsKind(err, errors.KindNotInitialized) {
		t.Errorf("GetID after shutdown error = %v, want not_initialized", err)
	}

	st.Close()
	if !attachedSrc.Destroyed() {
		t.Fatal("style Close should destroy its source")
	}
	runtime.KeepAlive(proxy1)
}

func TestOwnership_RandomSequences(t *testing.T) {
	rt := newRuntime(t)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		st := style.New()
		proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))
		src := p.Source()
		checkOwnership(t, p, st)

		for step := 0; step < 50; step++ {
			wasAttached := p.State() == StateAttached
			if rng.Intn(2) == 0 {
				err := p.Attach(st)
				if wasAttached != errors.IsKind(err, errors.KindAlreadyAttached) {
					t.Fatalf("round %d step %d: Attach error = %v, attached = %v", round, step, err, wasAttached)
				}
				if !wasAttached && err != nil {
					t.Fatalf("round %d step %d: Attach failed: %v", round, step, err)
				}
			} else {
				err := p.Detach(st)
				if wasAttached == errors.IsKind(err, errors.KindNotAttached) {
					t.Fatalf("round %d step %d: Detach error = %v, attached = %v", round, step, err, wasAttached)
				}
			}
			checkOwnership(t, p, st)
			if p.Source() != src {
				t.Fatal("peer switched source instances")
			}
		}
		st.Close()
		runtime.KeepAlive(proxy)
	}
}

func TestAttach_ObserverResolvesAttachingPeer(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))

	var resolved *Peer
	var resolvedState State
	st.Subscribe(&styleHook{fn: func(e style.Event) {
		if e.Type != style.EventAdded {
			return
		}
		got, err := PeerFor(rt, st, e.ID)
		if err != nil {
			t.Errorf("PeerFor in observer failed: %v", err)
			return
		}
		resolved, resolvedState = got, got.State()
	}})

	if err := p.Attach(st); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if resolved != p {
		t.Fatal("observer should resolve the attaching peer, not a borrowed one")
	}
	if resolvedState != StateAttached {
		t.Errorf("observer saw state %v, want attached", resolvedState)
	}
	if p.Borrowed() {
		t.Error("attaching peer became borrowed")
	}
	checkOwnership(t, p, st)
	runtime.KeepAlive(proxy)
}

func TestAttachDetach_ObserverCallsBackIntoPeer(t *testing.T) {
	rt := newRuntime(t)
	st := style.New()
	proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))

	var states []State
	var owns []bool
	st.Subscribe(&styleHook{fn: func(e style.Event) {
		states = append(states, p.State())
		owns = append(owns, p.Owns())
		if _, err := p.Proxy(); err != nil {
			t.Errorf("Proxy in observer failed: %v", err)
		}
	}})

	done := make(chan error, 1)
	go func() {
		if err := p.Attach(st); err != nil {
			done <- err
			return
		}
		done <- p.Detach(st)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transition failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Attach/Detach blocked on an observer reading the peer")
	}

	wantStates := []State{StateAttached, StateDetached}
	wantOwns := []bool{false, true}
	if len(states) != len(wantStates) {
		t.Fatalf("observer ran %d times, want %d", len(states), len(wantStates))
	}
	for i := range wantStates {
		if states[i] != wantStates[i] || owns[i] != wantOwns[i] {
			t.Errorf("event %d: state %v owns %v, want %v %v", i, states[i], owns[i], wantStates[i], wantOwns[i])
		}
	}
	checkOwnership(t, p, st)
	runtime.KeepAlive(proxy)
}

func TestDrop_BrokenOwnershipIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, p *Peer, st *style.Style)
	}{
		{
			name: "attached slot emptied",
			setup: func(t *testing.T, p *Peer, st *style.Style) {
				if err := p.Attach(st); err != nil {
					t.Fatalf("Attach failed: %v", err)
				}
				p.Source().ReleasePeer()
			},
		},
		{
			name: "attached slot taken",
			setup: func(t *testing.T, p *Peer, st *style.Style) {
				if err := p.Attach(st); err != nil {
					t.Fatalf("Attach failed: %v", err)
				}
				p.Source().ReleasePeer()
				p.Source().SetPeer(nopDropper{})
			},
		},
		{
			name: "owned source destroyed",
			setup: func(t *testing.T, p *Peer, st *style.Style) {
				p.Source().Destroy()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t)
			st := style.New()
			proxy, p := newPeerProxy(t, rt, style.NewSource("terrain"))
			tt.setup(t, p, st)

			defer func() {
				e, ok := recover().(*errors.Error)
				if !ok {
					t.Fatal("Drop should panic with an invariant error")
				}
				if e.Kind != errors.KindInvariant || e.Phase != errors.PhaseTeardown {
					t.Errorf("panic = %v, want teardown invariant", e)
				}
				runtime.KeepAlive(proxy)
			}()
			p.Drop()
		})
	}
}
