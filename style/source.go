package style

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Source is a named data source. Its ID and attribution never change after
// construction. Ownership is tracked outside the Source: whoever holds the
// pointer it was created with, until it is moved into a Style.
type Source struct {
	peer        Dropper
	attribution *string
	id          string
	kind        Kind
	mu          sync.Mutex
	destroyed   atomic.Bool
}

// SourceOption configures a Source at construction.
type SourceOption func(*Source)

// WithAttribution sets the attribution text.
func WithAttribution(text string) SourceOption {
	return func(s *Source) {
		s.attribution = &text
	}
}

// WithKind sets the declared source kind.
func WithKind(k Kind) SourceOption {
	return func(s *Source) {
		s.kind = k
	}
}

// NewSource creates a source with the given ID.
func NewSource(id string, opts ...SourceOption) *Source {
	s := &Source{id: id}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the source identity.
func (s *Source) ID() string { return s.id }

// Kind returns the declared source kind.
func (s *Source) Kind() Kind { return s.kind }

// Attribution returns the attribution text and whether one is set.
func (s *Source) Attribution() (string, bool) {
	if s.attribution == nil {
		return "", false
	}
	return *s.attribution, true
}

// Peer returns the value currently owned by the peer slot, or nil.
func (s *Source) Peer() Dropper {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// SetPeer installs d as the owning peer. It reports false, leaving the slot
// unchanged, if the slot is occupied or the source was destroyed.
func (s *Source) SetPeer(d Dropper) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer != nil || s.destroyed.Load() {
		return false
	}
	s.peer = d
	return true
}

// ReleasePeer empties the peer slot and returns its previous content without
// dropping it. Ownership of the returned value passes to the caller.
func (s *Source) ReleasePeer() Dropper {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.peer
	s.peer = nil
	return d
}

// Destroy ends the source's life and drops the peer it owns, if any.
// Only the first call has an effect.
func (s *Source) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	d := s.ReleasePeer()
	Logger().Debug("source destroyed", zap.String("source", s.id), zap.Bool("peer", d != nil))
	if d != nil {
		d.Drop()
	}
}

// Destroyed reports whether Destroy has run.
func (s *Source) Destroyed() bool {
	return s.destroyed.Load()
}
