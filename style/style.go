package style

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/mapstyle-bridge/errors"
)

// Style owns sources keyed by ID.
type Style struct {
	sources   map[string]*Source
	order     []string
	observers []Observer
	log       *zap.Logger
	name      string
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// Option configures a Style.
type Option func(*Style)

// WithName sets a name used in log output.
func WithName(name string) Option {
	return func(s *Style) {
		s.name = name
	}
}

// WithLogger overrides the package logger for one style.
func WithLogger(l *zap.Logger) Option {
	return func(s *Style) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates an empty style.
func New(opts ...Option) *Style {
	s := &Style{
		sources: make(map[string]*Source),
		log:     Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.name != "" {
		s.log = s.log.With(zap.String("style", s.name))
	}
	return s
}

// Name returns the style name.
func (s *Style) Name() string { return s.name }

// AddSource takes ownership of src under its ID.
// On error ownership stays with the caller.
func (s *Style) AddSource(src *Source) error {
	return s.AddSourceWith(src, nil)
}

// AddSourceWith inserts src like AddSource and, once src is in place, calls
// commit with the style lock held and before any observer is notified. If
// commit fails the insertion is undone and its error returned. commit must
// not call back into the style.
func (s *Style) AddSourceWith(src *Source, commit func() error) error {
	if src == nil {
		return errors.InvalidInput(errors.PhaseStyle, "source cannot be nil")
	}
	if src.Destroyed() {
		return errors.New(errors.PhaseStyle, errors.KindInvalidInput).
			Source(src.id).
			Detail("source was destroyed").
			Build()
	}
	if src.id == "" {
		return errors.InvalidInput(errors.PhaseStyle, "source id cannot be empty")
	}

	if err := s.insert(src, commit); err != nil {
		return err
	}

	s.log.Debug("source added", zap.String("source", src.id), zap.Stringer("kind", src.kind))
	s.notify(Event{Type: EventAdded, ID: src.id, Source: src})
	return nil
}

func (s *Style) insert(src *Source, commit func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Closed(errors.PhaseStyle, "style")
	}
	if _, exists := s.sources[src.id]; exists {
		return errors.Conflict(errors.PhaseStyle, src.id)
	}
	s.sources[src.id] = src
	s.order = append(s.order, src.id)

	if commit != nil {
		if err := commit(); err != nil {
			delete(s.sources, src.id)
			s.order = s.order[:len(s.order)-1]
			return err
		}
	}
	return nil
}

// RemoveSource removes the source with the given ID and returns ownership of
// it to the caller.
func (s *Style) RemoveSource(id string) (*Source, error) {
	return s.RemoveSourceWith(id, nil)
}

// RemoveSourceWith removes the source like RemoveSource, first calling commit
// with the style lock held and the source still in place. If commit fails
// nothing is removed and its error is returned. commit must not call back
// into the style.
func (s *Style) RemoveSourceWith(id string, commit func(*Source) error) (*Source, error) {
	src, err := s.take(id, commit)
	if err != nil {
		return nil, err
	}

	s.log.Debug("source removed", zap.String("source", id))
	s.notify(Event{Type: EventRemoved, ID: id, Source: src})
	return src, nil
}

// DestroySource removes the source with the given ID and destroys it,
// dropping whatever its peer slot owns.
func (s *Style) DestroySource(id string) error {
	src, err := s.take(id, nil)
	if err != nil {
		return err
	}

	src.Destroy()
	s.notify(Event{Type: EventDestroyed, ID: id, Source: src})
	return nil
}

func (s *Style) take(id string, commit func(*Source) error) (*Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return nil, errors.NotFound(errors.PhaseStyle, id)
	}
	if commit != nil {
		if err := commit(src); err != nil {
			return nil, err
		}
	}
	delete(s.sources, id)
	for i, name := range s.order {
		if name == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return src, nil
}

// Source returns the source with the given ID without transferring ownership.
func (s *Style) Source(id string) (*Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	return src, ok
}

// Sources returns the held sources in insertion order.
func (s *Style) Sources() []*Source {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Source, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sources[id])
	}
	return out
}

// Len returns the number of held sources.
func (s *Style) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// Close destroys every held source, most recently added first, and rejects
// further additions. Safe to call more than once.
func (s *Style) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	owned := make([]*Source, len(s.order))
	for i, id := range s.order {
		owned[i] = s.sources[id]
	}
	s.sources = make(map[string]*Source)
	s.order = nil
	s.mu.Unlock()

	s.log.Debug("style closing", zap.Int("sources", len(owned)))
	for i := len(owned) - 1; i >= 0; i-- {
		owned[i].Destroy()
		s.notify(Event{Type: EventDestroyed, ID: owned[i].id, Source: owned[i]})
	}
}

// Subscribe adds an observer for style events.
func (s *Style) Subscribe(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Unsubscribe removes an observer.
func (s *Style) Unsubscribe(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for i, obs := range s.observers {
		if obs == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *Style) notify(e Event) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.OnStyleEvent(e)
	}
}
