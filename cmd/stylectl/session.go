package main

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/wippyai/mapstyle-bridge/bridge"
	"github.com/wippyai/mapstyle-bridge/errors"
	"github.com/wippyai/mapstyle-bridge/handle"
	"github.com/wippyai/mapstyle-bridge/host"
	"github.com/wippyai/mapstyle-bridge/style"
)

const eventLogSize = 64

// session plays the application: it holds proxies the way host code would
// and drives ownership transitions through their peers.
type session struct {
	rt      *host.Runtime
	st      *style.Style
	events  *eventLog
	entries []*entry
}

type entry struct {
	proxy *host.Proxy
	peer  *bridge.Peer
	id    string
}

type row struct {
	id          string
	kind        string
	attribution string
	state       string
	handle      uint32
	borrowed    bool
	held        bool
}

func loadDocument(path string) (*style.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open style: %w", err)
	}
	defer f.Close()
	return style.Decode(f)
}

func openSession(doc *style.Document) (*session, error) {
	rt := host.New()
	if err := bridge.RegisterNative(rt); err != nil {
		return nil, err
	}

	st, err := style.Load(doc)
	if err != nil {
		return nil, err
	}

	s := &session{rt: rt, st: st, events: newEventLog(eventLogSize)}
	st.Subscribe(s.events)
	rt.Handles().Subscribe(s.events)

	for _, src := range st.Sources() {
		peer, err := bridge.PeerFor(rt, st, src.ID())
		if err != nil {
			s.close()
			return nil, err
		}
		proxy, err := peer.Proxy()
		if err != nil {
			s.close()
			return nil, err
		}
		s.entries = append(s.entries, &entry{id: src.ID(), proxy: proxy, peer: peer})
	}

	for _, sd := range doc.Pending {
		proxy, err := bridge.New(rt, sd.NewSource())
		if err != nil {
			s.close()
			return nil, err
		}
		peer, err := bridge.FromProxy(proxy)
		if err != nil {
			s.close()
			return nil, err
		}
		s.entries = append(s.entries, &entry{id: sd.ID, proxy: proxy, peer: peer})
	}
	return s, nil
}

func (s *session) find(id string) (*entry, error) {
	for _, e := range s.entries {
		if e.id == id {
			return e, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseHost, id)
}

func (s *session) attach(id string) error {
	e, err := s.find(id)
	if err != nil {
		return err
	}
	return e.peer.Attach(s.st)
}

func (s *session) detach(id string) error {
	e, err := s.find(id)
	if err != nil {
		return err
	}
	return e.peer.Detach(s.st)
}

func (s *session) destroy(id string) error {
	return s.st.DestroySource(id)
}

// release drops the session's reference to a proxy so the collector may take it.
func (s *session) release(id string) error {
	e, err := s.find(id)
	if err != nil {
		return err
	}
	e.proxy = nil
	return nil
}

func (s *session) collect() {
	runtime.GC()
}

func (s *session) rows() []row {
	rows := make([]row, 0, len(s.entries))
	for _, e := range s.entries {
		r := row{
			id:       e.id,
			kind:     e.peer.Source().Kind().String(),
			state:    e.peer.State().String(),
			borrowed: e.peer.Borrowed(),
			held:     e.proxy != nil,
		}
		r.attribution, _ = e.peer.Attribution()
		if e.proxy != nil {
			r.handle = uint32(e.proxy.Handle())
		}
		rows = append(rows, r)
	}
	return rows
}

// handles lists the live handle table entries as "handle:source".
func (s *session) handles() []string {
	var out []string
	s.rt.Handles().Each(func(h handle.Handle, v any) bool {
		id := "?"
		if p, ok := v.(*bridge.Peer); ok {
			id = p.ID()
		}
		out = append(out, fmt.Sprintf("%d:%s", h, id))
		return true
	})
	return out
}

func (s *session) close() {
	s.st.Close()
	s.rt.Close()
	s.st.Unsubscribe(s.events)
	s.rt.Handles().Unsubscribe(s.events)
}

// eventLog keeps the most recent style and handle table events. Handle events
// may arrive from the collector's cleanup goroutine.
type eventLog struct {
	lines []string
	limit int
	mu    sync.Mutex
}

func newEventLog(limit int) *eventLog {
	return &eventLog{limit: limit}
}

func (l *eventLog) OnStyleEvent(e style.Event) {
	l.add(fmt.Sprintf("style  %-9s %s", e.Type, e.ID))
}

func (l *eventLog) OnHandleEvent(e handle.Event) {
	id := "?"
	if p, ok := e.Value.(*bridge.Peer); ok {
		id = p.ID()
	}
	l.add(fmt.Sprintf("handle %-9s %d %s", e.Type, e.Handle, id))
}

func (l *eventLog) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	if n := len(l.lines) - l.limit; n > 0 {
		l.lines = append(l.lines[:0], l.lines[n:]...)
	}
}

// recent returns up to n of the latest events, oldest first.
func (l *eventLog) recent(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.lines) {
		n = len(l.lines)
	}
	return append([]string(nil), l.lines[len(l.lines)-n:]...)
}
