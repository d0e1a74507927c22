// Package mapstylebridge connects map style sources to proxies living in a
// garbage-collected host runtime.
//
// A source is referenced from two sides that know nothing about each other:
// host code holding a proxy, and a style that owns sources by ID. The module
// keeps exactly one owner for every source while ownership moves between the
// two and tears both sides down consistently whichever side goes first.
//
// # Architecture Overview
//
//	mapstylebridge/
//	├── bridge/          Native peer: attach/detach state machine and teardown
//	├── style/           Source, Style container, YAML style documents
//	├── host/            Proxy runtime: classes, proxies, execution env, collection
//	├── handle/          Handle table behind proxy native fields
//	├── errors/          Structured error types
//	└── cmd/stylectl/    CLI and interactive inspector
//
// # Quick Start
//
//	rt := host.New()
//	defer rt.Close()
//	if err := bridge.RegisterNative(rt); err != nil {
//	    log.Fatal(err)
//	}
//
//	proxy, err := bridge.New(rt, style.NewSource("terrain"))
//	peer, err := bridge.FromProxy(proxy)
//
//	st := style.New()
//	err = peer.Attach(st)  // st owns the source
//	err = peer.Detach(st)  // the peer owns it again
//
// # Ownership
//
// Before attach the proxy owns the peer and the peer owns the source; the
// peer only holds a weak reference to its proxy, so dropping the proxy lets
// the garbage collector destroy all three. After attach the style owns the
// source, the source owns the peer and the peer holds its proxy strongly.
//
// # Thread Safety
//
// Style, Runtime and Peer are safe for concurrent use. Attach and Detach
// calls against one style should still come from a single writer, since a
// detach checks the style's contents before removing from it.
package mapstylebridge
