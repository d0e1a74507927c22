// Package bridge connects a style Source to its proxy in the host runtime.
//
// A Peer is the native half of a proxied Source. Exactly one party owns the
// Source at any time, and the direction of the proxy edge always mirrors it:
//
//	Detached:  proxy ──owns──▶ peer ──owns──▶ source     (peer holds a weak proxy ref)
//	Attached:  style ──owns──▶ source ──owns──▶ peer ──owns──▶ proxy
//
// Attach flips both edges, Detach flips them back. Either side may end the
// peer's life without the other's cooperation:
//
//   - the garbage collector collects a detached proxy, which drops the peer
//     and the Source it owns;
//   - the style destroys an attached Source, which drops the peer it owns.
//     The peer then clears the proxy's handle field under an attached host
//     env before letting go of the proxy, so the proxy's eventual collection
//     finds nothing to destroy.
//
// Typical use:
//
//	if err := bridge.RegisterNative(rt); err != nil { ... }
//
//	proxy, err := bridge.New(rt, style.NewSource("terrain"))
//	peer, err := bridge.FromProxy(proxy)
//
//	err = peer.Attach(st) // st now owns the source
//	err = peer.Detach(st) // ownership is back with the peer
package bridge
