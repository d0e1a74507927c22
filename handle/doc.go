// Package handle provides the handle table backing proxy native fields.
//
// A proxy living in the host runtime cannot hold a Go pointer to its native
// peer in its handle field, so the runtime stores the peer in a Table and the
// proxy keeps the integer Handle instead. Handle 0 is reserved and means
// "no native peer"; writing 0 into a proxy's field is how a peer detaches
// itself from a proxy that will outlive it.
//
//	table := handle.NewTable()
//
//	// Publish a value, get a handle
//	h := table.Insert(peer)
//
//	// Resolve it from the proxy side
//	value, ok := table.Get(h)
//
//	// Proxy collected: remove and run the value's destructor
//	table.Remove(h)
//
//	// Peer destroyed natively: forget the entry without running the destructor
//	table.Release(h)
//
// # Observers
//
// Register observers to track handle lifecycle events:
//
//	table.Subscribe(observer) // implements OnHandleEvent(Event)
//
// Freed handles are reused, so a handle read after Remove or Release may name
// an unrelated value. Callers that can race with removal must clear their copy
// of the handle first.
package handle
