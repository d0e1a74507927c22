// Package host models the garbage-collected runtime that application code
// uses to manipulate style sources.
//
// Application code never touches native peers directly. It holds a *Proxy,
// whose only link to the native side is an integer handle field resolved
// through the runtime's handle table. Proxy lifetime follows the Go garbage
// collector: when an unreachable proxy is collected and its handle field is
// still set, the runtime removes the table entry and runs the peer's
// destructor. A peer that is destroyed first must clear the handle field with
// Invalidate so the later collection finds nothing to destroy.
//
// # Execution context
//
// Writing a proxy's handle field or calling into a native method requires an
// *Env. AttachEnv acquires one for the calling goroutine and returns a
// release function; calls that are already running under an env on the same
// goroutine get the existing env back and a no-op release:
//
//	env, release := rt.AttachEnv()
//	defer release()
//	proxy.Invalidate(env)
//
// # Classes
//
// Proxy classes are registered once per runtime with RegisterClass before any
// proxy of that class is created. A class names its handle field and the
// native methods callable through Proxy.Call.
package host
