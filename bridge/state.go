package bridge

import (
	"weak"

	"github.com/wippyai/mapstyle-bridge/host"
	"github.com/wippyai/mapstyle-bridge/style"
)

// State is the observable ownership state of a peer.
type State uint8

const (
	// StateDetached: the peer owns its source; the proxy owns the peer.
	StateDetached State = iota
	// StateAttached: a style owns the source; the source owns the peer.
	StateAttached
	// StateReleased: the peer has been torn down.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttached:
		return "attached"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// peerState is the tagged ownership variant. Each variant carries exactly
// the references that are valid in it.
type peerState interface {
	public() State
}

type detached struct {
	owned *style.Source
	proxy weak.Pointer[host.Proxy]
}

type attached struct {
	style *style.Style
	proxy *host.Proxy
}

// borrowed wraps a source some style already owned when the peer was made.
// It never transitions except to released.
type borrowed struct {
	proxy *host.Proxy
}

type released struct{}

func (detached) public() State { return StateDetached }
func (attached) public() State { return StateAttached }
func (borrowed) public() State { return StateAttached }
func (released) public() State { return StateReleased }
