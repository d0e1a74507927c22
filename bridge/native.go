package bridge

import (
	"github.com/wippyai/mapstyle-bridge/errors"
	"github.com/wippyai/mapstyle-bridge/host"
)

// Proxy class layout registered with the host runtime.
const (
	ClassName            = "Source"
	HandleField          = "nativePtr"
	MethodGetID          = "nativeGetId"
	MethodGetAttribution = "nativeGetAttribution"
)

// RegisterNative registers the Source proxy class and its native methods.
// It must run once per runtime before New or Peer.Proxy.
func RegisterNative(rt *host.Runtime) error {
	_, err := rt.RegisterClass(ClassName, HandleField, map[string]host.NativeMethod{
		MethodGetID: func(_ *host.Env, v any) (string, error) {
			p, err := asPeer(v)
			if err != nil {
				return "", err
			}
			return p.ID(), nil
		},
		MethodGetAttribution: func(_ *host.Env, v any) (string, error) {
			p, err := asPeer(v)
			if err != nil {
				return "", err
			}
			text, _ := p.Attribution()
			return text, nil
		},
	})
	return err
}

func class(rt *host.Runtime) (*host.Class, error) {
	c, ok := rt.Class(ClassName)
	if !ok {
		return nil, errors.NotInitialized(errors.PhaseHost, "class "+ClassName)
	}
	return c, nil
}

func asPeer(v any) (*Peer, error) {
	p, ok := v.(*Peer)
	if !ok {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("%s handle resolves to %T", ClassName, v).
			Build()
	}
	return p, nil
}

// GetID calls the proxy's id accessor.
func GetID(proxy *host.Proxy) (string, error) {
	return proxy.Call(MethodGetID)
}

// GetAttribution calls the proxy's attribution accessor. A source without
// attribution yields an empty string.
func GetAttribution(proxy *host.Proxy) (string, error) {
	return proxy.Call(MethodGetAttribution)
}
