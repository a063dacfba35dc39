package channel

import (
	"github.com/layer-3/passport/core"
)

// Factory builds channels of one transport family. It is what an identity
// provider declares for each way its signer can be reached.
type Factory struct {
	ConnectorType core.ConnectorType

	// ValidateSession reports whether a stored session belongs to this
	// factory.
	ValidateSession func(core.Session) bool

	// New builds a channel, resuming session when it is non-nil.
	New func(session core.Session) (Channel, error)
}

// InjectedFactory builds injected channels bound to path in env.
func InjectedFactory(env *Environment, path string, opts ...Option) Factory {
	return Factory{
		ConnectorType:   core.ConnectorInjected,
		ValidateSession: ValidateInjectedSession,
		New: func(session core.Session) (Channel, error) {
			if len(session) == 0 {
				return NewInjectedChannel(env, path, opts...), nil
			}
			return RestoreInjectedChannel(env, session, opts...)
		},
	}
}

// RelayFactory builds relay channels over transport.
func RelayFactory(transport RelayTransport, cfg RelayConfig, opts ...Option) Factory {
	return Factory{
		ConnectorType:   core.ConnectorRelay,
		ValidateSession: ValidateRelaySession,
		New: func(session core.Session) (Channel, error) {
			if len(session) == 0 {
				return NewRelayChannel(transport, cfg, nil, opts...), nil
			}
			return RestoreRelayChannel(transport, cfg, session, opts...)
		},
	}
}
