package provider

import (
	"context"
	"fmt"

	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
)

// SessionVerifier checks that the signer behind a connected injected channel
// is the brand an identity provider expects.
type SessionVerifier interface {
	VerifySession(ctx context.Context, h channel.Handle) error
}

// SessionVerifierFunc adapts a function to SessionVerifier.
type SessionVerifierFunc func(ctx context.Context, h channel.Handle) error

func (f SessionVerifierFunc) VerifySession(ctx context.Context, h channel.Handle) error {
	return f(ctx, h)
}

// FlagVerifier accepts handles that raise every listed brand flag
// (isMetaMask, isCoinbaseWallet) and none of the excluded ones. Several
// wallets impersonate MetaMask, hence the exclusions.
type FlagVerifier struct {
	Require []string
	Exclude []string
}

func (v FlagVerifier) VerifySession(_ context.Context, h channel.Handle) error {
	src, ok := h.(channel.FlagSource)
	if !ok {
		return fmt.Errorf("%w: handle exposes no brand flags", core.ErrIncompatiblePlatform)
	}
	for _, f := range v.Require {
		if !src.Flag(f) {
			return fmt.Errorf("%w: %s not set", core.ErrIncompatiblePlatform, f)
		}
	}
	for _, f := range v.Exclude {
		if src.Flag(f) {
			return fmt.Errorf("%w: %s set", core.ErrIncompatiblePlatform, f)
		}
	}
	return nil
}
