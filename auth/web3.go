package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/ports"
)

// ConnectOutcome is what the orchestration layer observed for a wallet
// connection: the accepted session or the error that ended it.
type ConnectOutcome struct {
	Accounts []string
	ChainID  core.ChainID
	Session  core.CurrentSession

	// Challenge and Signature prove ownership of Accounts[0] when the
	// backend issued a challenge.
	Challenge string
	Signature string

	Err error
}

// Web3Resolver drives a wallet attempt. The wallet connects in page, so
// the only redirect it sees is the outcome reported by the orchestration
// layer.
type Web3Resolver struct {
	d    *Delegate
	desc *identity.Web3Descriptor

	mu sync.Mutex
}

var _ IdentityResolver = (*Web3Resolver)(nil)

func (r *Web3Resolver) WebVersion() core.WebVersion { return core.Decentralized }

// Descriptor returns the wallet descriptor the resolver serves.
func (r *Web3Resolver) Descriptor() *identity.Web3Descriptor { return r.desc }

// CaptureURI records that a wallet attempt is in progress. An outcome that
// was recorded before a reload is answered right away.
func (r *Web3Resolver) CaptureURI(ctx context.Context, data map[string]string) error {
	guard, err := passport.GetString(ctx, r.d.storage, passport.KeyWeb3Guard)
	if err != nil {
		return err
	}
	if guard != "" {
		return r.AuthenticateAndRespond(ctx, data)
	}
	return r.d.set(ctx, map[string]string{keyWebVersion: string(core.Decentralized)})
}

// OnAuthenticationRedirect records the connection outcome and answers the
// attempt. Only the first outcome of an attempt is processed.
func (r *Web3Resolver) OnAuthenticationRedirect(ctx context.Context, out ConnectOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	guard, err := passport.GetString(ctx, r.d.storage, passport.KeyWeb3Guard)
	if err != nil {
		return r.d.Fail(ctx, err)
	}
	if guard != "" {
		r.d.log.WithField("provider", r.desc.ID).Debug("duplicate connection outcome ignored")
		return nil
	}
	if err := r.d.storage.Set(ctx, passport.KeyWeb3Guard, r.d.AttemptID(), 0); err != nil {
		return r.d.Fail(ctx, err)
	}

	if err := r.record(ctx, out); err != nil {
		return r.d.Fail(ctx, err)
	}
	return r.AuthenticateAndRespond(ctx, nil)
}

func (r *Web3Resolver) record(ctx context.Context, out ConnectOutcome) error {
	s := r.d.storage
	if out.Err != nil {
		return errors.Join(
			s.Set(ctx, passport.KeyWeb3Error, out.Err.Error(), 0),
			s.Set(ctx, passport.KeyWeb3ErrorCode, ErrorCode(out.Err), 0),
		)
	}

	var address string
	if len(out.Accounts) > 0 {
		address = out.Accounts[0]
	}
	reg := ports.RegistrationSession{
		CurrentSession: out.Session,
		ChainID:        out.ChainID,
		Challenge:      out.Challenge,
		Signature:      out.Signature,
	}
	err := errors.Join(
		s.Set(ctx, passport.KeyWeb3Address, address, 0),
		s.Set(ctx, passport.KeyWeb3ChainID, string(out.ChainID), 0),
		passport.SetJSON(ctx, s, passport.KeyWeb3Session, reg, 0),
	)
	if err != nil {
		return err
	}
	return r.d.set(ctx, map[string]string{
		ParamPublicKey:     address,
		ParamChainID:       string(out.ChainID),
		ParamConnectorType: string(out.Session.ConnectorType),
	})
}

// AuthenticateAndRespond registers the recorded session with the backend,
// or reports the recorded error.
func (r *Web3Resolver) AuthenticateAndRespond(ctx context.Context, _ map[string]string) error {
	s := r.d.storage
	address, err1 := passport.GetString(ctx, s, passport.KeyWeb3Address)
	chainID, err2 := passport.GetString(ctx, s, passport.KeyWeb3ChainID)
	errMsg, err3 := passport.GetString(ctx, s, passport.KeyWeb3Error)
	errCode, err4 := passport.GetString(ctx, s, passport.KeyWeb3ErrorCode)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return r.d.Fail(ctx, err)
	}

	var reg ports.RegistrationSession
	hasSession := passport.GetJSON(ctx, s, passport.KeyWeb3Session, &reg) == nil && len(reg.Session) > 0

	switch {
	case address != "" && chainID != "" && hasSession:
		return r.register(ctx, reg)
	case errMsg != "":
		return r.d.RespondFailure(ctx, map[string]string{ParamError: errMsg, ParamErrorCode: errCode})
	}
	return r.d.Fail(ctx, core.ErrUnknownReason)
}

func (r *Web3Resolver) register(ctx context.Context, reg ports.RegistrationSession) error {
	if r.d.backend == nil {
		return r.d.Fail(ctx, fmt.Errorf("register: %w: no backend", core.ErrInvalidConfiguration))
	}
	project, err := r.d.projectIdentifier(ctx)
	if err != nil {
		return r.d.Fail(ctx, err)
	}

	tokens, err := r.d.backend.Register(ctx, ports.RegisterRequest{
		Provider:          r.desc.ID,
		Sessions:          []ports.RegistrationSession{reg},
		ProjectIdentifier: project,
	})
	if err != nil {
		return r.d.Fail(ctx, fmt.Errorf("%w: %w", core.ErrRegistrationFailed, err))
	}

	r.d.log.WithFields(logrus.Fields{"provider": r.desc.ID, "chain_id": reg.ChainID}).Info("wallet registered")
	return r.d.RespondSuccess(ctx, successData(tokens, reg.CurrentSession))
}

func successData(t core.Tokens, cs core.CurrentSession) map[string]string {
	return map[string]string{
		"refresh":          t.Refresh,
		"access":           t.Access,
		"uid":              cs.UID,
		ParamProvider:      cs.Provider,
		ParamConnectorType: string(cs.ConnectorType),
	}
}
