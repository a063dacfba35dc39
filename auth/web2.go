package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/ports"
)

// Web2Resolver drives an OAuth code exchange attempt.
type Web2Resolver struct {
	d    *Delegate
	desc *identity.Web2Descriptor
}

var _ IdentityResolver = (*Web2Resolver)(nil)

func (r *Web2Resolver) WebVersion() core.WebVersion { return core.Centralized }

// Descriptor returns the OAuth descriptor the resolver serves.
func (r *Web2Resolver) Descriptor() *identity.Web2Descriptor { return r.desc }

// CaptureURI answers a redirect that carries a code or an error. Otherwise
// it asks the backend for the vendor's authorization URL, stores the
// verifiers the vendor must echo back and navigates away.
func (r *Web2Resolver) CaptureURI(ctx context.Context, data map[string]string) error {
	if data[ParamCode] != "" || data[ParamError] != "" {
		return r.AuthenticateAndRespond(ctx, data)
	}

	project, err := r.d.projectIdentifier(ctx)
	if err != nil {
		return err
	}
	if project == "" {
		return fmt.Errorf("oauth redirect: %w", core.ErrProjectIdentifierMissing)
	}
	if r.d.backend == nil || r.d.navigator == nil {
		return fmt.Errorf("oauth redirect: %w: backend and navigator required", core.ErrInvalidConfiguration)
	}

	resp, err := r.d.backend.OAuthRedirect(ctx, ports.RedirectRequest{
		Provider:          r.desc.Vendor,
		RedirectURI:       r.d.redirectURI,
		ProjectIdentifier: project,
	})
	if err != nil {
		return err
	}
	if err := passport.SetJSON(ctx, r.d.storage, passport.KeyVerifiers, resp.Verifiers, 0); err != nil {
		return err
	}
	if err := r.d.set(ctx, map[string]string{keyWebVersion: string(core.Centralized)}); err != nil {
		return err
	}

	r.d.log.WithField("provider", r.desc.ID).Debug("redirecting to oauth vendor")
	return r.d.navigator.Navigate(ctx, resp.URL)
}

// VerifySuccessParameters reports whether data echoes every stored
// verifier. A missing verifier record fails.
func (r *Web2Resolver) VerifySuccessParameters(ctx context.Context, data map[string]string) bool {
	var verifiers map[string]string
	if err := passport.GetJSON(ctx, r.d.storage, passport.KeyVerifiers, &verifiers); err != nil {
		if !errors.Is(err, passport.ErrKeyNotFound) {
			r.d.log.WithError(err).Warn("reading oauth verifiers")
		}
		return false
	}
	if len(verifiers) == 0 {
		return false
	}
	for k, v := range verifiers {
		got, ok := data[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// AuthenticateAndRespond finishes the code exchange.
func (r *Web2Resolver) AuthenticateAndRespond(ctx context.Context, data map[string]string) error {
	if msg := data[ParamError]; msg != "" {
		return r.d.RespondFailure(ctx, map[string]string{ParamError: msg, ParamErrorCode: data[ParamErrorCode]})
	}
	if data[ParamCode] == "" || !r.VerifySuccessParameters(ctx, data) {
		return r.d.Fail(ctx, core.ErrAuthenticityFailed)
	}
	if r.d.backend == nil {
		return r.d.Fail(ctx, fmt.Errorf("register: %w: no backend", core.ErrInvalidConfiguration))
	}

	project, err := r.d.projectIdentifier(ctx)
	if err != nil {
		return r.d.Fail(ctx, err)
	}
	session := core.CurrentSession{Provider: r.desc.ID, ConnectorType: core.ConnectorOAuth}
	tokens, err := r.d.backend.Register(ctx, ports.RegisterRequest{
		Provider: r.desc.ID,
		Sessions: []ports.RegistrationSession{{
			CurrentSession: session,
			Code:           data[ParamCode],
			State:          data[ParamState],
			RedirectURI:    r.d.redirectURI,
		}},
		ProjectIdentifier: project,
	})
	if err != nil {
		return r.d.Fail(ctx, fmt.Errorf("%w: %w", core.ErrRegistrationFailed, err))
	}

	r.d.log.WithFields(logrus.Fields{"provider": r.desc.ID}).Info("oauth identity registered")
	return r.d.RespondSuccess(ctx, successData(tokens, session))
}
