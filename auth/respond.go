package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/layer-3/passport/core"
)

// Responder delivers the terminal message of an attempt.
type Responder interface {
	Respond(ctx context.Context, msg core.RespondMessage) error
	// Close ends the authentication surface.
	Close(ctx context.Context) error
}

// Window is the opener side of a popup or frame.
type Window interface {
	PostMessage(msg core.RespondMessage, targetOrigin string) error
	Close() error
}

// Navigator performs full page navigations.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// CallbackResponder answers in the same page.
type CallbackResponder struct {
	Fn func(core.RespondMessage)
}

func (r CallbackResponder) Respond(_ context.Context, msg core.RespondMessage) error {
	if r.Fn != nil {
		r.Fn(msg)
	}
	return nil
}

func (CallbackResponder) Close(context.Context) error { return nil }

// MessageResponder posts the message to the opener window.
type MessageResponder struct {
	Window       Window
	TargetOrigin string
}

func (r MessageResponder) origin() string {
	if r.TargetOrigin == "" {
		return DefaultTargetOrigin
	}
	return r.TargetOrigin
}

func (r MessageResponder) Respond(_ context.Context, msg core.RespondMessage) error {
	return r.Window.PostMessage(msg, r.origin())
}

// Close notifies the opener and closes the window.
func (r MessageResponder) Close(_ context.Context) error {
	closing := core.RespondMessage{Channel: core.RespondChannel, RespondType: core.RespondSuccess, MessageType: core.MessageTypeClose}
	if err := r.Window.PostMessage(closing, r.origin()); err != nil {
		return err
	}
	return r.Window.Close()
}

// RedirectResponder navigates back to ReturnURL with the message encoded
// in the query string.
type RedirectResponder struct {
	Navigator Navigator
	ReturnURL string
}

func (r RedirectResponder) Respond(ctx context.Context, msg core.RespondMessage) error {
	u, err := url.Parse(r.ReturnURL)
	if err != nil {
		return fmt.Errorf("return url: %w", err)
	}
	q := u.Query()
	q.Set("respond_type", string(msg.RespondType))
	for k, v := range msg.Data {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return r.Navigator.Navigate(ctx, u.String())
}

func (RedirectResponder) Close(context.Context) error { return nil }
