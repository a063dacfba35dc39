package ports

import (
	"context"

	"github.com/layer-3/passport/core"
)

// EventPublisher publishes authentication events to other instances and
// interested services
type EventPublisher interface {
	PublishAuthenticated(ctx context.Context, user core.User) error
	PublishAuthenticationFailed(ctx context.Context, provider, reason string) error
	PublishLogout(ctx context.Context, uid string, tokenID string) error
}
