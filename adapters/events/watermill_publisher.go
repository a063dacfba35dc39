package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const (
	TopicAuthenticated        = "passport.authenticated"
	TopicAuthenticationFailed = "passport.authentication_failed"
	TopicLogout               = "passport.logout"
)

// AuthenticatedEvent is published when an identity was registered
type AuthenticatedEvent struct {
	UID      string    `json:"uid"`
	Provider string    `json:"provider"`
	At       time.Time `json:"at"`
}

// AuthenticationFailedEvent is published when an attempt ends in failure
type AuthenticationFailedEvent struct {
	Provider string    `json:"provider"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// LogoutEvent represents a logout event
type LogoutEvent struct {
	UID     string `json:"uid"`
	TokenID string `json:"token_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher, now: time.Now}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

func (p *WatermillPublisher) PublishAuthenticated(ctx context.Context, user core.User) error {
	return p.publish(ctx, TopicAuthenticated, watermill.NewUUID(), AuthenticatedEvent{
		UID:      user.UID,
		Provider: user.Provider,
		At:       p.now().UTC(),
	})
}

func (p *WatermillPublisher) PublishAuthenticationFailed(ctx context.Context, provider, reason string) error {
	return p.publish(ctx, TopicAuthenticationFailed, watermill.NewUUID(), AuthenticationFailedEvent{
		Provider: provider,
		Reason:   reason,
		At:       p.now().UTC(),
	})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, uid string, tokenID string) error {
	return p.publish(ctx, TopicLogout, tokenID, LogoutEvent{UID: uid, TokenID: tokenID})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
