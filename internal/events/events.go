// Package events publishes authentication events for downstream consumers.
package events

import (
	"context"
	"strconv"
	"time"
)

// Event types emitted by the auth service.
const (
	TypeUserRegistered     = "user.registered"
	TypeUserLoggedIn       = "user.logged_in"
	TypeSessionRevoked     = "session.revoked"
	TypeSessionsRevokedAll = "sessions.revoked_all"
)

// Event is the JSON document written to the event stream. It never carries
// token material.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	UserID     int64                  `json:"user_id"`
	Username   string                 `json:"username,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Key partitions events per user so consumers see them in order.
func (e Event) Key() string {
	return strconv.FormatInt(e.UserID, 10)
}

// Publisher delivers a single event.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event. Used when the event stream is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
