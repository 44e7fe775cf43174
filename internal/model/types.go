package model

import "time"

// Subscription bounds; values outside are clamped at write time.
const (
	MinRetryCeiling = 1
	MaxRetryCeiling = 5
	MinTimeoutSec   = 5
	MaxTimeoutSec   = 60
)

// SubscriptionRequest is the payload for registering an outbound webhook.
type SubscriptionRequest struct {
	OrgID         string            `json:"orgId"`
	URL           string            `json:"url"`
	Events        []string          `json:"events"`
	CustomHeaders map[string]string `json:"customHeaders,omitempty"`
	MaxRetries    int               `json:"maxRetries,omitempty"`
	TimeoutSec    int               `json:"timeoutSec,omitempty"`
}

// Subscription is a customer registration for outbound event delivery.
// Secret is minted once at creation and only included in the creation response.
type Subscription struct {
	ID                  string            `json:"id"`
	OrgID               string            `json:"orgId"`
	URL                 string            `json:"url"`
	Secret              string            `json:"secret,omitempty"`
	Events              []string          `json:"events"`
	CustomHeaders       map[string]string `json:"customHeaders,omitempty"`
	Enabled             bool              `json:"enabled"`
	MaxRetries          int               `json:"maxRetries"`
	TimeoutSec          int               `json:"timeoutSec"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	LastTriggeredAt     *time.Time        `json:"lastTriggeredAt,omitempty"`
	LastSuccessAt       *time.Time        `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time        `json:"lastFailureAt,omitempty"`
}

// SubscriptionPatch is a field-level partial update. Nil means leave unchanged.
// Re-enabling resets the consecutive-failure counter.
type SubscriptionPatch struct {
	URL           *string           `json:"url,omitempty"`
	Events        []string          `json:"events,omitempty"`
	CustomHeaders map[string]string `json:"customHeaders,omitempty"`
	Enabled       *bool             `json:"enabled,omitempty"`
	MaxRetries    *int              `json:"maxRetries,omitempty"`
	TimeoutSec    *int              `json:"timeoutSec,omitempty"`
}

// ClampRetries bounds the retry ceiling.
func ClampRetries(n int) int {
	if n < MinRetryCeiling {
		return MinRetryCeiling
	}
	if n > MaxRetryCeiling {
		return MaxRetryCeiling
	}
	return n
}

// ClampTimeout bounds the per-delivery timeout in seconds.
func ClampTimeout(n int) int {
	if n < MinTimeoutSec {
		return MinTimeoutSec
	}
	if n > MaxTimeoutSec {
		return MaxTimeoutSec
	}
	return n
}

// EventEnvelope is the canonical JSON body transmitted to subscribers.
type EventEnvelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// DispatchResult summarizes one fan-out.
type DispatchResult struct {
	DispatchedCount int      `json:"dispatchedCount"`
	SubscriptionIDs []string `json:"subscriptionIds"`
}

// ChannelMessage is the normalized inbound message handed to the message
// pipeline after verification. Raw carries the provider-native payload bytes.
type ChannelMessage struct {
	Provider   string    `json:"provider"`
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	ChannelID  string    `json:"channelId,omitempty"`
	Text       string    `json:"text,omitempty"`
	Raw        []byte    `json:"raw,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}
