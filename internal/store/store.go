package store

import (
	"context"
	"errors"
	"time"

	"hookgate/internal/model"
)

// Store is the bookkeeping collaborator used by the API server and the
// outbound dispatch engine.
type Store interface {
	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest, secret string) (model.Subscription, error)
	GetSubscription(ctx context.Context, orgID, id string) (model.Subscription, error)
	ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error)
	PatchSubscription(ctx context.Context, orgID, id string, patch model.SubscriptionPatch) (model.Subscription, error)
	DeleteSubscription(ctx context.Context, orgID, id string) error
	// GetSubscriptionsForEvent returns enabled subscriptions whose event set
	// contains eventType.
	GetSubscriptionsForEvent(ctx context.Context, orgID, eventType string) ([]model.Subscription, error)

	// Deliveries. The delivery row snapshots everything an attempt needs
	// (url, secret, headers, timeout) so the executor never re-reads the
	// subscription mid-flight.
	EnqueueDelivery(ctx context.Context, d Delivery) (string, error)
	FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	// MarkDelivery records one attempt outcome. Failures are rescheduled at
	// nextAttemptAt (status retry); successes are terminal.
	MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, outcome AttemptOutcome) error
	// FailDelivery is terminal: the delivery moves to failed and is copied to
	// the dead-letter queue.
	FailDelivery(ctx context.Context, id string, outcome AttemptOutcome) error
	ListDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryDelivery(ctx context.Context, orgID, id string) error

	// Dead-letter queue
	ListDLQ(ctx context.Context, orgID, eventType, cursor string, limit int) ([]map[string]any, string, error)
	RequeueDLQ(ctx context.Context, orgID, id string) error

	Ping(ctx context.Context) error
}

// AttemptOutcome is what the delivery executor reports per attempt.
type AttemptOutcome struct {
	ResponseCode int // 0 when no response was received
	ResponseBody string
	LatencyMs    int
	Error        string
}

var ErrNotFound = errors.New("not found")

// consecutive failures before a subscription is auto-disabled
const circuitBreakThreshold = 10
