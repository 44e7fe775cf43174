package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"hookgate/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	subs       map[string]*model.Subscription // id -> subscription
	subsByOrg  map[string][]string            // org -> subscription ids
	deliveries map[string]*memDelivery        // id -> delivery state
	delivByOrg map[string][]string            // org -> delivery ids
	dlq        []map[string]any               // dead-lettered deliveries
}

func NewMemory() *Memory {
	return &Memory{
		subs:       map[string]*model.Subscription{},
		subsByOrg:  map[string][]string{},
		deliveries: map[string]*memDelivery{},
		delivByOrg: map[string][]string{},
		dlq:        []map[string]any{},
	}
}

// memDelivery augments Delivery with scheduling/outcome state
type memDelivery struct {
	Delivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	ResponseBody  string
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest, secret string) (model.Subscription, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	id := uuid.New().String()
	sub := &model.Subscription{
		ID:            id,
		OrgID:         req.OrgID,
		URL:           req.URL,
		Secret:        secret,
		Events:        append([]string(nil), req.Events...),
		CustomHeaders: req.CustomHeaders,
		Enabled:       true,
		MaxRetries:    model.ClampRetries(req.MaxRetries),
		TimeoutSec:    model.ClampTimeout(req.TimeoutSec),
	}
	m.subs[id] = sub
	m.subsByOrg[req.OrgID] = append(m.subsByOrg[req.OrgID], id)
	return *sub, nil
}

func (m *Memory) GetSubscription(ctx context.Context, orgID, id string) (model.Subscription, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	sub := m.subs[id]
	if sub == nil || sub.OrgID != orgID { return model.Subscription{}, ErrNotFound }
	out := *sub
	out.Secret = ""
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, orgID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ids := m.subsByOrg[orgID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor { start = i + 1; break }
		}
	}
	if limit <= 0 { limit = 100 }
	out := []model.Subscription{}
	var last string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		sub := m.subs[ids[i]]
		if sub == nil { continue }
		s := *sub
		s.Secret = ""
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (m *Memory) PatchSubscription(ctx context.Context, orgID, id string, patch model.SubscriptionPatch) (model.Subscription, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	sub := m.subs[id]
	if sub == nil || sub.OrgID != orgID { return model.Subscription{}, ErrNotFound }
	if patch.URL != nil { sub.URL = *patch.URL }
	if len(patch.Events) > 0 { sub.Events = append([]string(nil), patch.Events...) }
	if patch.CustomHeaders != nil { sub.CustomHeaders = patch.CustomHeaders }
	if patch.MaxRetries != nil { sub.MaxRetries = model.ClampRetries(*patch.MaxRetries) }
	if patch.TimeoutSec != nil { sub.TimeoutSec = model.ClampTimeout(*patch.TimeoutSec) }
	if patch.Enabled != nil {
		if *patch.Enabled && !sub.Enabled {
			sub.ConsecutiveFailures = 0
		}
		sub.Enabled = *patch.Enabled
	}
	out := *sub
	out.Secret = ""
	return out, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, orgID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	sub := m.subs[id]
	if sub == nil || sub.OrgID != orgID { return ErrNotFound }
	delete(m.subs, id)
	ids := m.subsByOrg[orgID]
	for i, v := range ids {
		if v == id { m.subsByOrg[orgID] = append(ids[:i], ids[i+1:]...); break }
	}
	return nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, orgID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, id := range m.subsByOrg[orgID] {
		sub := m.subs[id]
		if sub == nil || !sub.Enabled { continue }
		for _, ev := range sub.Events {
			if ev == eventType {
				out = append(out, *sub)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueDelivery(ctx context.Context, d Delivery) (string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if d.ID == "" { d.ID = uuid.New().String() }
	d.Status = "pending"
	d.Attempts = 0
	md := &memDelivery{Delivery: d, NextAttemptAt: time.Now()}
	m.deliveries[d.ID] = md
	m.delivByOrg[d.OrgID] = append(m.delivByOrg[d.OrgID], d.ID)
	if sub := m.subs[d.SubscriptionID]; sub != nil {
		now := time.Now().UTC()
		sub.LastTriggeredAt = &now
	}
	return d.ID, nil
}

func (m *Memory) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	now := time.Now()
	out := []Delivery{}
	for _, ids := range m.delivByOrg {
		for _, id := range ids {
			d := m.deliveries[id]
			if d == nil { continue }
			if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
				out = append(out, d.Delivery)
				if limit > 0 && len(out) >= limit { return out, nil }
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, outcome AttemptOutcome) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil { return nil }
	d.Attempts++
	d.ResponseCode = outcome.ResponseCode
	d.ResponseBody = outcome.ResponseBody
	d.LatencyMs = outcome.LatencyMs
	now := time.Now().UTC()
	if success {
		d.Status = "success"
		d.DeliveredAt = &now
		d.LastError = ""
		if sub := m.subs[d.SubscriptionID]; sub != nil {
			sub.ConsecutiveFailures = 0
			sub.LastSuccessAt = &now
		}
		return nil
	}
	d.Status = "retry"
	d.LastError = outcome.Error
	if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
	m.recordSubFailure(d.SubscriptionID, now)
	return nil
}

func (m *Memory) FailDelivery(ctx context.Context, id string, outcome AttemptOutcome) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil { return nil }
	d.Attempts++
	d.Status = "failed"
	d.LastError = outcome.Error
	d.ResponseCode = outcome.ResponseCode
	d.ResponseBody = outcome.ResponseBody
	d.LatencyMs = outcome.LatencyMs
	m.dlq = append(m.dlq, map[string]any{
		"id": d.ID, "orgId": d.OrgID, "subscriptionId": d.SubscriptionID,
		"eventType": d.EventType, "url": d.URL, "attempts": d.Attempts,
		"lastError": outcome.Error, "responseCode": outcome.ResponseCode,
	})
	m.recordSubFailure(d.SubscriptionID, time.Now().UTC())
	return nil
}

// recordSubFailure updates circuit-breaking state; caller holds mu.
func (m *Memory) recordSubFailure(subID string, now time.Time) {
	sub := m.subs[subID]
	if sub == nil { return }
	sub.ConsecutiveFailures++
	sub.LastFailureAt = &now
	if sub.ConsecutiveFailures >= circuitBreakThreshold {
		sub.Enabled = false
	}
}

func (m *Memory) ListDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.delivByOrg[orgID] {
		d := m.deliveries[id]
		if d == nil { continue }
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "subscriptionId": d.SubscriptionID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if d.ResponseCode != 0 { item["responseCode"] = d.ResponseCode }
			if d.ResponseBody != "" { item["responseBody"] = d.ResponseBody }
			if d.LatencyMs != 0 { item["latencyMs"] = d.LatencyMs }
			if d.LastError != "" { item["lastError"] = d.LastError }
			if !d.NextAttemptAt.IsZero() && d.Status == "retry" { item["nextAttemptAt"] = d.NextAttemptAt }
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) RetryDelivery(ctx context.Context, orgID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.OrgID != orgID { return ErrNotFound }
	d.Status = "pending"
	d.NextAttemptAt = time.Now()
	return nil
}

func (m *Memory) ListDLQ(ctx context.Context, orgID, eventType, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []map[string]any{}
	for _, item := range m.dlq {
		if orgID != "" && item["orgId"] != orgID { continue }
		if eventType != "" && item["eventType"] != eventType { continue }
		out = append(out, item)
	}
	return out, "", nil
}

func (m *Memory) RequeueDLQ(ctx context.Context, orgID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	for i, item := range m.dlq {
		if item["id"] == id && item["orgId"] == orgID {
			if d := m.deliveries[id]; d != nil {
				d.Status = "pending"
				d.NextAttemptAt = time.Now()
			}
			m.dlq = append(m.dlq[:i], m.dlq[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
