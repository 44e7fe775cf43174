package webhooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hookgate/internal/model"
	"hookgate/internal/store"
)

// DefaultConcurrency bounds in-flight deliveries per batch.
const DefaultConcurrency = 10

// Dispatcher resolves matching subscriptions for an event, snapshots the
// canonical payload, and drives the executor in concurrency-bounded batches.
type Dispatcher struct {
	Store       store.Store
	Exec        *Executor
	Concurrency int
}

func NewDispatcher(s store.Store) *Dispatcher {
	return &Dispatcher{Store: s, Exec: NewExecutor(s), Concurrency: DefaultConcurrency}
}

// Dispatch fans out one event to every enabled subscription of the org whose
// event set contains eventType. Zero matches is a normal outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID, eventType string, data map[string]any) (model.DispatchResult, error) {
	subs, err := d.Store.GetSubscriptionsForEvent(ctx, orgID, eventType)
	if err != nil {
		return model.DispatchResult{}, err
	}
	res := model.DispatchResult{SubscriptionIDs: []string{}}
	if len(subs) == 0 {
		return res, nil
	}
	envelope := model.EventEnvelope{
		Event:     eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	// serialized once; the snapshot is reused for signing and transmission
	payload, err := json.Marshal(envelope)
	if err != nil {
		return model.DispatchResult{}, err
	}
	for _, sub := range subs {
		_, err := d.Store.EnqueueDelivery(ctx, store.Delivery{
			OrgID:          orgID,
			SubscriptionID: sub.ID,
			EventType:      eventType,
			URL:            sub.URL,
			Secret:         sub.Secret,
			Headers:        sub.CustomHeaders,
			Payload:        payload,
			MaxAttempts:    sub.MaxRetries,
			TimeoutSec:     sub.TimeoutSec,
		})
		if err != nil {
			continue
		}
		res.DispatchedCount++
		res.SubscriptionIDs = append(res.SubscriptionIDs, sub.ID)
	}
	return res, nil
}

// BatchStats aggregates one ProcessPendingDeliveries run.
type BatchStats struct {
	Processed int              `json:"processed"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []DeliveryResult `json:"results,omitempty"`
}

// ProcessPendingDeliveries fetches up to limit due deliveries and executes
// them in sequential batches of Concurrency members; members of a batch run
// concurrently. A slow or timed-out delivery never cancels its siblings.
func (d *Dispatcher) ProcessPendingDeliveries(ctx context.Context, limit int) (BatchStats, error) {
	items, err := d.Store.FetchDueDeliveries(ctx, limit)
	if err != nil {
		return BatchStats{}, err
	}
	stats := BatchStats{Results: make([]DeliveryResult, len(items))}
	width := d.Concurrency
	if width <= 0 {
		width = DefaultConcurrency
	}
	for start := 0; start < len(items); start += width {
		end := start + width
		if end > len(items) {
			end = len(items)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				stats.Results[i] = d.Exec.Execute(ctx, items[i])
			}(i)
		}
		wg.Wait()
	}
	for _, r := range stats.Results {
		stats.Processed++
		if r.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}
