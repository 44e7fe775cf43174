package webhooks

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"hookgate/internal/metrics"
	"hookgate/internal/model"
	"hookgate/internal/store"
)

// maxResponseBody caps the stored response excerpt.
const maxResponseBody = 1000

// DeliveryResult is the structured outcome of one delivery attempt.
// Failures never propagate as errors; they are carried here.
type DeliveryResult struct {
	DeliveryID string `json:"deliveryId"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	LatencyMs  int    `json:"latencyMs"`
	Error      string `json:"error,omitempty"`
}

// Executor performs single delivery attempts and reports each outcome to the
// store exactly once.
type Executor struct {
	Store store.Store
	HTTP  *http.Client
}

func NewExecutor(s store.Store) *Executor {
	return &Executor{Store: s, HTTP: &http.Client{Timeout: time.Duration(model.MaxTimeoutSec) * time.Second}}
}

// Execute runs one HTTP delivery attempt for d and records the outcome.
// On failure the delivery is rescheduled with backoff, or dead-lettered once
// the attempt ceiling is reached.
func (e *Executor) Execute(ctx context.Context, d store.Delivery) DeliveryResult {
	timeout := time.Duration(model.ClampTimeout(d.TimeoutSec)) * time.Second
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ts := time.Now().Unix()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return e.report(ctx, d, DeliveryResult{DeliveryID: d.ID, Error: err.Error()}, "")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Webhook-ID", d.SubscriptionID)
	req.Header.Set("X-Delivery-ID", d.ID)
	if d.Secret != "" {
		req.Header.Set("X-Webhook-Signature", SignatureHeader(d.Secret, ts, d.Payload))
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())

	res := DeliveryResult{DeliveryID: d.ID, LatencyMs: latency}
	body := ""
	if err != nil {
		// timeout or network failure: no status, structured error only
		res.Error = err.Error()
		return e.report(ctx, d, res, body)
	}
	res.StatusCode = resp.StatusCode
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		body = string(b)
		_ = resp.Body.Close()
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Success = true
	} else {
		res.Error = "destination responded " + strconv.Itoa(resp.StatusCode)
	}
	return e.report(ctx, d, res, body)
}

// report writes exactly one attempt record. Store errors are logged, never
// returned; the batch driver only sees the result, which already carries the
// outcome.
func (e *Executor) report(ctx context.Context, d store.Delivery, res DeliveryResult, body string) DeliveryResult {
	outcome := store.AttemptOutcome{
		ResponseCode: res.StatusCode,
		ResponseBody: body,
		LatencyMs:    res.LatencyMs,
		Error:        res.Error,
	}
	status := "failure"
	var storeErr error
	if res.Success {
		status = "success"
		storeErr = e.Store.MarkDelivery(ctx, d.ID, true, nil, outcome)
	} else if d.Attempts+1 >= d.MaxAttempts {
		storeErr = e.Store.FailDelivery(ctx, d.ID, outcome)
	} else {
		next := time.Now().Add(nextBackoff(d.Attempts))
		storeErr = e.Store.MarkDelivery(ctx, d.ID, false, &next, outcome)
	}
	if storeErr != nil {
		log.Printf("webhook delivery %s: recording attempt failed: %v", d.ID, storeErr)
	}
	metrics.WebhookDeliveries.WithLabelValues(d.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(d.EventType, status).Observe(float64(res.LatencyMs))
	return res
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 { attempts = 0 }
	if attempts > 10 { attempts = 10 }
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour { base = time.Hour }
	return base
}
