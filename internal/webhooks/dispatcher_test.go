package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hookgate/internal/model"
	"hookgate/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	Err     string
}

type failRec struct {
	ID   string
	Code int
	Err  string
}

func (r *recordStore) MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, outcome store.AttemptOutcome) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: outcome.ResponseCode, Err: outcome.Error})
	r.mu.Unlock()
	return r.Memory.MarkDelivery(ctx, id, success, nextAttemptAt, outcome)
}

func (r *recordStore) FailDelivery(ctx context.Context, id string, outcome store.AttemptOutcome) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: outcome.ResponseCode, Err: outcome.Error})
	r.mu.Unlock()
	return r.Memory.FailDelivery(ctx, id, outcome)
}

func seedSubscription(t *testing.T, rs *recordStore, url string) model.Subscription {
	t.Helper()
	sub, err := rs.Memory.CreateSubscription(context.Background(), model.SubscriptionRequest{
		OrgID:      "org1",
		URL:        url,
		Events:     []string{"order.created"},
		MaxRetries: 3,
	}, "whsec_test")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func TestDispatchAndExecute_SuccessWithSignatureHeaders(t *testing.T) {
	var gotSig, gotTS, gotDeliveryID, gotSubID string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotTS = r.Header.Get("X-Webhook-Timestamp")
		gotDeliveryID = r.Header.Get("X-Delivery-ID")
		gotSubID = r.Header.Get("X-Webhook-ID")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	sub := seedSubscription(t, rs, srv.URL)
	d := NewDispatcher(rs)

	res, err := d.Dispatch(context.Background(), "org1", "order.created", map[string]any{"orderId": "o1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.DispatchedCount != 1 || res.SubscriptionIDs[0] != sub.ID {
		t.Fatalf("unexpected dispatch result: %+v", res)
	}

	stats, err := d.ProcessPendingDeliveries(context.Background(), 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if stats.Processed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if gotSubID != sub.ID || gotDeliveryID == "" {
		t.Fatalf("missing correlation headers: sub=%q delivery=%q", gotSubID, gotDeliveryID)
	}
	ts, err := strconv.ParseInt(gotTS, 10, 64)
	if err != nil {
		t.Fatalf("bad timestamp header %q", gotTS)
	}
	if !VerifySignature("whsec_test", ts, gotBody, gotSig) {
		t.Fatalf("signature did not verify against received body")
	}
	var env model.EventEnvelope
	if err := json.Unmarshal(gotBody, &env); err != nil || env.Event != "order.created" {
		t.Fatalf("bad envelope: %s", gotBody)
	}
	if len(rs.marks) != 1 || !rs.marks[0].Success {
		t.Fatalf("expected one success mark, got %+v", rs.marks)
	}
}

func TestDispatch_NoMatchingSubscriptions(t *testing.T) {
	rs := &recordStore{Memory: store.NewMemory()}
	seedSubscription(t, rs, "https://example.com/hook")
	d := NewDispatcher(rs)
	res, err := d.Dispatch(context.Background(), "org1", "order.deleted", nil)
	if err != nil {
		t.Fatalf("zero matches must not error: %v", err)
	}
	if res.DispatchedCount != 0 || len(res.SubscriptionIDs) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestExecute_FailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	seedSubscription(t, rs, srv.URL)
	d := NewDispatcher(rs)
	if _, err := d.Dispatch(context.Background(), "org1", "order.created", nil); err != nil {
		t.Fatal(err)
	}
	stats, _ := d.ProcessPendingDeliveries(context.Background(), 10)
	if stats.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", stats)
	}
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 {
		t.Fatalf("expected retry mark with code 500, got %+v", rs.marks)
	}
	if len(rs.fails) != 0 {
		t.Fatalf("first failure must not dead-letter: %+v", rs.fails)
	}
	// rescheduled with backoff, so it is no longer due now
	due, _ := rs.FetchDueDeliveries(context.Background(), 10)
	if len(due) != 0 {
		t.Fatalf("retry should be scheduled in the future, got %d due", len(due))
	}
}

func TestExecute_DeadLettersAtAttemptCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(503) }))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	seedSubscription(t, rs, srv.URL)
	d := NewDispatcher(rs)
	if _, err := d.Dispatch(context.Background(), "org1", "order.created", nil); err != nil {
		t.Fatal(err)
	}
	items, _ := rs.FetchDueDeliveries(context.Background(), 1)
	if len(items) != 1 {
		t.Fatalf("expected one due delivery")
	}
	del := items[0]
	del.Attempts = del.MaxAttempts - 1 // final attempt
	d.Exec.Execute(context.Background(), del)

	if len(rs.fails) != 1 || rs.fails[0].Code != 503 {
		t.Fatalf("expected terminal failure, got fails=%+v marks=%+v", rs.fails, rs.marks)
	}
	dlq, _, _ := rs.ListDLQ(context.Background(), "org1", "", "", 10)
	if len(dlq) != 1 {
		t.Fatalf("expected one DLQ entry, got %d", len(dlq))
	}
}

func TestExecute_NoResponseHasNoStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listening anymore

	rs := &recordStore{Memory: store.NewMemory()}
	seedSubscription(t, rs, url)
	d := NewDispatcher(rs)
	if _, err := d.Dispatch(context.Background(), "org1", "order.created", nil); err != nil {
		t.Fatal(err)
	}
	stats, _ := d.ProcessPendingDeliveries(context.Background(), 10)
	if stats.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", stats)
	}
	r := stats.Results[0]
	if r.Success || r.StatusCode != 0 || r.Error == "" {
		t.Fatalf("connection failure should have no status and a structured error: %+v", r)
	}
}

func TestExecute_TimeoutHasNoStatusCode(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out a 5s delivery timeout")
	}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(10 * time.Second):
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()
	defer close(release)

	rs := &recordStore{Memory: store.NewMemory()}
	sub := seedSubscription(t, rs, srv.URL)
	d := NewDispatcher(rs)

	start := time.Now()
	res := d.Exec.Execute(context.Background(), store.Delivery{
		ID:             "d-slow",
		OrgID:          "org1",
		SubscriptionID: sub.ID,
		EventType:      "order.created",
		URL:            srv.URL,
		Payload:        []byte(`{}`),
		MaxAttempts:    3,
		TimeoutSec:     5,
	})
	elapsed := time.Since(start)

	if res.Success || res.StatusCode != 0 {
		t.Fatalf("timed-out delivery must fail with no status: %+v", res)
	}
	if !strings.Contains(res.Error, "deadline") && !strings.Contains(res.Error, "timeout") {
		t.Fatalf("error should name the timeout, got %q", res.Error)
	}
	if elapsed < 4*time.Second || elapsed > 8*time.Second {
		t.Fatalf("attempt should give up at the 5s deadline, took %v", elapsed)
	}
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 0 {
		t.Fatalf("expected one retry mark with no status, got %+v", rs.marks)
	}
}

func TestExecute_ResponseBodyCapped(t *testing.T) {
	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	seedSubscription(t, rs, srv.URL)
	d := NewDispatcher(rs)
	if _, err := d.Dispatch(context.Background(), "org1", "order.created", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ProcessPendingDeliveries(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	items, _, _ := rs.ListDeliveries(context.Background(), "org1", "retry", "", 10)
	if len(items) != 1 {
		t.Fatalf("expected one retry delivery, got %d", len(items))
	}
	body, _ := items[0]["responseBody"].(string)
	if len(body) != maxResponseBody {
		t.Fatalf("expected body capped at %d, got %d", maxResponseBody, len(body))
	}
}

func TestProcessPendingDeliveries_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	seedSubscription(t, rs, srv.URL)
	d := NewDispatcher(rs)
	for i := 0; i < 25; i++ {
		if _, err := d.Dispatch(context.Background(), "org1", "order.created", map[string]any{"seq": i}); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := d.ProcessPendingDeliveries(context.Background(), 25)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Processed != 25 || stats.Succeeded != 25 {
		t.Fatalf("expected all 25 processed, got %+v", stats)
	}
	if p := atomic.LoadInt64(&peak); p > DefaultConcurrency {
		t.Fatalf("concurrency ceiling exceeded: peak %d", p)
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second {
		t.Fatalf("attempt 0: got %v", nextBackoff(0))
	}
	if nextBackoff(3) != 8*time.Second {
		t.Fatalf("attempt 3: got %v", nextBackoff(3))
	}
	if nextBackoff(30) != time.Hour {
		t.Fatalf("large attempt should cap at 1h, got %v", nextBackoff(30))
	}
}
