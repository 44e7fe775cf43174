package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hookgate/internal/config"
	"hookgate/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(config.Config{
		Providers: config.ProviderSecrets{TelegramSecret: "tok"},
		Inbound:   config.InboundConfig{RateRPS: 1000, RateBurst: 1000},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", map[string]any{
		"url": "https://example.com/hook", "events": []string{"order.created"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", rr.Code, rr.Body)
	}
	var created model.Subscription
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.Secret, "whsec_") {
		t.Fatalf("creation response must include a minted secret, got %q", created.Secret)
	}

	// get: no secret
	rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodGet, "/v1/subscriptions/"+created.ID, nil)
	if rr.Code != 200 {
		t.Fatalf("get: got %d", rr.Code)
	}
	var got model.Subscription
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Secret != "" {
		t.Fatalf("get leaked the secret")
	}

	// patch
	rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodPatch, "/v1/subscriptions/"+created.ID, map[string]any{
		"url": "https://example.com/hook2", "enabled": false,
	})
	if rr.Code != 200 {
		t.Fatalf("patch: got %d: %s", rr.Code, rr.Body)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.URL != "https://example.com/hook2" || got.Enabled {
		t.Fatalf("patch not applied: %+v", got)
	}

	// list
	rr = doJSON(t, s.SubscriptionsHandler, http.MethodGet, "/v1/subscriptions?limit=10", nil)
	if rr.Code != 200 {
		t.Fatalf("list: got %d", rr.Code)
	}

	// delete then 404
	rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+created.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", rr.Code)
	}
	rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodGet, "/v1/subscriptions/"+created.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d", rr.Code)
	}
}

func TestSubscriptionValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []map[string]any{
		{"url": "ftp://example.com", "events": []string{"a"}},
		{"url": "https://example.com", "events": []string{}},
		{"url": "", "events": []string{"a"}},
	}
	for i, c := range cases {
		rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", c)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rr.Code)
		}
	}
}

func TestSubscriptionAdminRequired(t *testing.T) {
	s := newTestServer(t)
	b, _ := json.Marshal(map[string]any{"url": "https://example.com/h", "events": []string{"a"}})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(b))
	req.Header.Set("X-Role", "user")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin create: expected 403, got %d", rr.Code)
	}
}

func TestEventsDispatch(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", map[string]any{
		"url": "https://example.com/hook", "events": []string{"order.created"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d", rr.Code)
	}

	rr = doJSON(t, s.EventsHandler, http.MethodPost, "/v1/events", map[string]any{
		"eventType": "order.created", "data": map[string]any{"orderId": "o1"},
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("dispatch: got %d: %s", rr.Code, rr.Body)
	}
	var res model.DispatchResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.DispatchedCount != 1 || len(res.SubscriptionIDs) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// no matching subscription is still accepted
	rr = doJSON(t, s.EventsHandler, http.MethodPost, "/v1/events", map[string]any{"eventType": "order.deleted"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("no-match dispatch: got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.DispatchedCount != 0 {
		t.Fatalf("expected zero dispatched, got %+v", res)
	}

	// missing eventType
	rr = doJSON(t, s.EventsHandler, http.MethodPost, "/v1/events", map[string]any{"data": map[string]any{}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing eventType: got %d", rr.Code)
	}
}

func TestEventsDispatchPublishesToBroker(t *testing.T) {
	s := newTestServer(t)
	ch := s.Broker.Subscribe("org_demo")
	defer s.Broker.Unsubscribe("org_demo", ch)

	doJSON(t, s.EventsHandler, http.MethodPost, "/v1/events", map[string]any{"eventType": "order.created"})
	select {
	case evt := <-ch:
		if evt.Type != "event.dispatched" {
			t.Fatalf("unexpected event type %q", evt.Type)
		}
	default:
		t.Fatalf("no broker event published")
	}
}

func TestWebhookIngress(t *testing.T) {
	s := newTestServer(t)

	// missing provider
	rr := httptest.NewRecorder()
	s.WebhookIngressHandler(rr, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`))))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing provider: got %d", rr.Code)
	}

	// unknown provider
	rr = httptest.NewRecorder()
	s.WebhookIngressHandler(rr, httptest.NewRequest(http.MethodPost, "/webhook?provider=carrierpigeon", bytes.NewReader([]byte(`{}`))))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider: got %d", rr.Code)
	}

	// bad telegram secret
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook?provider=telegram", bytes.NewReader([]byte(`{"update_id":1}`)))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	s.WebhookIngressHandler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret: got %d", rr.Code)
	}

	// accepted
	rr = httptest.NewRecorder()
	body := []byte(`{"update_id":1,"message":{"message_id":2,"from":{"id":3},"chat":{"id":4},"text":"hi"}}`)
	req = httptest.NewRequest(http.MethodPost, "/webhook?provider=telegram", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "tok")
	s.WebhookIngressHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("accepted: got %d: %s", rr.Code, rr.Body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type: %q", ct)
	}

	// GET not allowed
	rr = httptest.NewRecorder()
	s.WebhookIngressHandler(rr, httptest.NewRequest(http.MethodGet, "/webhook?provider=telegram", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: got %d", rr.Code)
	}
}

func TestDeliveriesAndDLQEndpoints(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s.WebhookDeliveriesHandler, http.MethodGet, "/v1/admin/webhook-deliveries", nil)
	if rr.Code != 200 {
		t.Fatalf("deliveries list: got %d", rr.Code)
	}
	rr = doJSON(t, s.WebhookDLQHandler, http.MethodGet, "/v1/admin/webhook-dlq", nil)
	if rr.Code != 200 {
		t.Fatalf("dlq list: got %d", rr.Code)
	}
	rr = doJSON(t, s.WebhookDeliveriesHandler, http.MethodPost, "/v1/admin/webhook-deliveries/process", nil)
	if rr.Code != 200 {
		t.Fatalf("process: got %d: %s", rr.Code, rr.Body)
	}
	rr = doJSON(t, s.WebhookDeliveryRetryHandler, http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("retry unknown: got %d", rr.Code)
	}
	rr = doJSON(t, s.WebhookDLQHandler, http.MethodPost, "/v1/admin/webhook-dlq/nope/requeue", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("requeue unknown: got %d", rr.Code)
	}
}
