package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hookgate/internal/inbound"
	"hookgate/internal/model"
	"hookgate/internal/store"
	"hookgate/internal/webhooks"
)

const maxInboundBody = 1 << 20

// WebhookIngressHandler handles POST /webhook?provider=<id>
func (s *Server) WebhookIngressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	providerID := r.URL.Query().Get("provider")
	if providerID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing provider", "provider query parameter is required", r.URL.Path)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error(), r.URL.Path)
		return
	}
	resp := s.Gateway.Handle(r.Context(), providerID, &inbound.Request{Provider: providerID, Header: r.Header, Body: body})
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// EventsHandler handles POST /v1/events: fan one platform event out to
// matching subscriptions.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	var req struct {
		EventType string         `json:"eventType"`
		Data      map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.EventType == "" {
		writeProblem(w, http.StatusBadRequest, "Missing eventType", "", r.URL.Path)
		return
	}
	res, err := s.Dispatch.Dispatch(r.Context(), p.Org, req.EventType, req.Data)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Dispatch failed", err.Error(), r.URL.Path)
		return
	}
	s.Broker.Publish(p.Org, GatewayEvent{Type: "event.dispatched", Data: map[string]any{
		"eventType": req.EventType, "dispatchedCount": res.DispatchedCount, "ts": time.Now().UTC().Format(time.RFC3339),
	}})
	writeJSON(w, http.StatusAccepted, res)
}

// SubscriptionsHandler handles /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.OrgID == "" { req.OrgID = p.Org }
		if err := validateSubscriptionRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		// secret is minted here and returned exactly once
		sub, err := s.Store.CreateSubscription(r.Context(), req, webhooks.NewSecret())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		p := s.getPrincipal(r)
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Org, cursor, limit)
		if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
		if items == nil { items = []model.Subscription{} }
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		sub, err := s.Store.GetSubscription(r.Context(), p.Org, id)
		if err != nil { s.subErr(w, r, err, "Get subscription failed"); return }
		writeJSON(w, 200, sub)
	case http.MethodPatch:
		if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
		var patch model.SubscriptionPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if patch.URL != nil && !validDestinationURL(*patch.URL) {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url must be http or https", r.URL.Path)
			return
		}
		sub, err := s.Store.PatchSubscription(r.Context(), p.Org, id, patch)
		if err != nil { s.subErr(w, r, err, "Patch subscription failed"); return }
		writeJSON(w, 200, sub)
	case http.MethodDelete:
		if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
		if err := s.Store.DeleteSubscription(r.Context(), p.Org, id); err != nil {
			s.subErr(w, r, err, "Delete subscription failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) subErr(w http.ResponseWriter, r *http.Request, err error, title string) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries and
// POST /v1/admin/webhook-deliveries/process
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/process") {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
		stats, err := s.Dispatch.ProcessPendingDeliveries(r.Context(), limit)
		if err != nil { writeProblem(w, 500, "Process deliveries failed", err.Error(), r.URL.Path); return }
		writeJSON(w, 200, stats)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
	items, next, err := s.Store.ListDeliveries(r.Context(), p.Org, status, cursor, limit)
	if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/")
	id := strings.TrimSuffix(rest, "/retry")
	if id == "" || id == rest {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if err := s.Store.RetryDelivery(r.Context(), p.Org, id); err != nil {
		s.subErr(w, r, err, "Retry delivery failed")
		return
	}
	writeJSON(w, 200, map[string]any{"id": id, "status": "pending"})
}

// WebhookDLQHandler handles /v1/admin/webhook-dlq and /v1/admin/webhook-dlq/{id}/requeue
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
	if r.Method == http.MethodPost {
		rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-dlq/")
		id := strings.TrimSuffix(rest, "/requeue")
		if id == "" || id == rest {
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
			return
		}
		if err := s.Store.RequeueDLQ(r.Context(), p.Org, id); err != nil {
			s.subErr(w, r, err, "Requeue failed")
			return
		}
		writeJSON(w, 200, map[string]any{"id": id, "requeued": true})
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	eventType := r.URL.Query().Get("eventType")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
	items, next, err := s.Store.ListDLQ(r.Context(), p.Org, eventType, cursor, limit)
	if err != nil { writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"status": "ready"})
}
