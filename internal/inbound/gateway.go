package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"golang.org/x/time/rate"

	"hookgate/internal/config"
	"hookgate/internal/metrics"
	"hookgate/internal/model"
)

// Pipeline is the internal message-processing collaborator. Opaque to the
// gateway; it only sees verified, normalized messages.
type Pipeline interface {
	ProcessChannelMessage(ctx context.Context, provider string, msg model.ChannelMessage) error
}

// Response is the provider-facing acknowledgment built by the gateway.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

const twilioEmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Gateway is the single inbound entry point. Requests are independent and
// stateless; the per-provider secrets inside the registry are read-only
// after construction.
type Gateway struct {
	Registry *Registry
	Pipeline Pipeline
	limiters map[string]*rate.Limiter
}

func NewGateway(reg *Registry, p Pipeline, cfg config.InboundConfig) *Gateway {
	limiters := map[string]*rate.Limiter{}
	for _, provider := range reg.Providers() {
		limiters[provider] = rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	}
	return &Gateway{Registry: reg, Pipeline: p, limiters: limiters}
}

// Handle runs one request through verify → filter → forward → acknowledge.
// It always produces a response; verifier panics and pipeline failures are
// contained here.
func (g *Gateway) Handle(ctx context.Context, providerID string, req *Request) Response {
	verifier, ok := g.Registry.Lookup(providerID)
	if !ok {
		return jsonResponse(http.StatusBadRequest, map[string]any{"error": "unknown or missing provider"})
	}
	if lim := g.limiters[providerID]; lim != nil && !lim.Allow() {
		return jsonResponse(http.StatusTooManyRequests, map[string]any{"error": "rate limited"})
	}

	res := safeVerify(verifier, req)
	if !res.OK {
		metrics.InboundVerifications.WithLabelValues(providerID, "rejected").Inc()
		log.Printf("inbound %s: verification rejected: %s", providerID, res.Reason)
		return jsonResponse(http.StatusUnauthorized, map[string]any{"error": "Invalid signature", "reason": res.Reason})
	}
	metrics.InboundVerifications.WithLabelValues(providerID, "accepted").Inc()

	// provider-specific pre-filtering before the pipeline sees anything
	if sc, done := g.shortCircuit(providerID, res.Payload); done {
		return sc
	}

	msg, ok := normalize(res.Payload, req.Body)
	if !ok {
		return jsonResponse(http.StatusBadRequest, map[string]any{"error": "unsupported payload"})
	}
	if err := g.Pipeline.ProcessChannelMessage(ctx, providerID, msg); err != nil {
		log.Printf("inbound %s: pipeline error for message %s: %v", providerID, msg.MessageID, err)
		return pipelineErrorResponse(providerID)
	}
	return ackResponse(providerID)
}

// safeVerify converts any panic inside a verifier into a rejection so the
// gateway boundary always answers.
func safeVerify(v Verifier, req *Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Reason: fmt.Sprintf("verifier panic: %v", r)}
		}
	}()
	return v.Verify(req)
}

// shortCircuit handles handshake and self-authored traffic that must never
// reach the pipeline.
func (g *Gateway) shortCircuit(providerID string, payload any) (Response, bool) {
	switch p := payload.(type) {
	case *SlackEnvelope:
		if p.Type == "url_verification" {
			return jsonResponse(http.StatusOK, map[string]any{"challenge": p.Challenge}), true
		}
		// bot-authored events loop back to us; acknowledge and drop
		if p.Event.BotID != "" || p.Event.Subtype == "bot_message" {
			return ackResponse(providerID), true
		}
	case *TelegramUpdate:
		if p.Message != nil && p.Message.From != nil && p.Message.From.IsBot {
			return ackResponse(providerID), true
		}
	}
	return Response{}, false
}

func normalize(payload any, raw []byte) (model.ChannelMessage, bool) {
	switch p := payload.(type) {
	case *TelegramUpdate:
		return p.Normalize(raw), true
	case *SlackEnvelope:
		return p.Normalize(raw), true
	case *TwilioMessage:
		return p.Normalize(raw), true
	}
	return model.ChannelMessage{}, false
}

func ackResponse(providerID string) Response {
	if providerID == ProviderTwilio {
		return Response{Status: http.StatusOK, ContentType: "text/xml", Body: []byte(twilioEmptyTwiML)}
	}
	return jsonResponse(http.StatusOK, map[string]any{"ok": true})
}

// pipelineErrorResponse follows per-provider redelivery behavior: Slack and
// Telegram redeliver aggressively on non-200, so they get 200 with an error
// flag; Twilio gets the real 500.
func pipelineErrorResponse(providerID string) Response {
	switch providerID {
	case ProviderSlack, ProviderTelegram:
		return jsonResponse(http.StatusOK, map[string]any{"ok": false, "error": "processing failed"})
	default:
		return jsonResponse(http.StatusInternalServerError, map[string]any{"error": "processing failed"})
	}
}

func jsonResponse(status int, v any) Response {
	b, _ := json.Marshal(v)
	return Response{Status: status, ContentType: "application/json", Body: b}
}
