// Package inbound implements the ingress half of the webhook gateway:
// per-provider signature verification and routing into the message pipeline.
package inbound

import (
	"net/http"

	"hookgate/internal/config"
)

// Request carries the raw inbound request through verification.
type Request struct {
	Provider string
	Header   http.Header
	Body     []byte
}

// Result is the ephemeral outcome of one verification. Payload holds the
// provider-native decoded shape (*TelegramUpdate, *SlackEnvelope,
// *TwilioMessage); the gateway never inspects verifier internals beyond it.
type Result struct {
	OK      bool
	Reason  string
	Payload any
}

// Rejection reasons surfaced to callers.
const (
	ReasonInvalidSignature = "invalid_signature"
	ReasonStaleTimestamp   = "stale_timestamp"
	ReasonMissingHeaders   = "missing_headers"
	ReasonMalformedBody    = "malformed_body"
	ReasonAccountMismatch  = "account_mismatch"
	ReasonMissingFields    = "missing_fields"
)

func reject(reason string) Result { return Result{Reason: reason} }

// Verifier authenticates one provider's requests.
type Verifier interface {
	Verify(req *Request) Result
}

// Registry maps provider identifiers to verifiers. Adding a provider is one
// more Register call, not a new branch in the gateway.
type Registry struct {
	verifiers map[string]Verifier
}

func NewRegistry(secrets config.ProviderSecrets) *Registry {
	r := &Registry{verifiers: map[string]Verifier{}}
	r.Register(ProviderTelegram, NewTelegramVerifier(secrets.TelegramSecret))
	r.Register(ProviderSlack, NewSlackVerifier(secrets.SlackSigningSecret))
	r.Register(ProviderTwilio, NewTwilioVerifier(secrets.TwilioAccountSID))
	return r
}

func (r *Registry) Register(provider string, v Verifier) {
	r.verifiers[provider] = v
}

func (r *Registry) Lookup(provider string) (Verifier, bool) {
	v, ok := r.verifiers[provider]
	return v, ok
}

func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.verifiers))
	for p := range r.verifiers {
		out = append(out, p)
	}
	return out
}

const (
	ProviderTelegram = "telegram"
	ProviderSlack    = "slack"
	ProviderTwilio   = "twilio"
)
