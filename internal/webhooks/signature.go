package webhooks

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Sign returns lowercase hex of HMAC-SHA256 over "{timestamp}.{payload}".
// Deterministic for identical inputs, so a retried delivery re-signed with
// the same timestamp produces the same digest.
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats the digest for the X-Webhook-Signature header.
func SignatureHeader(secret string, timestamp int64, payload []byte) string {
	return "v1=" + Sign(secret, timestamp, payload)
}

// VerifySignature checks a "v1=<hex>" or bare-hex signature in constant time.
func VerifySignature(secret string, timestamp int64, payload []byte, provided string) bool {
	if len(provided) > 3 && provided[:3] == "v1=" {
		provided = provided[3:]
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}

// NewSecret mints a signing secret for a new subscription. Shown to the
// caller once at creation and never returned again.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("webhooks: rand: %v", err))
	}
	return "whsec_" + hex.EncodeToString(b)
}
