package inbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func slackSign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + strconv.FormatInt(ts, 10) + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func slackReq(secret string, ts int64, body []byte) *Request {
	h := http.Header{}
	h.Set(SlackTimestampHeader, strconv.FormatInt(ts, 10))
	h.Set(SlackSignatureHeader, slackSign(secret, ts, body))
	return &Request{Provider: ProviderSlack, Header: h, Body: body}
}

func fixedSlackVerifier(secret string, now time.Time) *SlackVerifier {
	v := NewSlackVerifier(secret)
	v.Now = func() time.Time { return now }
	return v
}

func TestSlackVerify_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	body := []byte(`{"type":"event_callback","event_id":"Ev1","event":{"type":"message","user":"U1","channel":"C1","text":"hello"}}`)
	res := v.Verify(slackReq("s3cr3t", now.Unix(), body))
	if !res.OK {
		t.Fatalf("expected OK, got %q", res.Reason)
	}
	env := res.Payload.(*SlackEnvelope)
	if env.Event.Text != "hello" || env.EventID != "Ev1" {
		t.Fatalf("payload not decoded: %+v", env)
	}
}

func TestSlackVerify_TamperedBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	req := slackReq("s3cr3t", now.Unix(), []byte(`{"a":1}`))
	req.Body = []byte(`{"a":2}`)
	res := v.Verify(req)
	if res.OK || res.Reason != ReasonInvalidSignature {
		t.Fatalf("expected invalid_signature, got ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestSlackVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	res := v.Verify(slackReq("other", now.Unix(), []byte(`{}`)))
	if res.OK || res.Reason != ReasonInvalidSignature {
		t.Fatalf("expected invalid_signature, got ok=%v reason=%q", res.OK, res.Reason)
	}
}

// A correctly signed request outside the replay window must still reject, and
// with the timestamp reason, not a signature mismatch.
func TestSlackVerify_StaleTimestampBeatsValidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	stale := now.Add(-10 * time.Minute).Unix()
	res := v.Verify(slackReq("s3cr3t", stale, []byte(`{}`)))
	if res.OK || res.Reason != ReasonStaleTimestamp {
		t.Fatalf("expected stale_timestamp, got ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestSlackVerify_FutureTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	future := now.Add(10 * time.Minute).Unix()
	res := v.Verify(slackReq("s3cr3t", future, []byte(`{}`)))
	if res.OK || res.Reason != ReasonStaleTimestamp {
		t.Fatalf("expected stale_timestamp, got ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestSlackVerify_WithinWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	edge := now.Add(-4 * time.Minute).Unix()
	res := v.Verify(slackReq("s3cr3t", edge, []byte(`{}`)))
	if !res.OK {
		t.Fatalf("4 minutes old should pass, got %q", res.Reason)
	}
}

func TestSlackVerify_MissingHeaders(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	res := v.Verify(&Request{Provider: ProviderSlack, Header: http.Header{}, Body: []byte(`{}`)})
	if res.OK || res.Reason != ReasonMissingHeaders {
		t.Fatalf("expected missing_headers, got ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestSlackVerify_UnparsableTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	h := http.Header{}
	h.Set(SlackTimestampHeader, "not-a-number")
	h.Set(SlackSignatureHeader, "v0=deadbeef")
	res := v.Verify(&Request{Provider: ProviderSlack, Header: h, Body: []byte(`{}`)})
	if res.OK || res.Reason != ReasonStaleTimestamp {
		t.Fatalf("expected stale_timestamp, got ok=%v reason=%q", res.OK, res.Reason)
	}
}

func TestSlackVerify_MalformedBodyAfterValidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedSlackVerifier("s3cr3t", now)
	res := v.Verify(slackReq("s3cr3t", now.Unix(), []byte(`not json`)))
	if res.OK || res.Reason != ReasonMalformedBody {
		t.Fatalf("expected malformed_body, got ok=%v reason=%q", res.OK, res.Reason)
	}
}
