package inbound

import (
	"encoding/json"
	"log"
	"net/url"
	"strings"
	"time"

	"hookgate/internal/model"
)

// TwilioMessage is the provider-native shape, populated from either a
// form-encoded or a JSON body.
type TwilioMessage struct {
	MessageSid string `json:"MessageSid"`
	AccountSid string `json:"AccountSid"`
	From       string `json:"From"`
	To         string `json:"To"`
	Body       string `json:"Body"`
}

// TwilioVerifier validates by field correlation only: the embedded account
// identifier must match the configured one and the message identifier and
// sender must be present. There is no cryptographic signature check in this
// variant; operators are warned at startup about the weaker trust boundary.
type TwilioVerifier struct {
	AccountSID string
}

func NewTwilioVerifier(accountSID string) *TwilioVerifier {
	if accountSID == "" {
		log.Printf("WARNING: twilio account sid not configured; inbound account correlation disabled")
	} else {
		log.Printf("twilio verifier: field correlation only, no cryptographic signature check")
	}
	return &TwilioVerifier{AccountSID: accountSID}
}

func (v *TwilioVerifier) Verify(req *Request) Result {
	msg, ok := parseTwilioBody(req)
	if !ok {
		return reject(ReasonMalformedBody)
	}
	if msg.MessageSid == "" || msg.From == "" || msg.AccountSid == "" {
		return reject(ReasonMissingFields)
	}
	if v.AccountSID == "" {
		log.Printf("WARNING: twilio account sid not configured; accepting request unverified")
		return Result{OK: true, Payload: msg}
	}
	if msg.AccountSid != v.AccountSID {
		return reject(ReasonAccountMismatch)
	}
	return Result{OK: true, Payload: msg}
}

func parseTwilioBody(req *Request) (*TwilioMessage, bool) {
	ct := req.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var msg TwilioMessage
		if err := json.Unmarshal(req.Body, &msg); err != nil {
			return nil, false
		}
		return &msg, true
	}
	values, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return nil, false
	}
	return &TwilioMessage{
		MessageSid: values.Get("MessageSid"),
		AccountSid: values.Get("AccountSid"),
		From:       values.Get("From"),
		To:         values.Get("To"),
		Body:       values.Get("Body"),
	}, true
}

// Normalize maps a Twilio message onto the canonical internal message.
func (m *TwilioMessage) Normalize(raw []byte) model.ChannelMessage {
	return model.ChannelMessage{
		Provider:   ProviderTwilio,
		MessageID:  m.MessageSid,
		SenderID:   m.From,
		ChannelID:  m.To,
		Text:       m.Body,
		Raw:        raw,
		ReceivedAt: time.Now().UTC(),
	}
}
