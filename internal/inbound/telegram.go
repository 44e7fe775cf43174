package inbound

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"hookgate/internal/model"
)

// TelegramSecretHeader carries the shared secret configured via setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramUpdate is the provider-native payload shape.
type TelegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message"`
}

type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *TelegramUser `json:"from"`
	Chat      *TelegramChat `json:"chat"`
	Text      string        `json:"text"`
}

type TelegramUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

type TelegramChat struct {
	ID int64 `json:"id"`
}

// TelegramVerifier checks the shared-secret header with a constant-time
// compare. An empty configured secret accepts everything; that is a
// development fallback and is logged loudly, never silent.
type TelegramVerifier struct {
	Secret string
}

func NewTelegramVerifier(secret string) *TelegramVerifier {
	return &TelegramVerifier{Secret: secret}
}

func (v *TelegramVerifier) Verify(req *Request) Result {
	if v.Secret == "" {
		log.Printf("WARNING: telegram webhook secret not configured; accepting request unverified")
	} else {
		got := req.Header.Get(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(v.Secret)) != 1 {
			return reject(ReasonInvalidSignature)
		}
	}
	var upd TelegramUpdate
	if err := json.Unmarshal(req.Body, &upd); err != nil {
		return reject(ReasonMalformedBody)
	}
	return Result{OK: true, Payload: &upd}
}

// Normalize maps a Telegram update onto the canonical internal message.
func (u *TelegramUpdate) Normalize(raw []byte) model.ChannelMessage {
	msg := model.ChannelMessage{
		Provider:   ProviderTelegram,
		MessageID:  strconv.FormatInt(u.UpdateID, 10),
		Raw:        raw,
		ReceivedAt: time.Now().UTC(),
	}
	if u.Message != nil {
		msg.MessageID = strconv.FormatInt(u.Message.MessageID, 10)
		msg.Text = u.Message.Text
		if u.Message.From != nil {
			msg.SenderID = strconv.FormatInt(u.Message.From.ID, 10)
		}
		if u.Message.Chat != nil {
			msg.ChannelID = strconv.FormatInt(u.Message.Chat.ID, 10)
		}
	}
	return msg
}
