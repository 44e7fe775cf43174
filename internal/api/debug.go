package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"hookgate/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"LISTEN":               s.Cfg.Listen,
			"AUTH_MODE":            os.Getenv("AUTH_MODE"),
			"RATE_RPS":             s.Cfg.Inbound.RateRPS,
			"RATE_BURST":           s.Cfg.Inbound.RateBurst,
			"WORKER_BATCH_SIZE":    s.Cfg.Worker.BatchSize,
			"WORKER_CONCURRENCY":   s.Cfg.Worker.Concurrency,
			"HAS_DATABASE_URL":     s.Cfg.DatabaseURL != "",
			"HAS_REDIS_URL":        s.Cfg.RedisURL != "",
			"HAS_TELEGRAM_SECRET":  s.Cfg.Providers.TelegramSecret != "",
			"HAS_SLACK_SECRET":     s.Cfg.Providers.SlackSigningSecret != "",
			"HAS_TWILIO_SID":       s.Cfg.Providers.TwilioAccountSID != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
