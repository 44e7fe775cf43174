// Package config resolves service configuration once at startup.
// Provider secrets are read here and injected into the verifiers rather
// than pulled from the environment at call time.
package config

import (
	"fmt"
	"os"
	"strconv"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Listen      string `yaml:"listen"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	Providers ProviderSecrets `yaml:"providers"`
	Worker    WorkerConfig    `yaml:"worker"`
	Inbound   InboundConfig   `yaml:"inbound"`
}

// ProviderSecrets holds the inbound trust material per provider.
type ProviderSecrets struct {
	// TelegramSecret is compared against X-Telegram-Bot-Api-Secret-Token.
	TelegramSecret string `yaml:"telegramSecret"`
	// SlackSigningSecret keys the timestamped HMAC check.
	SlackSigningSecret string `yaml:"slackSigningSecret"`
	// TwilioAccountSID is matched against the AccountSid field in the body.
	TwilioAccountSID string `yaml:"twilioAccountSid"`
}

type WorkerConfig struct {
	IntervalSec int `yaml:"intervalSec"`
	BatchSize   int `yaml:"batchSize"`
	Concurrency int `yaml:"concurrency"`
}

type InboundConfig struct {
	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`
}

// Load reads the optional YAML file at path, then applies environment
// overrides. A missing file is not an error; env-only setups are common.
func Load(path string) (Config, error) {
	cfg := Config{
		Listen: ":8080",
		Worker: WorkerConfig{IntervalSec: 1, BatchSize: 50, Concurrency: 10},
		Inbound: InboundConfig{RateRPS: 50, RateBurst: 100},
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 10
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 50
	}
	if cfg.Worker.IntervalSec <= 0 {
		cfg.Worker.IntervalSec = 1
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("TELEGRAM_WEBHOOK_SECRET"); v != "" {
		cfg.Providers.TelegramSecret = v
	}
	if v := os.Getenv("SLACK_SIGNING_SECRET"); v != "" {
		cfg.Providers.SlackSigningSecret = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Providers.TwilioAccountSID = v
	}
	if v := os.Getenv("WORKER_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.IntervalSec = n
		}
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.BatchSize = n
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Inbound.RateRPS = f
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Inbound.RateBurst = n
		}
	}
}
