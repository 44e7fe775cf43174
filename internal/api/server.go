package api

import (
	"log"

	"hookgate/internal/auth"
	"hookgate/internal/config"
	"hookgate/internal/inbound"
	"hookgate/internal/pipeline"
	"hookgate/internal/store"
	"hookgate/internal/webhooks"
)

type Server struct {
	Cfg      config.Config
	Store    store.Store
	Gateway  *inbound.Gateway
	Dispatch *webhooks.Dispatcher
	Auth     *auth.Verifier
	Broker   EventBroker
}

// NewServer wires the gateway from resolved configuration. If DatabaseURL is
// unset, uses the in-memory store.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if cfg.DatabaseURL == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sp.MigrateDir("db/migrations"); err != nil {
			log.Printf("migrate: %v", err)
		}
		s = sp
	}

	var broker EventBroker
	var pipe inbound.Pipeline
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { broker = NewBroker() }
		if rp, err := pipeline.NewRedis(cfg.RedisURL); err == nil { pipe = rp } else { pipe = pipeline.NewMemory() }
	} else {
		broker = NewBroker()
		pipe = pipeline.NewMemory()
	}

	registry := inbound.NewRegistry(cfg.Providers)
	gw := inbound.NewGateway(registry, pipe, cfg.Inbound)
	disp := webhooks.NewDispatcher(s)
	if cfg.Worker.Concurrency > 0 {
		disp.Concurrency = cfg.Worker.Concurrency
	}
	return &Server{Cfg: cfg, Store: s, Gateway: gw, Dispatch: disp, Auth: auth.NewVerifierFromEnv(), Broker: broker}, nil
}

// NewWebhookWorker creates the background worker draining due deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	w := webhooks.NewWorker(s.Store, s.Cfg.Worker)
	w.Dispatcher = s.Dispatch
	return w
}
