// Package pipeline hands verified inbound messages to the platform's
// internal processing. The gateway treats it as an opaque collaborator.
package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"hookgate/internal/model"
)

// Memory buffers messages in-process; the default when no REDIS_URL is set.
type Memory struct {
	mu       sync.Mutex
	messages []model.ChannelMessage
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) ProcessChannelMessage(ctx context.Context, provider string, msg model.ChannelMessage) error {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	log.Printf("pipeline: %s message %s from %s", provider, msg.MessageID, msg.SenderID)
	return nil
}

// Messages returns a copy of everything processed so far.
func (m *Memory) Messages() []model.ChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ChannelMessage(nil), m.messages...)
}

// Redis publishes normalized messages to a per-provider channel for the
// downstream consumers.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{rdb: redis.NewClient(opt)}, nil
}

func (r *Redis) ProcessChannelMessage(ctx context.Context, provider string, msg model.ChannelMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, "inbound:"+provider, data).Err()
}
