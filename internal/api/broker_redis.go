package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type EventBroker interface {
	Subscribe(orgID string) chan GatewayEvent
	Unsubscribe(orgID string, ch chan GatewayEvent)
	Publish(orgID string, evt GatewayEvent)
}

// In-memory broker in broker.go satisfies EventBroker

// RedisBroker implements EventBroker over Redis Pub/Sub so multiple gateway
// instances share one event stream.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan GatewayEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil { return nil, err }
	return &RedisBroker{rdb: redis.NewClient(opt), subs: map[chan GatewayEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(orgID string) chan GatewayEvent {
	ch := make(chan GatewayEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(orgID))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		// producer owns the close; ps.Channel drains on Unsubscribe or connection loss
		defer close(ch)
		for msg := range ps.Channel() {
			var evt GatewayEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select { case ch <- evt: default: }
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(orgID string, ch chan GatewayEvent) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(orgID string, evt GatewayEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(orgID), data).Err()
}

func (b *RedisBroker) chanName(orgID string) string { return "org:" + orgID }
