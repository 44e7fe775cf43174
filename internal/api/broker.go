package api

import (
	"sync"
)

// GatewayEvent is a live notification fanned out to stream subscribers
// (delivery outcomes, inbound accepts) keyed by org.
type GatewayEvent struct {
	Type string
	Data map[string]any
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan GatewayEvent]struct{} // orgId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan GatewayEvent]struct{}{}}
}

func (b *Broker) Subscribe(orgID string) chan GatewayEvent {
	ch := make(chan GatewayEvent, 8)
	b.mu.Lock()
	if b.subs[orgID] == nil { b.subs[orgID] = map[chan GatewayEvent]struct{}{} }
	b.subs[orgID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(orgID string, ch chan GatewayEvent) {
	b.mu.Lock()
	if m := b.subs[orgID]; m != nil {
		delete(m, ch)
		if len(m) == 0 { delete(b.subs, orgID) }
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(orgID string, evt GatewayEvent) {
	b.mu.Lock()
	m := b.subs[orgID]
	for ch := range m {
		select { case ch <- evt: default: }
	}
	b.mu.Unlock()
}
