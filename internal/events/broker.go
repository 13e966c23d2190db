// Package events fans ingestion events out to live subscribers (the SSE
// stream). Delivery is best effort: slow subscribers drop events.
package events

import (
    "sync"
    "time"
)

// AllTopics subscribes to every provider.
const AllTopics = "*"

type Event struct {
    Type     string         `json:"type"`
    Provider string         `json:"provider"`
    At       time.Time      `json:"at"`
    Data     map[string]any `json:"data,omitempty"`
}

// Broker is implemented in-process and over Redis Pub/Sub.
type Broker interface {
    Subscribe(topic string) chan Event
    Unsubscribe(topic string, ch chan Event)
    Publish(topic string, evt Event)
}

type MemoryBroker struct {
    mu   sync.Mutex
    subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewMemoryBroker() *MemoryBroker {
    return &MemoryBroker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *MemoryBroker) Subscribe(topic string) chan Event {
    ch := make(chan Event, 8)
    b.mu.Lock()
    if b.subs[topic] == nil { b.subs[topic] = map[chan Event]struct{}{} }
    b.subs[topic][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *MemoryBroker) Unsubscribe(topic string, ch chan Event) {
    b.mu.Lock()
    if m := b.subs[topic]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, topic) }
    }
    b.mu.Unlock()
    close(ch)
}

// Publish delivers to subscribers of topic and of AllTopics.
func (b *MemoryBroker) Publish(topic string, evt Event) {
    b.mu.Lock()
    defer b.mu.Unlock()
    for _, t := range []string{topic, AllTopics} {
        for ch := range b.subs[t] {
            select { case ch <- evt: default: }
        }
        if topic == AllTopics { break }
    }
}
