package events

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

const channelPrefix = "orderbridge:events:"

// RedisBroker shares events between replicas over Redis Pub/Sub.
type RedisBroker struct {
    rdb  *redis.Client
    mu   sync.Mutex
    subs map[chan Event]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
    return &RedisBroker{rdb: rdb, subs: map[chan Event]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(topic string) chan Event {
    ch := make(chan Event, 16)
    ctx := context.Background()
    var ps *redis.PubSub
    if topic == AllTopics {
        ps = b.rdb.PSubscribe(ctx, channelPrefix+"*")
    } else {
        ps = b.rdb.Subscribe(ctx, channelPrefix+topic)
    }
    // wait for the subscription confirmation
    _, _ = ps.Receive(ctx)
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        for msg := range ps.Channel() {
            var evt Event
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                b.mu.Lock()
                if _, live := b.subs[ch]; live {
                    select { case ch <- evt: default: }
                }
                b.mu.Unlock()
            }
        }
    }()
    return ch
}

func (b *RedisBroker) Unsubscribe(topic string, ch chan Event) {
    b.mu.Lock()
    ps := b.subs[ch]
    delete(b.subs, ch)
    close(ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(topic string, evt Event) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    _ = b.rdb.Publish(ctx, channelPrefix+topic, data).Err()
}
