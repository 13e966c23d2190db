//go:build redis_integration

package events

import (
    "os"
    "testing"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Run with: REDIS_ADDR=localhost:6379 go test -tags redis_integration ./internal/events
func TestRedisBrokerFanOut(t *testing.T) {
    addr := os.Getenv("REDIS_ADDR")
    if addr == "" { t.Skip("REDIS_ADDR not set") }
    rdb := redis.NewClient(&redis.Options{Addr: addr})
    defer rdb.Close()

    b := NewRedisBroker(rdb)
    topic := "it-" + time.Now().Format("150405.000")
    ch := b.Subscribe(topic)
    all := b.Subscribe(AllTopics)
    defer b.Unsubscribe(AllTopics, all)

    b.Publish(topic, Event{Type: "sync.orders", Provider: topic})
    for _, c := range []chan Event{ch, all} {
        select {
        case got := <-c:
            if got.Type != "sync.orders" || got.Provider != topic { t.Fatalf("unexpected event %+v", got) }
        case <-time.After(2 * time.Second):
            t.Fatal("timeout waiting for event")
        }
    }

    b.Unsubscribe(topic, ch)
    if _, ok := <-ch; ok { t.Fatal("channel should be closed after unsubscribe") }
}
