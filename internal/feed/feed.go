package feed

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one audit notification pushed to downstream consumers.
type Message struct {
	Action string
	Body   []byte
}

// Feed is the abstraction over different fan-out backends.
type Feed interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed feed for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory feed.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message. It drops when no consumer keeps up, so a
// full buffer never blocks the request path.
func (f *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case f.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Consume returns a channel for downstream consumers.
func (f *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-f.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisFeed pushes audit notifications onto a Redis list.
type RedisFeed struct {
	client *redis.Client
	key    string
}

// NewRedisFeed builds a feed using LPUSH/BRPOP semantics.
func NewRedisFeed(client *redis.Client, key string) *RedisFeed {
	if key == "" {
		key = "schoolbook:audit"
	}
	return &RedisFeed{client: client, key: key}
}

// Publish enqueues a message.
func (f *RedisFeed) Publish(ctx context.Context, msg Message) error {
	return f.client.LPush(ctx, f.key, serialize(msg)).Err()
}

// Consume streams messages using BRPOP.
func (f *RedisFeed) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := f.client.BRPop(ctx, 5*time.Second, f.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				if msg, err := deserialize(res[1]); err == nil {
					out <- msg
				}
			}
		}
	}()
	return out, nil
}

// serialize stores messages as Action|Body.
func serialize(msg Message) string {
	return msg.Action + "|" + string(msg.Body)
}

func deserialize(s string) (Message, error) {
	for i, r := range s {
		if r == '|' {
			return Message{Action: s[:i], Body: []byte(s[i+1:])}, nil
		}
	}
	return Message{Body: []byte(s)}, nil
}
