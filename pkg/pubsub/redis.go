package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
)

// RedisPubSub implements PubSub on Redis PUBLISH/SUBSCRIBE. Channels are
// used as they are, so "relay:room:*:fanout" works as a PSUBSCRIBE pattern.
type RedisPubSub struct {
	client     *redis.Client
	ownsClient bool

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// NewRedisPubSub dials Redis and fails when it does not answer PING.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := NewRedisPubSubFromClient(client)
	r.ownsClient = true
	return r, nil
}

// NewRedisPubSubFromClient shares client with the caller; Close leaves it
// open.
func NewRedisPubSubFromClient(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client, subs: make(map[string]*redis.PubSub)}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.subscribe(ctx, channel, r.client.Subscribe(ctx, channel))
}

func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.subscribe(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

func (r *RedisPubSub) subscribe(ctx context.Context, key string, ps *redis.PubSub) (<-chan *Event, error) {
	// Wait for the server's confirmation so a publish issued right after
	// this returns is delivered.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	r.mu.Lock()
	if old, ok := r.subs[key]; ok {
		old.Close()
	}
	r.subs[key] = ps
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)
	go forward(ctx, ps, eventCh)
	return eventCh, nil
}

// forward decodes messages until ctx ends or ps is closed.
func forward(ctx context.Context, ps *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)
	l := pkglog.Component("pubsub")

	msgs := ps.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			msg = m
		}

		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable event")
			continue
		}
		select {
		case eventCh <- &event:
		case <-ctx.Done():
			return
		}
	}
}

func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	ps, ok := r.subs[channel]
	delete(r.subs, channel)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return ps.Close()
}

// Close ends every subscription and closes the client when it owns it.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*redis.PubSub)
	r.mu.Unlock()

	for _, ps := range subs {
		ps.Close()
	}
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}
