package pubsub

import (
	"context"
	"path"
	"sync"
)

type memorySubscription struct {
	key     string
	pattern bool
	ch      chan *Event
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *memorySubscription) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

// MemoryPubSub implements PubSub in process. It backs single-instance
// deployments and tests.
type MemoryPubSub struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySubscription
	closed bool
}

// NewMemoryPubSub creates an in-process PubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string][]*memorySubscription)}
}

// Publish delivers event to every matching subscription. Slow subscribers
// lose the event, like the Redis driver.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, list := range m.subs {
		for _, s := range list {
			if !s.matches(channel) {
				continue
			}
			select {
			case s.ch <- event:
			default:
			}
		}
	}
	return nil
}

func (s *memorySubscription) matches(channel string) bool {
	if !s.pattern {
		return s.key == channel
	}
	ok, err := path.Match(s.key, channel)
	return err == nil && ok
}

// Subscribe subscribes to a specific channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return m.subscribe(ctx, channel, false)
}

// SubscribePattern subscribes to channels matching a glob pattern.
func (m *MemoryPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return m.subscribe(ctx, pattern, true)
}

func (m *MemoryPubSub) subscribe(ctx context.Context, key string, pattern bool) (<-chan *Event, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &memorySubscription{
		key:     key,
		pattern: pattern,
		ch:      make(chan *Event, 100),
		cancel:  cancel,
	}

	m.mu.Lock()
	m.subs[key] = append(m.subs[key], s)
	m.mu.Unlock()

	go func() {
		<-subCtx.Done()
		m.remove(s)
	}()
	return s.ch, nil
}

func (m *MemoryPubSub) remove(s *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.subs[s.key]
	for i, cur := range list {
		if cur == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.subs, s.key)
	} else {
		m.subs[s.key] = list
	}
	s.close()
}

// Unsubscribe removes every subscription registered under channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.RLock()
	list := append([]*memorySubscription(nil), m.subs[channel]...)
	m.mu.RUnlock()

	for _, s := range list {
		m.remove(s)
	}
	return nil
}

// Close ends every subscription.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySubscription
	for _, list := range m.subs {
		all = append(all, list...)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.remove(s)
	}
	return nil
}
