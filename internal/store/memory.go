package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node development.
// Update holds a plain lock for the whole read-modify-write, which gives the
// same atomicity the Redis implementation gets from its WATCH retry loop.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	subs   map[string][]*memorySubscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]map[string]string),
		subs:   make(map[string][]*memorySubscription),
	}
}

func (s *MemoryStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.hashes[key][field]
	return val, ok, nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fields []string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[string]string, len(fields))
	for _, field := range fields {
		if val, ok := s.hashes[key][field]; ok {
			values[field] = val
		}
	}

	set, del, err := fn(values)
	if err != nil {
		return err
	}

	if len(set) > 0 && s.hashes[key] == nil {
		s.hashes[key] = make(map[string]string)
	}
	for field, val := range set {
		s.hashes[key][field] = val
	}
	for _, field := range del {
		delete(s.hashes[key], field)
	}
	if len(s.hashes[key]) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := make([]*memorySubscription, len(s.subs[channel]))
	copy(subs, s.subs[channel])
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(Message{Channel: channel, Payload: payload})
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channels ...string) Subscription {
	sub := &memorySubscription{
		store:    s,
		channels: channels,
		messages: make(chan Message, 64),
	}

	s.mu.Lock()
	for _, ch := range channels {
		s.subs[ch] = append(s.subs[ch], sub)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

type memorySubscription struct {
	store    *MemoryStore
	channels []string
	messages chan Message

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.messages
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- msg:
	default:
		// Pub/sub is fire-and-forget; a slow subscriber drops the message.
	}
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.store.mu.Lock()
		for _, ch := range s.channels {
			subs := s.store.subs[ch]
			for i, candidate := range subs {
				if candidate == s {
					s.store.subs[ch] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		s.store.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		close(s.messages)
		s.mu.Unlock()
	})
	return nil
}
