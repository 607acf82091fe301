package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreHGet(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := st.HGet(ctx, "tenant", "field")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if ok {
		t.Error("Expected missing field")
	}

	st.Update(ctx, "tenant", nil, func(map[string]string) (map[string]string, []string, error) {
		return map[string]string{"field": "value"}, nil, nil
	})

	val, ok, err := st.HGet(ctx, "tenant", "field")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if !ok || val != "value" {
		t.Errorf("Expected (value, true), got (%q, %v)", val, ok)
	}
}

func TestMemoryStoreUpdateReadsRequestedFields(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.Update(ctx, "tenant", nil, func(map[string]string) (map[string]string, []string, error) {
		return map[string]string{"a": "1", "b": "2"}, nil, nil
	})

	var seen map[string]string
	st.Update(ctx, "tenant", []string{"a", "missing"}, func(values map[string]string) (map[string]string, []string, error) {
		seen = values
		return nil, nil, nil
	})

	if len(seen) != 1 || seen["a"] != "1" {
		t.Errorf("Expected only requested present fields, got %v", seen)
	}
}

func TestMemoryStoreUpdateDelete(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.Update(ctx, "tenant", nil, func(map[string]string) (map[string]string, []string, error) {
		return map[string]string{"a": "1"}, nil, nil
	})
	st.Update(ctx, "tenant", nil, func(map[string]string) (map[string]string, []string, error) {
		return nil, []string{"a"}, nil
	})

	_, ok, _ := st.HGet(ctx, "tenant", "a")
	if ok {
		t.Error("Expected field deleted")
	}
}

func TestMemoryStoreUpdatePropagatesError(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.Update(ctx, "tenant", nil, func(map[string]string) (map[string]string, []string, error) {
		return map[string]string{"a": "1"}, nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error to propagate, got %v", err)
	}

	_, ok, _ := st.HGet(ctx, "tenant", "a")
	if ok {
		t.Error("Expected no write when fn errors")
	}
}

func TestMemoryStorePubSub(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := st.Subscribe(ctx, "ch1", "ch2")
	defer sub.Close()

	st.Publish(ctx, "ch1", []byte("hello"))
	st.Publish(ctx, "other", []byte("not for us"))
	st.Publish(ctx, "ch2", []byte("world"))

	var got []Message
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case msg := <-sub.Messages():
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("Timed out, received %d messages", len(got))
		}
	}

	if got[0].Channel != "ch1" || string(got[0].Payload) != "hello" {
		t.Errorf("Unexpected first message: %+v", got[0])
	}
	if got[1].Channel != "ch2" || string(got[1].Payload) != "world" {
		t.Errorf("Unexpected second message: %+v", got[1])
	}
}

func TestMemoryStorePublishWithoutSubscribersDrops(t *testing.T) {
	st := NewMemoryStore()
	if err := st.Publish(context.Background(), "nobody", []byte("dropped")); err != nil {
		t.Fatalf("Publish without subscribers should not fail: %v", err)
	}
}

func TestMemoryStoreSubscriptionClose(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	sub := st.Subscribe(ctx, "ch")
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is harmless.
	if err := sub.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	// Messages channel is closed.
	if _, ok := <-sub.Messages(); ok {
		t.Error("Expected messages channel closed")
	}

	// Publishing after close must not panic.
	st.Publish(ctx, "ch", []byte("late"))
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				st.Update(ctx, "tenant", []string{"counter"}, func(values map[string]string) (map[string]string, []string, error) {
					next := values["counter"] + "x"
					return map[string]string{"counter": next}, nil, nil
				})
			}
		}()
	}
	wg.Wait()

	val, _, _ := st.HGet(ctx, "tenant", "counter")
	if len(val) != writers*10 {
		t.Errorf("Lost updates: expected %d appends, got %d", writers*10, len(val))
	}
}
