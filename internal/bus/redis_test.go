package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStream(t *testing.T, group, consumer string) (*RedisStream, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStream(client, "payments.outcomes", group, consumer)
	s.Block = 50 * time.Millisecond
	return s, mr
}

func TestRedisStreamPublishAppendsEntry(t *testing.T) {
	s, mr := newTestStream(t, "", "")
	ctx := context.Background()

	if err := s.Publish(ctx, Message{ID: "pay_1:succeeded", Key: "pay_1", Type: "payment.outcome", Payload: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	entries, err := mr.Stream("payments.outcomes")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestRedisStreamSubscribeDeliversAndAcks(t *testing.T) {
	s, _ := newTestStream(t, "activation", "worker-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	// second call must tolerate BUSYGROUP
	if err := s.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() twice error = %v", err)
	}

	for _, id := range []string{"pay_1:succeeded", "pay_2:failed"} {
		if err := s.Publish(ctx, Message{ID: id, Key: id[:5], Type: "payment.outcome", Payload: []byte("{}")}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		_ = s.Subscribe(ctx, func(_ context.Context, m Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, m.ID)
			if len(got) == 2 {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	if got[0] != "pay_1:succeeded" || got[1] != "pay_2:failed" {
		t.Fatalf("unexpected delivery order %v", got)
	}
	mu.Unlock()

	// acks land right after the handler returns
	deadline := time.Now().Add(3 * time.Second)
	for {
		pending, err := s.client.XPending(context.Background(), "payments.outcomes", "activation").Result()
		if err != nil {
			t.Fatalf("XPending() error = %v", err)
		}
		if pending.Count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected all messages acked, %d pending", pending.Count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRedisStreamSubscribeLeavesFailedMessagesPending(t *testing.T) {
	s, _ := newTestStream(t, "activation", "worker-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Publish(ctx, Message{ID: "pay_1:succeeded", Payload: []byte("{}")}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	seen := make(chan struct{}, 1)
	go func() {
		_ = s.Subscribe(ctx, func(context.Context, Message) error {
			select {
			case seen <- struct{}{}:
			default:
			}
			return errors.New("downstream unavailable")
		})
	}()

	select {
	case <-seen:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	cancel()

	pending, err := s.client.XPending(context.Background(), "payments.outcomes", "activation").Result()
	if err != nil {
		t.Fatalf("XPending() error = %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected 1 pending message, got %d", pending.Count)
	}
}

func TestRedisStreamSubscribeRequiresGroup(t *testing.T) {
	s, _ := newTestStream(t, "", "")
	if err := s.Subscribe(context.Background(), func(context.Context, Message) error { return nil }); err == nil {
		t.Fatal("expected error without group")
	}
}
