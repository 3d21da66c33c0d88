package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// subscribe registers h on m and waits until it is live.
func subscribe(t *testing.T, m *Memory, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Subscribe(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-m.Subscribed()
}

func accept(context.Context, Message) error { return nil }

func TestMemoryPublishWithoutSubscribersFails(t *testing.T) {
	m := NewMemory()

	err := m.Publish(context.Background(), Message{ID: "pay_1:succeeded"})
	if !errors.Is(err, ErrNoSubscribers) {
		t.Fatalf("Publish() error = %v, want ErrNoSubscribers", err)
	}
	if got := len(m.Messages()); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
}

func TestMemoryFailNext(t *testing.T) {
	m := NewMemory()
	subscribe(t, m, accept)
	m.FailNext = 1
	m.Err = errors.New("bus down")

	if err := m.Publish(context.Background(), Message{ID: "a"}); err == nil {
		t.Fatal("expected injected failure")
	}
	if err := m.Publish(context.Background(), Message{ID: "a"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := len(m.Messages()); got != 1 {
		t.Fatalf("expected 1 published message, got %d", got)
	}
}

func TestMemorySubscribeReceivesPublished(t *testing.T) {
	m := NewMemory()
	var got []string
	var mu sync.Mutex
	subscribe(t, m, func(_ context.Context, msg Message) error {
		mu.Lock()
		got = append(got, msg.ID)
		mu.Unlock()
		return nil
	})

	if err := m.Publish(context.Background(), Message{ID: "pay_1:succeeded"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "pay_1:succeeded" {
		t.Fatalf("received = %v", got)
	}
}

// A handler error reaches the publisher, and the same message is handled
// when it is published again.
func TestMemoryHandlerErrorIsReturnedForRedelivery(t *testing.T) {
	m := NewMemory()
	calls := 0
	subscribe(t, m, func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return errors.New("db busy")
		}
		return nil
	})

	msg := Message{ID: "pay_1:failed"}
	for i := 0; i < 2; i++ {
		if err := m.Publish(context.Background(), msg); err == nil {
			t.Fatalf("Publish() #%d succeeded while the handler failed", i+1)
		}
	}
	if err := m.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if calls != 3 || len(m.Messages()) != 1 {
		t.Fatalf("calls = %d, delivered = %d", calls, len(m.Messages()))
	}
}

func TestMemoryUnsubscribesWhenContextEnds(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Subscribe(ctx, accept)
	}()
	<-m.Subscribed()
	cancel()
	<-done

	if err := m.Publish(context.Background(), Message{ID: "a"}); !errors.Is(err, ErrNoSubscribers) {
		t.Fatalf("Publish() after unsubscribe error = %v, want ErrNoSubscribers", err)
	}
}

func TestMemoryHistoryIsBounded(t *testing.T) {
	m := NewMemory()
	m.Keep = 2
	subscribe(t, m, accept)

	for _, id := range []string{"a", "b", "c"} {
		if err := m.Publish(context.Background(), Message{ID: id}); err != nil {
			t.Fatalf("Publish(%s) error = %v", id, err)
		}
	}
	msgs := m.Messages()
	if len(msgs) != 2 || msgs[0].ID != "b" || msgs[1].ID != "c" {
		t.Fatalf("history = %+v, want [b c]", msgs)
	}
}
