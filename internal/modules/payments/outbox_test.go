package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"leaguehub.com/app/internal/bus"
	"leaguehub.com/app/internal/events"
)

func newTestDispatcher(f *fixture, pub bus.Publisher) *Dispatcher {
	d := NewDispatcher(f.db, pub)
	d.SetLogger(quietLogger())
	d.InitialBackoff = time.Millisecond
	d.MaxElapsed = 20 * time.Millisecond
	d.PollInterval = 10 * time.Millisecond
	return d
}

// subscribedBus returns an in-process bus with h already subscribed.
func subscribedBus(t *testing.T, h bus.Handler) *bus.Memory {
	t.Helper()
	if h == nil {
		h = func(context.Context, bus.Message) error { return nil }
	}
	mem := bus.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mem.Subscribe(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-mem.Subscribed()
	return mem
}

func settle(t *testing.T, f *fixture, resource, status string) RequestPaymentResult {
	t.Helper()
	req := f.request(t, "user-1", resource, 500, "usd")
	if _, err := f.svc.Reconcile(context.Background(), ReconcileInput{
		IntentID: req.ProcessorIntentID, Status: status, Amount: 500, Currency: "usd",
	}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return req
}

func TestDispatcherSweepPublishesOnce(t *testing.T) {
	f := newFixture(t)
	mem := subscribedBus(t, nil)
	d := newTestDispatcher(f, mem)
	ctx := context.Background()

	req := settle(t, f, "R", "succeeded")

	n, err := d.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep() = %d, %v, want 1", n, err)
	}
	n, err = d.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second Sweep() = %d, %v, want 0", n, err)
	}

	msgs := mem.Messages()
	if len(msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(msgs))
	}
	if msgs[0].ID != req.PaymentID+":succeeded" || msgs[0].Key != req.PaymentID || msgs[0].Type != events.TypePaymentOutcome {
		t.Fatalf("message = %+v", msgs[0])
	}
	ev, err := events.UnmarshalPaymentOutcome(msgs[0].Payload)
	if err != nil || ev.Status != "succeeded" || ev.ResourceID != "R" {
		t.Fatalf("payload = %+v, %v", ev, err)
	}

	pending, _ := d.Pending(ctx)
	if pending != 0 {
		t.Fatalf("pending = %d, want 0", pending)
	}
}

func TestDispatcherRetriesWithinSweep(t *testing.T) {
	f := newFixture(t)
	mem := subscribedBus(t, nil)
	mem.FailNext = 2
	mem.Err = errors.New("bus down")
	d := newTestDispatcher(f, mem)
	d.MaxElapsed = time.Second

	settle(t, f, "R", "failed")

	n, err := d.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Sweep() = %d, %v, want 1", n, err)
	}

	var row OutboxEvent
	if err := f.db.First(&row).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if row.PublishedAt == nil || row.Attempts != 3 || row.LastError != nil {
		t.Fatalf("row = %+v, want published after 3 attempts", row)
	}
}

// A crash between commit and publish leaves the row pending; the next sweep
// picks it up.
func TestDispatcherRecoversAfterFailedSweep(t *testing.T) {
	f := newFixture(t)
	mem := subscribedBus(t, nil)
	mem.FailNext = 1000
	mem.Err = errors.New("bus down")
	d := newTestDispatcher(f, mem)
	ctx := context.Background()

	settle(t, f, "R1", "succeeded")
	settle(t, f, "R2", "canceled")

	n, err := d.Sweep(ctx)
	if err == nil || n != 0 {
		t.Fatalf("Sweep() = %d, %v, want failure", n, err)
	}
	pending, _ := d.Pending(ctx)
	if pending != 2 {
		t.Fatalf("pending = %d, want 2", pending)
	}
	var row OutboxEvent
	if err := f.db.First(&row).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if row.Attempts == 0 || row.LastError == nil {
		t.Fatalf("failed attempt not recorded: %+v", row)
	}

	mem.FailNext = 0
	n, err = d.Sweep(ctx)
	if err != nil || n != 2 {
		t.Fatalf("recovery Sweep() = %d, %v, want 2", n, err)
	}
	if len(mem.Messages()) != 2 {
		t.Fatalf("published = %d, want 2", len(mem.Messages()))
	}
}

func TestDispatcherRunPublishesOnNotify(t *testing.T) {
	f := newFixture(t)
	mem := subscribedBus(t, nil)
	d := newTestDispatcher(f, mem)
	d.PollInterval = time.Hour
	f.svc.SetNotifier(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	settle(t, f, "R", "succeeded")

	deadline := time.Now().Add(2 * time.Second)
	for len(mem.Messages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event not published after Notify")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestDispatcherKeepsRowsWithoutSubscribers(t *testing.T) {
	f := newFixture(t)
	mem := bus.NewMemory()
	d := newTestDispatcher(f, mem)
	ctx := context.Background()

	settle(t, f, "R", "succeeded")

	n, err := d.Sweep(ctx)
	if !errors.Is(err, bus.ErrNoSubscribers) || n != 0 {
		t.Fatalf("Sweep() = %d, %v, want ErrNoSubscribers", n, err)
	}
	if pending, _ := d.Pending(ctx); pending != 1 {
		t.Fatalf("pending = %d, want 1", pending)
	}

	var got []bus.Message
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = mem.Subscribe(sctx, func(_ context.Context, m bus.Message) error {
			got = append(got, m)
			return nil
		})
	}()
	<-mem.Subscribed()

	n, err = d.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep() after subscribe = %d, %v, want 1", n, err)
	}
	if len(got) != 1 || got[0].Type != events.TypePaymentOutcome {
		t.Fatalf("received = %+v", got)
	}
}

// A row the bus keeps refusing must not hold back the rows committed after it.
func TestDispatcherSkipsPastFailingRow(t *testing.T) {
	f := newFixture(t)
	first := settle(t, f, "R1", "succeeded")
	settle(t, f, "R2", "succeeded")
	settle(t, f, "R3", "succeeded")

	var delivered []string
	mem := subscribedBus(t, func(_ context.Context, m bus.Message) error {
		if m.Key == first.PaymentID {
			return errors.New("poison message")
		}
		delivered = append(delivered, m.Key)
		return nil
	})
	d := newTestDispatcher(f, mem)
	d.BatchSize = 1
	ctx := context.Background()

	n, err := d.Sweep(ctx)
	if err == nil || n != 2 {
		t.Fatalf("Sweep() = %d, %v, want 2 published and an error", n, err)
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered = %v, want the two healthy events", delivered)
	}
	if pending, _ := d.Pending(ctx); pending != 1 {
		t.Fatalf("pending = %d, want 1", pending)
	}
	var row OutboxEvent
	if err := f.db.Where("published_at IS NULL").First(&row).Error; err != nil {
		t.Fatalf("load pending row: %v", err)
	}
	if row.AggregateID != first.PaymentID || row.LastError == nil {
		t.Fatalf("pending row = %+v, want the failing one with its error", row)
	}
}

func TestDispatcherStopsSweepWhenBusIsDown(t *testing.T) {
	f := newFixture(t)
	for _, r := range []string{"R1", "R2", "R3", "R4"} {
		settle(t, f, r, "canceled")
	}
	mem := subscribedBus(t, nil)
	mem.FailNext = 1000
	mem.Err = errors.New("bus down")
	d := newTestDispatcher(f, mem)
	d.MaxConsecutiveFailures = 2

	if _, err := d.Sweep(context.Background()); err == nil {
		t.Fatalf("Sweep() succeeded with the bus down")
	}
	var tried int64
	if err := f.db.Model(&OutboxEvent{}).Where("attempts > 0").Count(&tried).Error; err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if tried != 2 {
		t.Fatalf("rows attempted = %d, want 2", tried)
	}
}
