package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestMockProcessorReplaysIdempotencyKey(t *testing.T) {
	m := NewMockProcessor("s")
	ctx := context.Background()
	req := CreateIntentRequest{Amount: 500, Currency: "usd", IdempotencyKey: "k1"}

	a, err := m.CreateIntent(ctx, req)
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	b, err := m.CreateIntent(ctx, req)
	if err != nil {
		t.Fatalf("replay CreateIntent() error = %v", err)
	}
	if a.ID != b.ID || m.IntentCount() != 1 {
		t.Fatalf("replay created a new intent: %s vs %s", a.ID, b.ID)
	}

	req.Amount = 900
	if _, err := m.CreateIntent(ctx, req); !errors.Is(err, ErrProcessorRejected) {
		t.Fatalf("reused key error = %v, want ErrProcessorRejected", err)
	}
}

func TestMockProcessorWebhookSignature(t *testing.T) {
	m := NewMockProcessor("whsec")

	var p MockWebhookPayload
	p.ID = "evt_1"
	p.Type = "payment.failed"
	p.Data.IntentID = "pi_mock_1"
	p.Data.Amount = 500
	p.Data.Currency = "usd"
	body, _ := json.Marshal(p)

	h := http.Header{}
	h.Set(MockSignatureHeader, SignMockWebhook([]byte("whsec"), time.Now(), body))

	ev, err := m.VerifyAndParseWebhook(h, body)
	if err != nil {
		t.Fatalf("VerifyAndParseWebhook() error = %v", err)
	}
	if ev.Status != "failed" || ev.IntentID != "pi_mock_1" || ev.Amount != 500 {
		t.Fatalf("event = %+v", ev)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong secret", SignMockWebhook([]byte("other"), time.Now(), body)},
		{"expired", SignMockWebhook([]byte("whsec"), time.Now().Add(-10*time.Minute), body)},
		{"garbage timestamp", "t=abc,v1=00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set(MockSignatureHeader, tt.header)
			if _, err := m.VerifyAndParseWebhook(h, body); !errors.Is(err, ErrInvalidWebhook) {
				t.Fatalf("error = %v, want ErrInvalidWebhook", err)
			}
		})
	}
}

func TestMapProcessorStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"succeeded", StatusSucceeded},
		{"PAID", StatusSucceeded},
		{"payment_failed", StatusFailed},
		{"cancelled", StatusCanceled},
	}
	for _, tt := range tests {
		got, err := MapProcessorStatus(tt.raw)
		if err != nil || got != tt.want {
			t.Fatalf("MapProcessorStatus(%q) = %q, %v", tt.raw, got, err)
		}
	}
	if _, err := MapProcessorStatus("processing"); !errors.Is(err, ErrUnknownProcessorStatus) {
		t.Fatalf("processing error = %v", err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	w := 10 * time.Minute
	base := IdempotencyKey("u1", "r1", 500, "usd", 0, w, at)

	if len(base) != 64 {
		t.Fatalf("key length = %d", len(base))
	}
	if got := IdempotencyKey("u1", "r1", 500, "USD", 0, w, at.Add(5*time.Minute)); got != base {
		t.Fatalf("same window produced a different key")
	}

	for name, k := range map[string]string{
		"principal":   IdempotencyKey("u2", "r1", 500, "usd", 0, w, at),
		"resource":    IdempotencyKey("u1", "r2", 500, "usd", 0, w, at),
		"amount":      IdempotencyKey("u1", "r1", 501, "usd", 0, w, at),
		"currency":    IdempotencyKey("u1", "r1", 500, "eur", 0, w, at),
		"attempt":     IdempotencyKey("u1", "r1", 500, "usd", 1, w, at),
		"next window": IdempotencyKey("u1", "r1", 500, "usd", 0, w, at.Add(10*time.Minute)),
	} {
		if k == base {
			t.Fatalf("%s change kept the key", name)
		}
	}
}
