package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	MockSignatureHeader = "X-Mock-Signature"
	mockSignatureMaxAge = 5 * time.Minute
)

// MockWebhookPayload is the body the mock processor signs and sends.
type MockWebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"` // payment.succeeded|payment.failed|payment.canceled
	Data struct {
		IntentID string `json:"intent_id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// MockProcessor is an in-memory processor for development and tests.
// Replaying an idempotency key returns the original intent.
type MockProcessor struct {
	mu      sync.Mutex
	secret  []byte
	intents map[string]*Intent
	byKey   map[string]string
	calls   int
	cancels int
	queued  []error

	// Delay blocks CreateIntent until it elapses or ctx is done.
	Delay time.Duration
	// LoseResponses makes the next N CreateIntent calls create the intent
	// and then report ErrProcessorUnavailable, like a timeout after commit.
	LoseResponses int

	now func() time.Time
}

func NewMockProcessor(webhookSecret string) *MockProcessor {
	return &MockProcessor{
		secret:  []byte(webhookSecret),
		intents: map[string]*Intent{},
		byKey:   map[string]string{},
		now:     time.Now,
	}
}

func (m *MockProcessor) Name() string { return "mock" }

// FailNext queues errors returned by subsequent CreateIntent calls.
func (m *MockProcessor) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, errs...)
}

func (m *MockProcessor) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Intent{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.queued) > 0 {
		err := m.queued[0]
		m.queued = m.queued[1:]
		return Intent{}, err
	}
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive", ErrProcessorRejected)
	}
	if req.IdempotencyKey == "" {
		return Intent{}, fmt.Errorf("%w: idempotency key required", ErrProcessorRejected)
	}

	if id, ok := m.byKey[req.IdempotencyKey]; ok {
		in := m.intents[id]
		if in.Amount != req.Amount || in.Currency != req.Currency {
			return Intent{}, fmt.Errorf("%w: idempotency key reused with different parameters", ErrProcessorRejected)
		}
		return *in, nil
	}

	id := "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	in := &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}
	m.intents[id] = in
	m.byKey[req.IdempotencyKey] = id

	if m.LoseResponses > 0 {
		m.LoseResponses--
		return Intent{}, fmt.Errorf("%w: response lost", ErrProcessorUnavailable)
	}
	return *in, nil
}

func (m *MockProcessor) FetchIntent(ctx context.Context, intentID string) (Intent, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[intentID]
	if !ok {
		return Intent{}, fmt.Errorf("%w: no such intent %s", ErrProcessorRejected, intentID)
	}
	return *in, nil
}

// CancelIntent cancels an unsettled intent. Settled and processing intents
// are returned unchanged.
func (m *MockProcessor) CancelIntent(ctx context.Context, intentID string) (Intent, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[intentID]
	if !ok {
		return Intent{}, fmt.Errorf("%w: no such intent %s", ErrProcessorRejected, intentID)
	}
	m.cancels++
	switch in.Status {
	case "succeeded", "canceled", "processing":
	default:
		in.Status = "canceled"
	}
	return *in, nil
}

// Cancels counts CancelIntent calls.
func (m *MockProcessor) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// SetStatus changes an intent's processor-side status.
func (m *MockProcessor) SetStatus(intentID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.intents[intentID]; ok {
		in.Status = status
	}
}

func (m *MockProcessor) IntentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intents)
}

func (m *MockProcessor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProcessor) VerifyAndParseWebhook(headers http.Header, body []byte) (WebhookEvent, error) {
	if err := VerifyMockSignature(m.secret, headers.Get(MockSignatureHeader), body, m.now()); err != nil {
		return WebhookEvent{}, err
	}

	var p MockWebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if p.ID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing event id", ErrInvalidWebhook)
	}

	ev := WebhookEvent{EventID: p.ID, Type: p.Type}
	switch p.Type {
	case "payment.succeeded":
		ev.Status = "succeeded"
	case "payment.failed":
		ev.Status = "failed"
	case "payment.canceled":
		ev.Status = "canceled"
	default:
		return ev, nil
	}
	ev.IntentID = p.Data.IntentID
	ev.Amount = p.Data.Amount
	ev.Currency = p.Data.Currency
	return ev, nil
}

// SignMockWebhook returns the X-Mock-Signature header value: t=<unix>,v1=<hex>.
func SignMockWebhook(secret []byte, t time.Time, body []byte) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeMockSig(secret, ts, body))
}

func VerifyMockSignature(secret []byte, header string, body []byte, now time.Time) error {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidWebhook)
			}
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidWebhook)
	}
	if age := now.Sub(time.Unix(ts, 0)); age > mockSignatureMaxAge || age < -mockSignatureMaxAge {
		return fmt.Errorf("%w: signature expired", ErrInvalidWebhook)
	}
	want := computeMockSig(secret, ts, body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidWebhook)
	}
	return nil
}

func computeMockSig(secret []byte, t int64, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(strconv.FormatInt(t, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}
