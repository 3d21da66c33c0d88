package payments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the processor-side view of a payment attempt.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string // raw processor status
	Amount       int64
	Currency     string
}

// WebhookEvent is a verified processor notification. Status is empty for
// event types that do not settle an intent.
type WebhookEvent struct {
	EventID  string
	Type     string
	IntentID string
	Status   string
	Amount   int64
	Currency string
}

// Processor wraps the external payment processor.
//
// CreateIntent must forward IdempotencyKey so a retried call returns the
// original intent. Errors wrap ErrProcessorUnavailable (retryable with the
// same key) or ErrProcessorRejected (not retryable).
type Processor interface {
	Name() string
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	FetchIntent(ctx context.Context, intentID string) (Intent, error)
	VerifyAndParseWebhook(headers http.Header, body []byte) (WebhookEvent, error)
}

// IntentCanceler is implemented by processors whose failed intents stay
// payable. CancelIntent returns the intent as it stands afterwards, which is
// succeeded when the customer paid first.
type IntentCanceler interface {
	CancelIntent(ctx context.Context, intentID string) (Intent, error)
}

// MapProcessorStatus maps a reported terminal status onto the local state machine.
func MapProcessorStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "paid":
		return StatusSucceeded, nil
	case "failed", "payment_failed":
		return StatusFailed, nil
	case "canceled", "cancelled":
		return StatusCanceled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProcessorStatus, raw)
	}
}

// IsPendingProcessorStatus reports statuses of an intent that has not settled yet.
func IsPendingProcessorStatus(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "requires_payment_method", "requires_confirmation", "requires_action",
		"processing", "requires_capture", "created", "pending":
		return true
	}
	return false
}
