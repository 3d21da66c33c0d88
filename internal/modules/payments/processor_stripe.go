package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	BaseURL       string // optional API override
}

// StripeProcessor talks to Stripe PaymentIntents. SDK retries are disabled;
// retries belong to the caller and are made safe by the idempotency key.
type StripeProcessor struct {
	intents       *paymentintent.Client
	webhookSecret string
}

func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	return &StripeProcessor{
		intents:       &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
	}
}

func (s *StripeProcessor) Name() string { return "stripe" }

func (s *StripeProcessor) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := s.intents.New(params)
	if err != nil {
		return Intent{}, classifyStripeErr(err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeProcessor) FetchIntent(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, classifyStripeErr(err)
	}
	return intentFromStripe(pi), nil
}

// CancelIntent cancels an intent so a failed attempt cannot be paid later
// with another payment method. An intent that already left the cancelable
// states is fetched and returned as is.
func (s *StripeProcessor) CancelIntent(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := s.intents.Cancel(intentID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return s.FetchIntent(ctx, intentID)
		}
		return Intent{}, classifyStripeErr(err)
	}
	return intentFromStripe(pi), nil
}

func (s *StripeProcessor) VerifyAndParseWebhook(headers http.Header, body []byte) (WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(body, headers.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	out := WebhookEvent{EventID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case "payment_intent.succeeded":
		out.Status = "succeeded"
	case "payment_intent.payment_failed":
		out.Status = "failed"
	case "payment_intent.canceled":
		out.Status = "canceled"
	default:
		return out, nil
	}

	if ev.Data == nil {
		return WebhookEvent{}, fmt.Errorf("%w: event %s has no data", ErrInvalidWebhook, ev.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	out.IntentID = pi.ID
	out.Amount = pi.Amount
	out.Currency = string(pi.Currency)
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	status := string(pi.Status)
	// Stripe sends a failed attempt back to requires_payment_method and keeps
	// the decline on last_payment_error.
	if pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && pi.LastPaymentError != nil {
		status = "payment_failed"
	}
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       status,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
}

func classifyStripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
		}
		if se.HTTPStatusCode >= 400 {
			return fmt.Errorf("%w: %v", ErrProcessorRejected, err)
		}
	}
	// network errors, timeouts, cancellations
	return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
}
