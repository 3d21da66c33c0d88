// Package events holds the wire contract of payment-outcome events shared by
// the publisher and every consuming service.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const TypePaymentOutcome = "payment.outcome"

// PaymentOutcome is published once a payment reaches a terminal status.
// Consumers must treat (PaymentID, Status) as the dedupe key.
type PaymentOutcome struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	PaymentID   string    `json:"payment_id"`
	PrincipalID string    `json:"principal_id"`
	ResourceID  string    `json:"resource_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// OutcomeEventID derives the stable event id for a payment transition.
func OutcomeEventID(paymentID, status string) string {
	return paymentID + ":" + status
}

func NewPaymentOutcome(paymentID, principalID, resourceID string, amount int64, currency, status string, at time.Time) PaymentOutcome {
	return PaymentOutcome{
		EventID:     OutcomeEventID(paymentID, status),
		Type:        TypePaymentOutcome,
		PaymentID:   paymentID,
		PrincipalID: principalID,
		ResourceID:  resourceID,
		Amount:      amount,
		Currency:    currency,
		Status:      status,
		OccurredAt:  at.UTC(),
	}
}

func (e PaymentOutcome) Validate() error {
	if e.PaymentID == "" || e.Status == "" {
		return fmt.Errorf("payment outcome: payment_id and status are required")
	}
	if e.EventID != OutcomeEventID(e.PaymentID, e.Status) {
		return fmt.Errorf("payment outcome: event_id %q does not match payment %s/%s", e.EventID, e.PaymentID, e.Status)
	}
	return nil
}

func (e PaymentOutcome) Marshal() ([]byte, error) { return json.Marshal(e) }

func UnmarshalPaymentOutcome(b []byte) (PaymentOutcome, error) {
	var e PaymentOutcome
	if err := json.Unmarshal(b, &e); err != nil {
		return PaymentOutcome{}, fmt.Errorf("payment outcome: %w", err)
	}
	return e, e.Validate()
}
