package payments

import "errors"

// Caller input.
var (
	ErrInvalidRequest           = errors.New("invalid payment request")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidCurrency          = errors.New("invalid currency")
	ErrPaymentAlreadyInProgress = errors.New("payment already in progress for resource")
	ErrDuplicatePaymentRequest  = errors.New("identical payment request already processed")
)

// Processor.
var (
	ErrProcessorUnavailable    = errors.New("payment processor unavailable")
	ErrProcessorRejected       = errors.New("payment processor rejected request")
	ErrPaymentProcessorTimeout = errors.New("payment processor timeout")
	ErrPaymentRejected         = errors.New("payment rejected")
	ErrInvalidWebhook          = errors.New("invalid webhook")
	ErrIntentMismatch          = errors.New("processor intent does not match request")
)

// Reconciliation.
var (
	ErrUnknownPaymentIntent   = errors.New("unknown payment intent")
	ErrPaymentAmountMismatch  = errors.New("payment amount mismatch")
	ErrUnknownProcessorStatus = errors.New("unknown processor status")
)

var (
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrDuplicateProcessorIntent = errors.New("processor intent already recorded")
	ErrForbidden                = errors.New("forbidden")
)

// IsIntegrityError reports errors that need operator review.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrPaymentAmountMismatch) || errors.Is(err, ErrUnknownProcessorStatus)
}
