package handlers

import (
	"errors"

	"leaguehub.com/app/internal/modules/payments"
	"leaguehub.com/app/internal/shared/apperr"
)

// paymentErr maps lifecycle errors onto HTTP-facing kinds.
func paymentErr(err error) error {
	switch {
	case errors.Is(err, payments.ErrInvalidAmount):
		return apperr.New(apperr.Invalid, "Amount is below the minimum or not positive.", err)
	case errors.Is(err, payments.ErrInvalidCurrency):
		return apperr.New(apperr.Invalid, "Currency must be a 3-letter ISO code.", err)
	case errors.Is(err, payments.ErrInvalidRequest):
		return apperr.New(apperr.Invalid, "Invalid payment request.", err)
	case errors.Is(err, payments.ErrPaymentAlreadyInProgress):
		return apperr.New(apperr.Conflict, "A payment for this resource is already in progress.", err)
	case errors.Is(err, payments.ErrDuplicatePaymentRequest):
		return apperr.New(apperr.Conflict, "This payment request was already processed.", err)
	case errors.Is(err, payments.ErrPaymentRejected):
		return apperr.New(apperr.Unprocessable, "The payment processor rejected the request.", err)
	case errors.Is(err, payments.ErrPaymentProcessorTimeout):
		return apperr.New(apperr.Unavailable, "The payment processor is unavailable. Retry the same request.", err)
	case errors.Is(err, payments.ErrIntentMismatch):
		return apperr.New(apperr.BadGateway, "The payment processor returned an unexpected intent.", err)
	case errors.Is(err, payments.ErrPaymentNotFound):
		return apperr.NotFoundErr("Payment not found.")
	case errors.Is(err, payments.ErrForbidden):
		return apperr.ForbiddenErr("You do not have access to this payment.")
	default:
		return apperr.Wrap(err)
	}
}
