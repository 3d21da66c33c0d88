package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"leaguehub.com/app/internal/database"
)

// Notification outcomes recorded on processor_notifications.outcome.
const (
	OutcomeProcessed     = "processed"
	OutcomeDuplicate     = "duplicate"
	OutcomeIgnored       = "ignored"
	OutcomeUnknownIntent = "unknown_intent"
	OutcomeReview        = "review"
)

// WebhookService stores verified processor notifications, drops redeliveries
// and hands settling events to the lifecycle manager.
type WebhookService struct {
	db        *gorm.DB
	lifecycle *Service
	logger    *slog.Logger
	now       func() time.Time
}

func NewWebhookService(db *gorm.DB, lifecycle *Service) *WebhookService {
	return &WebhookService{
		db:        db,
		lifecycle: lifecycle,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *WebhookService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Handle returns the outcome and a nil error whenever the processor should
// stop retrying. A non-nil error leaves the notification unprocessed so the
// next delivery runs it again.
func (s *WebhookService) Handle(ctx context.Context, processorName string, ev WebhookEvent, rawBody []byte) (string, error) {
	if ev.EventID == "" {
		return "", fmt.Errorf("%w: missing event id", ErrInvalidWebhook)
	}

	payload := datatypes.JSON(rawBody)
	if !json.Valid(rawBody) {
		payload, _ = json.Marshal(string(rawBody))
	}

	n := ProcessorNotification{
		ID:         uuid.NewString(),
		Processor:  processorName,
		EventID:    ev.EventID,
		EventType:  truncate(ev.Type, 64),
		IntentID:   ev.IntentID,
		Payload:    payload,
		ReceivedAt: s.now(),
	}

	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		if !database.IsDuplicate(err) {
			s.logger.ErrorContext(ctx, "failed to persist processor notification", "processor", processorName, "event_id", ev.EventID, "err", err)
			return "", err
		}
		var prev ProcessorNotification
		if err := s.db.WithContext(ctx).
			First(&prev, "processor = ? AND event_id = ?", processorName, ev.EventID).Error; err != nil {
			return "", err
		}
		if prev.ProcessedAt != nil {
			s.logger.InfoContext(ctx, "webhook event deduplicated", "processor", processorName, "event_id", ev.EventID, "type", ev.Type)
			return OutcomeDuplicate, nil
		}
		// an earlier delivery failed part way; run it again
		n = prev
	}

	outcome, applyErr := s.apply(ctx, ev)
	if applyErr != nil {
		msg := truncate(applyErr.Error(), 255)
		if err := s.db.WithContext(ctx).Model(&ProcessorNotification{}).
			Where("id = ?", n.ID).
			Update("process_error", msg).Error; err != nil {
			s.logger.ErrorContext(ctx, "failed to record notification error", "event_id", ev.EventID, "err", err)
		}
		s.logger.ErrorContext(ctx, "webhook event apply failed", "processor", processorName, "event_id", ev.EventID, "type", ev.Type, "err", applyErr)
		return "", applyErr
	}

	processed := s.now()
	if err := s.db.WithContext(ctx).Model(&ProcessorNotification{}).
		Where("id = ?", n.ID).
		Updates(map[string]any{"processed_at": &processed, "outcome": outcome, "process_error": nil}).Error; err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "webhook event handled", "processor", processorName, "event_id", ev.EventID, "type", ev.Type, "outcome", outcome)
	return outcome, nil
}

func (s *WebhookService) apply(ctx context.Context, ev WebhookEvent) (string, error) {
	if ev.Status == "" {
		return OutcomeIgnored, nil
	}

	res, err := s.lifecycle.Reconcile(ctx, ReconcileInput{
		IntentID: ev.IntentID,
		Status:   ev.Status,
		Amount:   ev.Amount,
		Currency: ev.Currency,
	})
	switch {
	case err == nil && res.Pending:
		// the settling event that follows reconciles it
		return OutcomeIgnored, nil
	case err == nil:
		return OutcomeProcessed, nil
	case errors.Is(err, ErrUnknownPaymentIntent):
		return OutcomeUnknownIntent, nil
	case IsIntegrityError(err):
		return OutcomeReview, nil
	default:
		return "", err
	}
}
