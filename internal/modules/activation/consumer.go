package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leaguehub.com/app/internal/bus"
	"leaguehub.com/app/internal/events"
)

var ErrNotActive = errors.New("resource not active")

// Consumer applies payment outcomes. Applying the same (payment, status)
// twice has no additional effect.
type Consumer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewConsumer(db *gorm.DB) *Consumer {
	return &Consumer{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *Consumer) SetLogger(l *slog.Logger) { c.logger = l }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&PaymentActivation{}, &ResourceActivation{})
}

// Handle is a bus.Handler. Malformed messages are logged and acknowledged;
// redelivering them cannot help.
func (c *Consumer) Handle(ctx context.Context, m bus.Message) error {
	if m.Type != events.TypePaymentOutcome {
		c.logger.DebugContext(ctx, "skipping message", "type", m.Type, "id", m.ID)
		return nil
	}
	ev, err := events.UnmarshalPaymentOutcome(m.Payload)
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping malformed payment outcome", "id", m.ID, "err", err)
		return nil
	}
	_, err = c.Apply(ctx, ev)
	return err
}

// Apply records ev and activates the resource on success. It reports whether
// this call had an effect.
func (c *Consumer) Apply(ctx context.Context, ev events.PaymentOutcome) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}

	applied := false
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := c.now()
		rec := PaymentActivation{
			ID:          uuid.NewString(),
			PaymentID:   ev.PaymentID,
			Status:      ev.Status,
			EventID:     ev.EventID,
			ResourceID:  ev.ResourceID,
			PrincipalID: ev.PrincipalID,
			AppliedAt:   now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if ev.Status != "succeeded" {
			return nil
		}

		ra := ResourceActivation{
			ResourceID:  ev.ResourceID,
			PrincipalID: ev.PrincipalID,
			PaymentID:   ev.PaymentID,
			Amount:      ev.Amount,
			Currency:    ev.Currency,
			ActivatedAt: ev.OccurredAt,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"principal_id", "payment_id", "amount", "currency", "activated_at"}),
		}).Create(&ra).Error
	})
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", ev.EventID, err)
	}

	if applied {
		c.logger.InfoContext(ctx, "payment outcome applied",
			"event_id", ev.EventID, "payment_id", ev.PaymentID, "resource_id", ev.ResourceID, "status", ev.Status)
	} else {
		c.logger.InfoContext(ctx, "payment outcome already applied", "event_id", ev.EventID)
	}
	return applied, nil
}

// Activation returns the active record for resourceID.
func (c *Consumer) Activation(ctx context.Context, resourceID string) (ResourceActivation, error) {
	var ra ResourceActivation
	err := c.db.WithContext(ctx).First(&ra, "resource_id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ResourceActivation{}, ErrNotActive
	}
	return ra, err
}

// Run subscribes until ctx is done.
func (c *Consumer) Run(ctx context.Context, sub bus.Subscriber) error {
	err := sub.Subscribe(ctx, c.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
