package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"leaguehub.com/app/internal/bus"
	"leaguehub.com/app/internal/events"
)

func enqueueOutbox(ctx context.Context, tx *gorm.DB, ev events.PaymentOutcome, at time.Time) error {
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	row := OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: ev.PaymentID,
		EventID:     ev.EventID,
		EventType:   ev.Type,
		Payload:     datatypes.JSON(payload),
		CreatedAt:   at,
	}
	return tx.WithContext(ctx).Create(&row).Error
}

// Dispatcher publishes committed outbox rows to the bus. Publishing is
// at-least-once: a row is marked published only after the bus accepted it.
type Dispatcher struct {
	db     *gorm.DB
	pub    bus.Publisher
	logger *slog.Logger
	kick   chan struct{}
	now    func() time.Time

	BatchSize      int
	PollInterval   time.Duration
	InitialBackoff time.Duration
	MaxElapsed     time.Duration // per-row retry budget inside one sweep
	// MaxConsecutiveFailures ends a sweep early; 0 never stops.
	MaxConsecutiveFailures int
}

func NewDispatcher(db *gorm.DB, pub bus.Publisher) *Dispatcher {
	return &Dispatcher{
		db:             db,
		pub:            pub,
		logger:         slog.Default(),
		kick:           make(chan struct{}, 1),
		now:            func() time.Time { return time.Now().UTC() },
		BatchSize:      100,
		PollInterval:   2 * time.Second,
		InitialBackoff: 200 * time.Millisecond,
		MaxElapsed:     30 * time.Second,

		MaxConsecutiveFailures: 3,
	}
}

func (d *Dispatcher) SetLogger(l *slog.Logger) { d.logger = l }

// Notify wakes Run without blocking.
func (d *Dispatcher) Notify() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run sweeps on every tick and every Notify until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(d.PollInterval)
	defer t.Stop()

	for {
		if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "outbox sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-d.kick:
		}
	}
}

// Sweep publishes every pending row and returns how many were published. It
// also serves as the recovery pass after a crash between commit and publish.
// Rows are paged by (created_at, id) so a row that keeps failing does not hide
// the ones behind it. After MaxConsecutiveFailures rows fail in a row the bus
// is treated as down and the sweep stops; the rest wait for the next sweep.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	published := 0
	failedInRow := 0
	var errs []error
	var cursor *OutboxEvent
	batch := d.BatchSize
	if batch <= 0 {
		batch = 100
	}

	for {
		q := d.db.WithContext(ctx).Where("published_at IS NULL")
		if cursor != nil {
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
		var rows []OutboxEvent
		if err := q.Order("created_at ASC, id ASC").Limit(batch).Find(&rows).Error; err != nil {
			return published, errors.Join(append(errs, err)...)
		}

		for i := range rows {
			row := rows[i]
			cursor = &row

			if err := d.publish(ctx, row); err != nil {
				errs = append(errs, fmt.Errorf("event %s: %w", row.EventID, err))
				failedInRow++
				if ctx.Err() != nil || (d.MaxConsecutiveFailures > 0 && failedInRow >= d.MaxConsecutiveFailures) {
					d.logger.WarnContext(ctx, "outbox sweep stopped early", "failed_in_row", failedInRow, "published", published)
					return published, errors.Join(errs...)
				}
				continue
			}
			failedInRow = 0
			published++
		}

		if len(rows) < batch {
			break
		}
	}
	return published, errors.Join(errs...)
}

func (d *Dispatcher) publish(ctx context.Context, row OutboxEvent) error {
	msg := bus.Message{
		ID:      row.EventID,
		Key:     row.AggregateID,
		Type:    row.EventType,
		Payload: []byte(row.Payload),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.InitialBackoff
	b.MaxElapsedTime = d.MaxElapsed

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := d.pub.Publish(ctx, msg)
		if errors.Is(err, bus.ErrNoSubscribers) {
			// waiting inside this sweep will not add a consumer
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))

	now := d.now()
	if err != nil {
		errMsg := truncate(err.Error(), 255)
		if uerr := d.db.WithContext(ctx).Model(&OutboxEvent{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + ?", attempts),
				"last_error": errMsg,
			}).Error; uerr != nil {
			d.logger.ErrorContext(ctx, "outbox attempt not recorded", "event_id", row.EventID, "err", uerr)
		}
		d.logger.WarnContext(ctx, "outbox publish failed", "event_id", row.EventID, "attempts", row.Attempts+attempts, "err", err)
		return err
	}

	if err := d.db.WithContext(ctx).Model(&OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", row.ID).
		Updates(map[string]any{
			"attempts":     gorm.Expr("attempts + ?", attempts),
			"last_error":   nil,
			"published_at": now,
		}).Error; err != nil {
		// published but not marked: the next sweep re-publishes, consumers dedupe
		return fmt.Errorf("mark published: %w", err)
	}

	d.logger.InfoContext(ctx, "outbox event published", "event_id", row.EventID, "payment_id", row.AggregateID)
	return nil
}

// Pending counts rows not yet published.
func (d *Dispatcher) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&OutboxEvent{}).Where("published_at IS NULL").Count(&n).Error
	return n, err
}
