package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leaguehub.com/app/internal/database"
)

// Repo is the Payment record store. All lookups are keyed: by id, by
// processor intent id (unique index) or by (resource_id, status).
type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying connection.
func (r *Repo) DB() *gorm.DB { return r.db }

// WithTx returns a repo bound to tx.
func (r *Repo) WithTx(tx *gorm.DB) *Repo { return &Repo{db: tx, now: r.now} }

func (r *Repo) SetClock(now func() time.Time) { r.now = now }

// Save inserts p when it has no id yet (assigning id and audit stamps) and
// updates it otherwise. Updates are last-writer-wins; status transitions go
// through TransitionToTerminal instead.
func (r *Repo) Save(ctx context.Context, p *Payment) error {
	now := r.now()

	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = now
		p.UpdatedAt = now
		p.ActiveResourceID = activeResource(p)

		if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
			p.ID = ""
			return classifyWriteErr(err)
		}
		return nil
	}

	p.UpdatedAt = now
	p.ActiveResourceID = activeResource(p)
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

func (r *Repo) FindByID(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repo) FindByProcessorIntentID(ctx context.Context, intentID string) (*Payment, error) {
	var p Payment
	if err := r.db.WithContext(ctx).First(&p, "processor_intent_id = ?", intentID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FindByProcessorIntentIDForUpdate locks the row for the rest of the
// surrounding transaction on dialects with row locks.
func (r *Repo) FindByProcessorIntentIDForUpdate(ctx context.Context, intentID string) (*Payment, error) {
	q := r.db.WithContext(ctx)
	if database.SupportsRowLocks(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p Payment
	if err := q.First(&p, "processor_intent_id = ?", intentID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repo) ExistsForResourceWithStatus(ctx context.Context, resourceID string, status Status) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Payment{}).
		Where("resource_id = ? AND status = ?", resourceID, status).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountForResource counts every payment ever recorded for resourceID.
func (r *Repo) CountForResource(ctx context.Context, resourceID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Payment{}).Where("resource_id = ?", resourceID).Count(&n).Error
	return n, err
}

func (r *Repo) MostRecentForResource(ctx context.Context, resourceID string) (*Payment, error) {
	var p Payment
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		First(&p, "resource_id = ?", resourceID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// TransitionToTerminal moves p from CREATED to a terminal status and stamps
// the matching timestamp. It is a compare-and-set on status: false means
// another writer already moved the row and nothing was changed.
func (r *Repo) TransitionToTerminal(ctx context.Context, p *Payment, to Status, at time.Time) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("transition to non-terminal status %q", to)
	}

	stampCol := map[Status]string{
		StatusSucceeded: "succeeded_at",
		StatusFailed:    "failed_at",
		StatusCanceled:  "canceled_at",
	}[to]

	res := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status = ?", p.ID, StatusCreated).
		Updates(map[string]any{
			"status":             to,
			"active_resource_id": nil,
			stampCol:             at,
			"updated_at":         at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	p.Status = to
	p.ActiveResourceID = nil
	p.UpdatedAt = at
	t := at
	switch to {
	case StatusSucceeded:
		p.SucceededAt = &t
	case StatusFailed:
		p.FailedAt = &t
	case StatusCanceled:
		p.CanceledAt = &t
	}
	return true, nil
}

func activeResource(p *Payment) *string {
	if p.Status != StatusCreated {
		return nil
	}
	rid := p.ResourceID
	return &rid
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPaymentNotFound
	}
	return err
}

func classifyWriteErr(err error) error {
	if !database.IsDuplicate(err) {
		return err
	}
	if strings.Contains(err.Error(), "processor_intent") {
		return fmt.Errorf("%w: %v", ErrDuplicateProcessorIntent, err)
	}
	return fmt.Errorf("%w: %v", ErrPaymentAlreadyInProgress, err)
}
