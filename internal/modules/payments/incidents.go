package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"leaguehub.com/app/internal/storage"
)

var ErrNoEvidence = errors.New("incident has no archived evidence")

// IncidentReport is a refused processor report together with the local
// record it was compared against.
type IncidentReport struct {
	Kind     string
	Payment  Payment
	Reported ReconcileInput
}

type incidentEvidence struct {
	IncidentID string         `json:"incident_id"`
	Kind       string         `json:"kind"`
	RecordedAt time.Time      `json:"recorded_at"`
	Payment    Payment        `json:"payment"`
	Reported   ReconcileInput `json:"reported"`
}

// IncidentRecorder persists integrity incidents. The payment row is never
// touched; when an evidence store is configured the full report is archived
// next to the row.
type IncidentRecorder struct {
	db      *gorm.DB
	store   storage.Storage
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time
}

func NewIncidentRecorder(db *gorm.DB, store storage.Storage) *IncidentRecorder {
	return &IncidentRecorder{
		db:     db,
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *IncidentRecorder) SetLogger(l *slog.Logger) { r.logger = l }
func (r *IncidentRecorder) SetAlerter(a Alerter)     { r.alerter = a }

func (r *IncidentRecorder) Record(ctx context.Context, rep IncidentReport) (IntegrityIncident, error) {
	now := r.now()
	inc := IntegrityIncident{
		ID:                uuid.NewString(),
		Kind:              rep.Kind,
		PaymentID:         rep.Payment.ID,
		ProcessorIntentID: rep.Payment.IntentID(),
		ExpectedAmount:    rep.Payment.Amount,
		ExpectedCurrency:  rep.Payment.Currency,
		ReportedStatus:    truncate(rep.Reported.Status, 64),
		ReportedAmount:    rep.Reported.Amount,
		ReportedCurrency:  truncate(rep.Reported.Currency, 16),
		CreatedAt:         now,
	}

	// Archive failures are logged; the row matters more than the blob.
	if r.store != nil {
		if key, err := r.archive(ctx, inc.ID, rep, now); err != nil {
			r.logger.WarnContext(ctx, "incident evidence not archived", "incident_id", inc.ID, "err", err)
		} else {
			inc.EvidenceKey = &key
		}
	}

	if err := r.db.WithContext(ctx).Create(&inc).Error; err != nil {
		return IntegrityIncident{}, fmt.Errorf("record incident: %w", err)
	}

	r.logger.WarnContext(ctx, "integrity incident recorded",
		"incident_id", inc.ID, "kind", inc.Kind, "payment_id", inc.PaymentID, "intent_id", inc.ProcessorIntentID)

	if r.alerter != nil {
		if err := r.alerter.IncidentRecorded(ctx, inc); err != nil {
			r.logger.ErrorContext(ctx, "incident alert not sent", "incident_id", inc.ID, "err", err)
		}
	}
	return inc, nil
}

func (r *IncidentRecorder) archive(ctx context.Context, id string, rep IncidentReport, at time.Time) (string, error) {
	b, err := json.Marshal(incidentEvidence{
		IncidentID: id,
		Kind:       rep.Kind,
		RecordedAt: at,
		Payment:    rep.Payment,
		Reported:   rep.Reported,
	})
	if err != nil {
		return "", err
	}
	res, err := r.store.Put(ctx, bytes.NewReader(b), storage.PutInput{
		Key:         "incidents/" + id + ".json",
		ContentType: "application/json",
		Size:        int64(len(b)),
	})
	if err != nil {
		return "", err
	}
	return res.Key, nil
}

// Get loads one incident, resolved or not.
func (r *IncidentRecorder) Get(ctx context.Context, id string) (IntegrityIncident, error) {
	var inc IntegrityIncident
	if err := r.db.WithContext(ctx).First(&inc, "id = ?", id).Error; err != nil {
		return IntegrityIncident{}, fmt.Errorf("incident %s: %w", id, err)
	}
	return inc, nil
}

// Evidence reads the archived report of inc. It returns ErrNoEvidence when
// nothing was archived.
func (r *IncidentRecorder) Evidence(ctx context.Context, inc IntegrityIncident) ([]byte, error) {
	if inc.EvidenceKey == nil || r.store == nil {
		return nil, ErrNoEvidence
	}
	rc, err := r.store.Get(ctx, *inc.EvidenceKey)
	if err != nil {
		return nil, fmt.Errorf("read evidence %s: %w", *inc.EvidenceKey, err)
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, 1<<20))
}

// ListOpen returns unresolved incidents, oldest first.
func (r *IncidentRecorder) ListOpen(ctx context.Context, limit int) ([]IntegrityIncident, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []IntegrityIncident
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Resolve marks an incident handled. Resolving twice is a no-op.
func (r *IncidentRecorder) Resolve(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&IntegrityIncident{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Update("resolved_at", r.now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&IntegrityIncident{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("incident %s: %w", id, gorm.ErrRecordNotFound)
		}
	}
	return nil
}
