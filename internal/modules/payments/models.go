package payments

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Payment is the local record of one processor intent. Rows are never deleted.
//
// ActiveResourceID mirrors ResourceID while the payment is CREATED and is NULL
// afterwards; its unique index allows at most one in-flight payment per resource.
type Payment struct {
	ID                string  `gorm:"type:char(36);primaryKey"`
	PrincipalID       string  `gorm:"size:64;not null;index:ix_payments_principal"`
	ResourceID        string  `gorm:"size:64;not null;index:ix_payments_resource_status,priority:1"`
	Status            Status  `gorm:"size:16;not null;index:ix_payments_resource_status,priority:2"`
	ActiveResourceID  *string `gorm:"size:64;uniqueIndex:ux_payments_active_resource"`
	Processor         string  `gorm:"size:32;not null"`
	ProcessorIntentID *string `gorm:"size:128;uniqueIndex:ux_payments_processor_intent"`
	IdempotencyKey    string  `gorm:"size:64;not null"`
	Amount            int64   `gorm:"not null"`
	Currency          string  `gorm:"type:char(3);not null"`
	Description       string  `gorm:"size:255"`

	SucceededAt *time.Time
	FailedAt    *time.Time
	CanceledAt  *time.Time

	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (Payment) TableName() string { return "payments" }

func (p Payment) IntentID() string {
	if p.ProcessorIntentID == nil {
		return ""
	}
	return *p.ProcessorIntentID
}

// OutboxEvent is written in the same transaction as the state change it
// describes and published afterwards.
type OutboxEvent struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	AggregateID string         `gorm:"type:char(36);not null;index:ix_payment_outbox_aggregate"`
	EventID     string         `gorm:"size:128;not null;uniqueIndex:ux_payment_outbox_event"`
	EventType   string         `gorm:"size:64;not null"`
	Payload     datatypes.JSON `gorm:"not null"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   *string        `gorm:"size:255"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime:false;index:ix_payment_outbox_pending,priority:2"`
	PublishedAt *time.Time     `gorm:"index:ix_payment_outbox_pending,priority:1"`
}

func (OutboxEvent) TableName() string { return "payment_outbox" }

// ProcessorNotification is an inbound webhook, deduplicated by (processor, event id).
type ProcessorNotification struct {
	ID           string         `gorm:"type:char(36);primaryKey"`
	Processor    string         `gorm:"size:32;not null;uniqueIndex:ux_processor_notifications_event,priority:1"`
	EventID      string         `gorm:"size:128;not null;uniqueIndex:ux_processor_notifications_event,priority:2"`
	EventType    string         `gorm:"size:64;not null"`
	IntentID     string         `gorm:"size:128;index:ix_processor_notifications_intent"`
	Payload      datatypes.JSON `gorm:"not null"`
	Outcome      string         `gorm:"size:32"`
	ReceivedAt   time.Time      `gorm:"not null"`
	ProcessedAt  *time.Time
	ProcessError *string `gorm:"size:255"`
}

func (ProcessorNotification) TableName() string { return "processor_notifications" }

const (
	IncidentAmountMismatch = "amount_mismatch"
	IncidentUnknownStatus  = "unknown_status"
)

// IntegrityIncident records a processor report that was refused and needs an operator.
type IntegrityIncident struct {
	ID                string `gorm:"type:char(36);primaryKey"`
	Kind              string `gorm:"size:32;not null"`
	PaymentID         string `gorm:"type:char(36);not null;index:ix_integrity_incidents_payment"`
	ProcessorIntentID string `gorm:"size:128;not null"`
	ExpectedAmount    int64  `gorm:"not null"`
	ExpectedCurrency  string `gorm:"type:char(3);not null"`
	ReportedStatus    string `gorm:"size:64"`
	ReportedAmount    int64
	ReportedCurrency  string     `gorm:"size:16"`
	EvidenceKey       *string    `gorm:"size:255"`
	CreatedAt         time.Time  `gorm:"not null;autoCreateTime:false;index:ix_integrity_incidents_open,priority:2"`
	ResolvedAt        *time.Time `gorm:"index:ix_integrity_incidents_open,priority:1"`
}

func (IntegrityIncident) TableName() string { return "integrity_incidents" }
