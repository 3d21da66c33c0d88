// Package activation consumes payment outcomes and activates the paid
// resource. It is the reference consumer of the outcome stream.
package activation

import "time"

// PaymentActivation is the consumer-side dedupe record: one row per
// (payment, status) ever applied.
type PaymentActivation struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	PaymentID   string    `gorm:"type:char(36);not null;uniqueIndex:ux_payment_activations_payment_status,priority:1"`
	Status      string    `gorm:"size:16;not null;uniqueIndex:ux_payment_activations_payment_status,priority:2"`
	EventID     string    `gorm:"size:128;not null"`
	ResourceID  string    `gorm:"size:64;not null;index"`
	PrincipalID string    `gorm:"size:64;not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

func (PaymentActivation) TableName() string { return "payment_activations" }

// ResourceActivation is the side effect: a resource is active once any of
// its payments succeeded.
type ResourceActivation struct {
	ResourceID  string    `gorm:"size:64;primaryKey"`
	PrincipalID string    `gorm:"size:64;not null"`
	PaymentID   string    `gorm:"type:char(36);not null"`
	Amount      int64     `gorm:"not null"`
	Currency    string    `gorm:"type:char(3);not null"`
	ActivatedAt time.Time `gorm:"not null"`
}

func (ResourceActivation) TableName() string { return "resource_activations" }
