package payments

import "gorm.io/gorm"

// Migrate creates or updates the payment tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Payment{},
		&OutboxEvent{},
		&ProcessorNotification{},
		&IntegrityIncident{},
	)
}
