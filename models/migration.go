package models

import (
	"log"

	"github.com/propdesk/brokerage_backend/config"
)

// MigrateTable runs gorm automigration for every persisted model.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&User{},
		&RMAssignment{},
		&Customer{},
		&Lead{},
		&Property{},
		&PropertyImage{},
		&PropertyRemovalLog{},
		&DuplicateReviewTicket{},
		&Slot{},
		&Visit{},
		&CancellationIncident{},
		&BrokerFlag{},
		&BrokerPenalty{},
		&OutboxEvent{},
		&WhatsAppTemplate{},
		&WhatsAppMessage{},
		&WhatsAppWebhookEvent{},
	)
	if err != nil {
		log.Fatalf("automigration failed: %v", err)
	}
}
