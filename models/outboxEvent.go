package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/propdesk/brokerage_backend/utils"
	"gorm.io/gorm"
)

// OutboxEvent implements the transactional outbox: the event row is written
// inside the caller's DB transaction and published asynchronously by the
// dispatcher after commit. Notification collaborators are never a blocking
// dependency of workflow correctness.
type OutboxEvent struct {
	ID               int                 `gorm:"primary_key" json:"id"`
	EventType        string              `gorm:"size:100;not null;index" json:"event_type"`
	EntityType       string              `gorm:"size:50;not null" json:"entity_type"`
	EntityId         int                 `gorm:"not null" json:"entity_id"`
	Payload          []byte              `gorm:"type:json" json:"payload"`
	IsProcessed      bool                `gorm:"not null;default:false;index" json:"is_processed"`
	PublishStatus    OutboxPublishStatus `gorm:"size:20;not null" json:"publish_status"`
	PublishAttempts  int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time          `json:"next_attempt_at"`
	LastPublishError *string             `gorm:"size:500" json:"last_publish_error"`
	PublishedId      *string             `gorm:"size:100" json:"published_id"`
	CorrelationId    string              `gorm:"size:64" json:"correlation_id"`
	LockedAt         *time.Time          `json:"locked_at"`
	LockedBy         *string             `gorm:"size:100" json:"locked_by"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// Event names consumed by notification/reporting collaborators.
const (
	EventDuplicateTicketCreated  = "duplicate_ticket_created"
	EventDuplicateTicketResolved = "duplicate_ticket_resolved"
	EventIncidentRaised          = "cancellation_incident_raised"
	EventIncidentEscalated       = "incident_escalated_to_srm"
	EventIncidentResolved        = "cancellation_incident_resolved"
	EventBrokerFlagAdded         = "broker_flag_added"
	EventBrokerDeactivated       = "broker_removed_after_third_flag"
	EventCustomerApologySent     = "customer_apology_sent"
	EventRMCallTriggered         = "rm_call_triggered"
	EventVisitScheduled          = "visit_scheduled"
	EventRMReminderScheduled     = "rm_reminder_scheduled"
	EventVisitCancelledCustomer  = "customer_visit_cancelled"
	EventVisitRescheduled        = "customer_visit_rescheduled"
	EventOTPSent                 = "otp_sent"
	EventVisitCompleted          = "visit_completed"
)

// RecordEvent writes an outbox row inside the caller's transaction.
func RecordEvent(ctx context.Context, tx *gorm.DB, eventType string, entityType string, entityId int, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.Create(&OutboxEvent{
		EventType:     eventType,
		EntityType:    entityType,
		EntityId:      entityId,
		Payload:       body,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
