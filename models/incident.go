package models

import (
	"context"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
)

// CancellationIncident tracks a broker's cancellation of an already-booked
// visit inside the 24h protection window.
//
// Invariants:
//   - SlaDueAt is non-null while status is pending_rm_review.
//   - SrmDueAt is non-null only after escalation.
//   - ResolvedAt is set exactly once, by the transition into a terminal state.
type CancellationIncident struct {
	ID                 int            `gorm:"primary_key" json:"id"`
	SlotId             int            `gorm:"not null" json:"slot_id"`
	VisitId            int            `gorm:"not null" json:"visit_id"`
	BrokerId           int            `gorm:"not null;index" json:"broker_id"`
	RaisedAt           time.Time      `gorm:"not null" json:"raised_at"`
	Within24h          bool           `gorm:"column:within_24h;not null" json:"within_24h"`
	IsBooked           bool           `gorm:"not null" json:"is_booked"`
	EmergencyRequested bool           `gorm:"not null" json:"emergency_requested"`
	EmergencyReason    string         `gorm:"size:255" json:"emergency_reason"`
	EmergencyDetails   string         `gorm:"type:text" json:"emergency_details"`
	Status             IncidentStatus `gorm:"size:30;not null;index" json:"status"`
	SlaDueAt           *time.Time     `json:"sla_due_at"`
	EscalatedToSrm     bool           `gorm:"not null;default:false" json:"escalated_to_srm"`
	SrmDueAt           *time.Time     `json:"srm_due_at"`
	ResolvedAt         *time.Time     `json:"resolved_at"`
	RmId               *int           `json:"rm_id"`
	SrmId              *int           `json:"srm_id"`
	RmNote             string         `gorm:"size:500" json:"rm_note"`
	SrmNote            string         `gorm:"size:500" json:"srm_note"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetIncident(ctx context.Context, id int) (*CancellationIncident, error) {
	return utils.FetchModel[CancellationIncident](ctx, id)
}

// PendingEmergencyQueue is the RM queue: pending incidents for the RM's
// assigned brokers, oldest raise first.
func PendingEmergencyQueue(ctx context.Context, brokerIds []int) ([]*CancellationIncident, error) {
	if len(brokerIds) == 0 {
		return nil, nil
	}
	db := config.GetDB()
	var incidents []*CancellationIncident
	err := db.WithContext(ctx).
		Where("status = ? AND broker_id IN ?", IncidentStatusPendingRMReview, brokerIds).
		Order("raised_at ASC").
		Find(&incidents).Error
	return incidents, err
}

// EscalationQueue is the SRM queue: every escalated incident, oldest first.
func EscalationQueue(ctx context.Context) ([]*CancellationIncident, error) {
	db := config.GetDB()
	var incidents []*CancellationIncident
	err := db.WithContext(ctx).
		Where("status = ?", IncidentStatusEscalatedToSRM).
		Order("updated_at ASC").
		Find(&incidents).Error
	return incidents, err
}
