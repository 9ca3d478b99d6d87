package models

import (
	"context"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
	"gorm.io/gorm"
)

type Visit struct {
	ID                   int         `gorm:"primary_key" json:"id"`
	SlotId               int         `gorm:"not null;index" json:"slot_id"`
	PropertyId           int         `gorm:"not null" json:"property_id"`
	BrokerId             int         `gorm:"not null;index" json:"broker_id"`
	RmId                 *int        `json:"rm_id"`
	CustomerId           int         `gorm:"not null" json:"customer_id"`
	CustomerRequirements string      `gorm:"type:text" json:"customer_requirements"`
	StartAt              time.Time   `gorm:"not null" json:"start_at"`
	EndAt                time.Time   `gorm:"not null" json:"end_at"`
	Status               VisitStatus `gorm:"size:30;not null;index" json:"status"`
	CancelledBy          string      `gorm:"size:20" json:"cancelled_by"`
	CancellationReason   string      `gorm:"size:255" json:"cancellation_reason"`
	PriorityRebookUntil  *time.Time  `json:"priority_rebook_until"`
	OtpCode              string      `gorm:"size:6" json:"-"`
	OtpExpiresAt         *time.Time  `json:"-"`
	OtpAttempts          int         `gorm:"not null;default:0" json:"-"`
	OtpSentAt            *time.Time  `json:"otp_sent_at"`
	CheckinLat           *float64    `json:"checkin_lat"`
	CheckinLng           *float64    `json:"checkin_lng"`
	DistanceMeters       *float64    `json:"distance_meters"`
	IsUniqueVisit        bool        `gorm:"not null;default:false" json:"is_unique_visit"`
	CompletionMode       string      `gorm:"size:20" json:"completion_mode"`
	CompletedAt          *time.Time  `json:"completed_at"`
	CreatedAt            time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVisit struct {
	SlotId               int    `json:"slot_id" validate:"required"`
	PropertyId           int    `json:"property_id" validate:"required"`
	CustomerName         string `json:"customer_name"`
	CustomerPhone        string `json:"customer_phone" validate:"required"`
	CustomerRequirements string `json:"customer_requirements"`
}

func GetVisit(ctx context.Context, id int) (*Visit, error) {
	return utils.FetchModel[Visit](ctx, id)
}

// ScheduledVisitForSlot finds the visit a slot cancellation would strand.
func ScheduledVisitForSlot(tx *gorm.DB, slotId int) (*Visit, error) {
	var visit Visit
	err := tx.Where("slot_id = ? AND status = ?", slotId, VisitStatusScheduled).
		Order("id DESC").
		First(&visit).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &visit, nil
}

// BrokerVisits lists a broker's visits, most recent first.
func BrokerVisits(ctx context.Context, brokerId int) ([]*Visit, error) {
	db := config.GetDB()
	var visits []*Visit
	err := db.WithContext(ctx).
		Where("broker_id = ?", brokerId).
		Order("start_at DESC").
		Limit(200).
		Find(&visits).Error
	return visits, err
}
