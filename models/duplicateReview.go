package models

import (
	"context"

	"time"

	"github.com/propdesk/brokerage_backend/config"
)

// DuplicateReviewTicket queues an ambiguous duplicate match for human review.
// Created only when similarity exceeds the review threshold; resolved exactly once.
type DuplicateReviewTicket struct {
	ID                int                `gorm:"primary_key" json:"id"`
	PropertyId        int                `gorm:"not null;index" json:"property_id"`
	MatchedPropertyId int                `gorm:"not null" json:"matched_property_id"`
	Similarity        float64            `gorm:"not null" json:"similarity"`
	AutoHidden        bool               `gorm:"not null;default:false" json:"auto_hidden"`
	Status            TicketStatus       `gorm:"size:20;not null;index" json:"status"`
	RmId              *int               `json:"rm_id"`
	Decision          *DuplicateDecision `gorm:"size:30" json:"decision"`
	Notes             string             `gorm:"type:text" json:"notes"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// PendingDuplicateTickets returns the RM review queue scoped to the given
// brokers, oldest first.
func PendingDuplicateTickets(ctx context.Context, brokerIds []int) ([]*DuplicateReviewTicket, error) {
	if len(brokerIds) == 0 {
		return nil, nil
	}
	db := config.GetDB()
	var tickets []*DuplicateReviewTicket
	err := db.WithContext(ctx).
		Joins("JOIN properties ON properties.id = duplicate_review_tickets.property_id").
		Where("duplicate_review_tickets.status = ? AND properties.broker_id IN ?", TicketStatusPending, brokerIds).
		Order("duplicate_review_tickets.created_at ASC").
		Find(&tickets).Error
	return tickets, err
}
