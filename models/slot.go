package models

import (
	"context"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
)

type Slot struct {
	ID           int        `gorm:"primary_key" json:"id"`
	BrokerId     int        `gorm:"not null;index" json:"broker_id"`
	City         string     `gorm:"size:100;not null" json:"city"`
	StartAt      time.Time  `gorm:"not null" json:"start_at"`
	EndAt        time.Time  `gorm:"not null" json:"end_at"`
	Status       SlotStatus `gorm:"size:20;not null;index" json:"status"`
	CancelReason string     `gorm:"size:255" json:"cancel_reason"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSlot struct {
	City    string    `json:"city" validate:"required"`
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required"`
}

func CreateSlot(ctx context.Context, brokerId int, input *NewSlot) (*Slot, error) {
	if err := utils.Validate.Struct(input); err != nil {
		return nil, utils.ValidationError("invalid slot input")
	}
	if !input.EndAt.After(input.StartAt) {
		return nil, utils.ValidationError("slot end must be after start")
	}

	db := config.GetDB()
	var overlap int64
	if err := db.WithContext(ctx).Model(&Slot{}).
		Where("broker_id = ? AND status IN ? AND start_at < ? AND end_at > ?",
			brokerId, []SlotStatus{SlotStatusOpen, SlotStatusBooked}, input.EndAt, input.StartAt).
		Count(&overlap).Error; err != nil {
		return nil, err
	}
	if overlap > 0 {
		return nil, utils.ValidationError("slot overlaps with existing slot")
	}

	slot := Slot{
		BrokerId: brokerId,
		City:     input.City,
		StartAt:  input.StartAt,
		EndAt:    input.EndAt,
		Status:   SlotStatusOpen,
	}
	if err := db.WithContext(ctx).Create(&slot).Error; err != nil {
		return nil, err
	}
	return &slot, nil
}

// OpenSlots lists bookable slots, optionally filtered by city.
func OpenSlots(ctx context.Context, city string) ([]*Slot, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).
		Where("status = ? AND start_at > ?", SlotStatusOpen, time.Now())
	if city != "" {
		q = q.Where("city = ?", city)
	}
	var slots []*Slot
	err := q.Order("start_at ASC").Find(&slots).Error
	return slots, err
}
