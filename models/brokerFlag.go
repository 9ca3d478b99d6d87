package models

import (
	"context"
	"time"

	"github.com/propdesk/brokerage_backend/config"
)

// FlagDecayWindow is how long a reliability flag counts against a broker.
// Flags represent recent-reliability risk, not permanent record.
const FlagDecayWindow = 90 * 24 * time.Hour

// BrokerFlag is one reliability strike. Level is the count of the broker's
// active flags at creation time plus one; decayed flags never count.
type BrokerFlag struct {
	ID         int        `gorm:"primary_key" json:"id"`
	BrokerId   int        `gorm:"not null;index:idx_flags_broker_status" json:"broker_id"`
	IncidentId *int       `json:"incident_id"`
	Level      int        `gorm:"not null" json:"level"`
	Reason     string     `gorm:"size:255;not null" json:"reason"`
	Status     FlagStatus `gorm:"size:20;not null;index:idx_flags_broker_status" json:"status"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	DecaysAt   time.Time  `gorm:"not null;index" json:"decays_at"`
}

// BrokerPenalty is a deduplicated monthly record consumed by payroll and
// incentive collaborators. Unique on (broker, year, month, reason).
type BrokerPenalty struct {
	ID        int       `gorm:"primary_key" json:"id"`
	BrokerId  int       `gorm:"not null;index:uniq_penalty,unique" json:"broker_id"`
	Year      int       `gorm:"not null;index:uniq_penalty,unique" json:"year"`
	Month     int       `gorm:"not null;index:uniq_penalty,unique" json:"month"`
	Reason    string    `gorm:"size:100;not null;index:uniq_penalty,unique" json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const PenaltyReasonSecondFlag = "month_incentive_block_due_to_second_flag"

func BrokerFlags(ctx context.Context, brokerId int) ([]*BrokerFlag, error) {
	db := config.GetDB()
	var flags []*BrokerFlag
	err := db.WithContext(ctx).
		Where("broker_id = ?", brokerId).
		Order("created_at DESC").
		Find(&flags).Error
	return flags, err
}
