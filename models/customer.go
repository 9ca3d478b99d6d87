package models

import (
	"errors"
	"time"

	"github.com/propdesk/brokerage_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Customer struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100" json:"name"`
	PhoneNorm string    `gorm:"size:20;not null;unique" json:"phone_norm"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GetOrCreateCustomer upserts by normalized phone. Phone is the customer's
// identity across WhatsApp and lead imports.
func GetOrCreateCustomer(tx *gorm.DB, name string, phone string) (*Customer, error) {
	phoneNorm := utils.NormalizePhone(phone)
	if phoneNorm == "" {
		return nil, utils.ValidationError("customer phone is required")
	}

	var customer Customer
	err := tx.Where("phone_norm = ?", phoneNorm).First(&customer).Error
	if err == nil {
		if name != "" && customer.Name == "" {
			if err := tx.Model(&customer).Update("name", name).Error; err != nil {
				return nil, err
			}
			customer.Name = name
		}
		return &customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	customer = Customer{Name: name, PhoneNorm: phoneNorm}
	if err := tx.Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

type Lead struct {
	ID              int              `gorm:"primary_key" json:"id"`
	CustomerId      int              `gorm:"not null;index:uniq_lead,unique" json:"customer_id"`
	City            string           `gorm:"size:100;index:uniq_lead,unique" json:"city"`
	LocationPref    string           `gorm:"size:255;index:uniq_lead,unique" json:"location_pref"`
	ConfigPref      string           `gorm:"size:100;index:uniq_lead,unique" json:"config_pref"`
	BudgetMin       decimal.Decimal  `gorm:"type:decimal(14,2);index:uniq_lead,unique" json:"budget_min"`
	BudgetMax       decimal.Decimal  `gorm:"type:decimal(14,2);index:uniq_lead,unique" json:"budget_max"`
	RequirementText string           `gorm:"type:text" json:"requirement_text"`
	Source          string           `gorm:"size:50;not null" json:"source"`
	LastSyncedAt    time.Time        `gorm:"not null" json:"last_synced_at"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
}
