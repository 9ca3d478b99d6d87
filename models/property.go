package models

import (
	"context"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Property is a broker-owned listing. Duplicate-cluster bookkeeping
// (DuplicateScore, PrimaryPropertyId) is written only by the duplicate
// workflow; request handlers never touch those columns directly.
type Property struct {
	ID                  int              `gorm:"primary_key" json:"id"`
	BrokerId            int              `gorm:"not null;index" json:"broker_id"`
	Title               string           `gorm:"size:255;not null" json:"title"`
	AssetType           string           `gorm:"size:100;not null" json:"asset_type"`
	Configuration       string           `gorm:"size:100" json:"configuration"`
	AreaValue           *decimal.Decimal `gorm:"type:decimal(12,2)" json:"area_value"`
	LocationText        string           `gorm:"size:255;not null" json:"location_text"`
	City                string           `gorm:"size:100;not null;index" json:"city"`
	Price               decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"price"`
	Latitude            *float64         `json:"latitude"`
	Longitude           *float64         `json:"longitude"`
	Amenities           string           `gorm:"size:500" json:"amenities"`
	ImageUrl            string           `gorm:"size:500" json:"image_url"`
	ThumbnailUrl        string           `gorm:"size:500" json:"thumbnail_url"`
	Status              PropertyStatus   `gorm:"size:40;not null;index" json:"status"`
	HiddenFromCustomers bool             `gorm:"not null;default:false" json:"hidden_from_customers"`
	DuplicateScore      *float64         `json:"duplicate_score"`
	PrimaryPropertyId   *int             `json:"primary_property_id"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProperty struct {
	Title         string           `json:"title" validate:"required"`
	AssetType     string           `json:"asset_type" validate:"required"`
	Configuration string           `json:"configuration"`
	AreaValue     *decimal.Decimal `json:"area_value"`
	LocationText  string           `json:"location_text" validate:"required"`
	City          string           `json:"city" validate:"required"`
	Price         decimal.Decimal  `json:"price" validate:"required"`
	Latitude      *float64         `json:"latitude"`
	Longitude     *float64         `json:"longitude"`
	Amenities     string           `json:"amenities"`
	ImageUrl      string           `json:"image_url"`
}

type PropertyRemovalLog struct {
	ID         int       `gorm:"primary_key" json:"id"`
	PropertyId int       `gorm:"not null;index" json:"property_id"`
	BrokerId   int       `gorm:"not null" json:"broker_id"`
	Reason     string    `gorm:"size:255;not null" json:"reason"`
	Details    string    `gorm:"type:text" json:"details"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetProperty(ctx context.Context, id int) (*Property, error) {
	return utils.FetchModel[Property](ctx, id)
}

// DuplicateCandidates returns every other same-city listing whose status makes
// it eligible for duplicate comparison.
func DuplicateCandidates(tx *gorm.DB, prop *Property) ([]*Property, error) {
	var candidates []*Property
	err := tx.
		Where("id != ? AND city = ? AND status IN ?", prop.ID, prop.City, DuplicateCandidateStatuses).
		Find(&candidates).Error
	return candidates, err
}

// VisibleProperties lists customer-facing inventory: active and not hidden.
func VisibleProperties(ctx context.Context, city string) ([]*Property, error) {
	db := config.GetDB()
	var props []*Property
	q := db.WithContext(ctx).
		Where("status = ? AND hidden_from_customers = false", PropertyStatusActive)
	if city != "" {
		q = q.Where("city = ?", city)
	}
	err := q.Order("created_at DESC").Find(&props).Error
	return props, err
}

func LogPropertyRemoval(tx *gorm.DB, propertyId int, brokerId int, reason string, details string) error {
	return tx.Create(&PropertyRemovalLog{
		PropertyId: propertyId,
		BrokerId:   brokerId,
		Reason:     reason,
		Details:    details,
	}).Error
}

// BrokerProperties lists a broker's own inventory regardless of visibility.
func BrokerProperties(ctx context.Context, brokerId int) ([]*Property, error) {
	db := config.GetDB()
	var props []*Property
	err := db.WithContext(ctx).
		Where("broker_id = ?", brokerId).
		Order("id DESC").
		Find(&props).Error
	return props, err
}
