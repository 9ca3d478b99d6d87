package workflow

import (
	"context"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const removalReasonSold = "property already sold"

// CreateListing inserts a broker's listing and scores it against same-city
// stock in the same transaction: a duplicate never becomes customer-visible
// between insert and check.
func CreateListing(ctx context.Context, logger *logrus.Logger, brokerId int, input *models.NewProperty) (*models.Property, *DuplicateCheckResult, error) {
	if err := utils.Validate.Struct(input); err != nil {
		return nil, nil, utils.ValidationError("invalid listing input: %v", utils.ProcessValidationErrors(err))
	}

	db := config.GetDB()
	var prop models.Property
	var check *DuplicateCheckResult

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prop = models.Property{
			BrokerId:      brokerId,
			Title:         input.Title,
			AssetType:     input.AssetType,
			Configuration: input.Configuration,
			AreaValue:     input.AreaValue,
			LocationText:  input.LocationText,
			City:          input.City,
			Price:         input.Price,
			Latitude:      input.Latitude,
			Longitude:     input.Longitude,
			Amenities:     input.Amenities,
			ImageUrl:      input.ImageUrl,
			Status:        models.PropertyStatusActive,
		}
		if err := tx.Create(&prop).Error; err != nil {
			config.LogError(logger, "listingWorkflow.go", "CreateListing", "Create property", input, err)
			return err
		}

		var err error
		check, err = RunDuplicateChecksTx(ctx, tx, logger, prop.ID)
		if err != nil {
			return err
		}
		return tx.First(&prop, prop.ID).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &prop, check, nil
}

// UpdateListing applies broker edits and re-runs the duplicate check, since
// edits can both create and dissolve a duplicate match.
func UpdateListing(ctx context.Context, logger *logrus.Logger, brokerId int, propertyId int, input *models.NewProperty) (*models.Property, *DuplicateCheckResult, error) {
	if err := utils.Validate.Struct(input); err != nil {
		return nil, nil, utils.ValidationError("invalid listing input: %v", utils.ProcessValidationErrors(err))
	}

	db := config.GetDB()
	var prop models.Property
	var check *DuplicateCheckResult

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND broker_id = ?", propertyId, brokerId).
			First(&prop).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("property", propertyId)
			}
			return err
		}
		if prop.Status == models.PropertyStatusSold || prop.Status == models.PropertyStatusWithdrawn {
			return utils.StaleStateError("property", propertyId, "active or under review")
		}

		if err := tx.Model(&models.Property{}).
			Where("id = ?", propertyId).
			Updates(map[string]any{
				"title":         input.Title,
				"asset_type":    input.AssetType,
				"configuration": input.Configuration,
				"area_value":    input.AreaValue,
				"location_text": input.LocationText,
				"city":          input.City,
				"price":         input.Price,
				"latitude":      input.Latitude,
				"longitude":     input.Longitude,
				"amenities":     input.Amenities,
				"image_url":     input.ImageUrl,
			}).Error; err != nil {
			return err
		}

		var err error
		check, err = RunDuplicateChecksTx(ctx, tx, logger, propertyId)
		if err != nil {
			return err
		}
		return tx.First(&prop, propertyId).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &prop, check, nil
}

// RemoveListing takes a listing off the market. "Property already sold"
// keeps it as comparison stock for future duplicate checks; anything else
// withdraws it entirely. Every removal is logged with the broker's reason.
func RemoveListing(ctx context.Context, logger *logrus.Logger, brokerId int, propertyId int, reason string, details string) (models.PropertyStatus, error) {
	if propertyId == 0 || reason == "" {
		return "", utils.ValidationError("property_id and reason are required")
	}

	status := models.PropertyStatusWithdrawn
	if utils.NormalizeText(reason) == removalReasonSold {
		status = models.PropertyStatusSold
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prop models.Property
		if err := tx.Where("id = ? AND broker_id = ?", propertyId, brokerId).
			First(&prop).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("property", propertyId)
			}
			return err
		}

		if err := tx.Model(&models.Property{}).
			Where("id = ?", propertyId).
			Updates(map[string]any{
				"status":                status,
				"hidden_from_customers": true,
			}).Error; err != nil {
			return err
		}
		return models.LogPropertyRemoval(tx, propertyId, brokerId, reason, details)
	})
	if err != nil {
		config.LogError(logger, "listingWorkflow.go", "RemoveListing", "Transaction", propertyId, err)
		return "", err
	}
	return status, nil
}
