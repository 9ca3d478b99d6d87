package workflow

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	OTPLifetime     = 2 * time.Minute
	MaxOTPAttempts  = 3
	GeoRadiusMeters = 200.0
)

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// SendVisitOTP issues a fresh check-in code to the visit's customer over
// WhatsApp. Re-sending resets the attempt counter.
func SendVisitOTP(ctx context.Context, logger *logrus.Logger, brokerId int, visitId int) (time.Time, error) {
	code, err := generateOTP()
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now()
	expires := now.Add(OTPLifetime)

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var visit models.Visit
		if err := tx.Where("id = ? AND broker_id = ?", visitId, brokerId).
			First(&visit).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("visit", visitId)
			}
			return err
		}
		if visit.Status != models.VisitStatusScheduled {
			return utils.StaleStateError("visit", visitId, string(models.VisitStatusScheduled))
		}

		if err := tx.Model(&models.Visit{}).
			Where("id = ?", visitId).
			Updates(map[string]any{
				"otp_code":       code,
				"otp_expires_at": expires,
				"otp_attempts":   0,
				"otp_sent_at":    now,
			}).Error; err != nil {
			return err
		}

		if err := models.RecordEvent(ctx, tx, models.EventOTPSent, "visit", visitId, map[string]any{
			"expires_at": expires,
		}); err != nil {
			return err
		}
		if err := models.QueueVisitWhatsApp(tx, visitId, "otp_verification", "broker_otp", map[string]any{
			"otp": code,
		}); err != nil {
			config.LogError(logger, "completionWorkflow.go", "SendVisitOTP", "QueueVisitWhatsApp", visitId, err)
			return err
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return expires, nil
}

type CompleteVisitInput struct {
	VisitId     int      `json:"visit_id" validate:"required"`
	Otp         string   `json:"otp" validate:"required"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	PhotoBase64 string   `json:"photo_base64"`
}

type CompleteVisitResult struct {
	VisitId           int      `json:"visit_id"`
	UniqueVisit       bool     `json:"unique_visit"`
	CompletionMode    string   `json:"completion_mode"`
	DistanceMeters    *float64 `json:"distance_meters,omitempty"`
	RemainingAttempts *int     `json:"remaining_attempts,omitempty"`
}

// CompleteVisit verifies the customer-held OTP and the broker's presence at
// the property. Presence is proven by geo check-in within the radius, or by
// a customer photo when geo is unavailable. The first completed visit per
// customer counts as unique for incentive reporting.
func CompleteVisit(ctx context.Context, logger *logrus.Logger, brokerId int, input *CompleteVisitInput) (*CompleteVisitResult, error) {
	if err := utils.Validate.Struct(input); err != nil {
		return nil, utils.ValidationError("visit_id and otp are required")
	}

	db := config.GetDB()
	result := &CompleteVisitResult{VisitId: input.VisitId}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var visit models.Visit
		if err := tx.Where("id = ? AND broker_id = ?", input.VisitId, brokerId).
			First(&visit).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("visit", input.VisitId)
			}
			return err
		}
		if visit.Status != models.VisitStatusScheduled {
			return utils.StaleStateError("visit", input.VisitId, string(models.VisitStatusScheduled))
		}
		if visit.OtpCode == "" {
			return utils.ValidationError("send OTP first")
		}
		if visit.OtpAttempts >= MaxOTPAttempts {
			return utils.ValidationError("OTP attempts exhausted")
		}
		if visit.OtpExpiresAt == nil || visit.OtpExpiresAt.Before(time.Now()) {
			return utils.ValidationError("OTP expired")
		}

		if input.Otp != visit.OtpCode {
			attempts := visit.OtpAttempts + 1
			if err := tx.Model(&models.Visit{}).
				Where("id = ?", visit.ID).
				Update("otp_attempts", attempts).Error; err != nil {
				return err
			}
			remaining := MaxOTPAttempts - attempts
			if remaining < 0 {
				remaining = 0
			}
			result.RemainingAttempts = &remaining
			return utils.ValidationError("invalid OTP")
		}

		var prop models.Property
		if err := tx.First(&prop, visit.PropertyId).Error; err != nil {
			return err
		}

		var distance *float64
		completionMode := ""
		if input.Lat != nil && input.Lng != nil && prop.Latitude != nil && prop.Longitude != nil {
			d := HaversineMeters(*input.Lat, *input.Lng, *prop.Latitude, *prop.Longitude)
			distance = &d
			if d <= GeoRadiusMeters {
				completionMode = "geo_checkin"
			}
		}
		if completionMode == "" {
			if input.PhotoBase64 == "" {
				return utils.ValidationError("geo check failed or unavailable, upload customer photo fallback")
			}
			completionMode = "photo_fallback"
		}

		var priorCompleted int64
		if err := tx.Model(&models.Visit{}).
			Where("customer_id = ? AND status = ? AND id != ?",
				visit.CustomerId, models.VisitStatusCompleted, visit.ID).
			Count(&priorCompleted).Error; err != nil {
			return err
		}
		isUnique := priorCompleted == 0

		now := time.Now()
		if err := tx.Model(&models.Visit{}).
			Where("id = ?", visit.ID).
			Updates(map[string]any{
				"status":          models.VisitStatusCompleted,
				"checkin_lat":     input.Lat,
				"checkin_lng":     input.Lng,
				"distance_meters": distance,
				"is_unique_visit": isUnique,
				"completion_mode": completionMode,
				"completed_at":    now,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Slot{}).
			Where("id = ?", visit.SlotId).
			Update("status", models.SlotStatusCompleted).Error; err != nil {
			return err
		}

		result.UniqueVisit = isUnique
		result.CompletionMode = completionMode
		result.DistanceMeters = distance

		return models.RecordEvent(ctx, tx, models.EventVisitCompleted, "visit", visit.ID, map[string]any{
			"unique_visit":    isUnique,
			"completion_mode": completionMode,
			"distance_meters": distance,
		})
	})
	if err != nil {
		config.LogError(logger, "completionWorkflow.go", "CompleteVisit", "Transaction", input.VisitId, err)
		return result, err
	}
	return result, nil
}
