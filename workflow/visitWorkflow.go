package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RebookingSlot is an offer shown to a stranded or rescheduling customer.
// Mode tells the UI whether it is the original broker or a backup listing
// from the same duplicate cluster.
type RebookingSlot struct {
	SlotId     int       `json:"slot_id"`
	BrokerId   int       `json:"broker_id"`
	PropertyId int       `json:"property_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	City       string    `json:"city"`
	Mode       string    `json:"mode"`
}

// RebookingSlotsForVisit offers slots from the visit's own broker plus
// brokers holding backup listings of the same property. The duplicate
// cluster doubles as an inventory fallback when a broker flakes.
func RebookingSlotsForVisit(tx *gorm.DB, visit *models.Visit) ([]RebookingSlot, error) {
	primaryBrokerId := visit.BrokerId
	brokerToProperty := map[int]int{primaryBrokerId: visit.PropertyId}

	var backups []*models.Property
	err := tx.
		Where("primary_property_id = ? AND status IN ?", visit.PropertyId,
			[]models.PropertyStatus{models.PropertyStatusBackup, models.PropertyStatusActive}).
		Find(&backups).Error
	if err != nil {
		return nil, err
	}
	for _, backup := range backups {
		if _, seen := brokerToProperty[backup.BrokerId]; !seen {
			brokerToProperty[backup.BrokerId] = backup.ID
		}
	}

	brokerIds := make([]int, 0, len(brokerToProperty))
	for id := range brokerToProperty {
		brokerIds = append(brokerIds, id)
	}

	var slots []*models.Slot
	err = tx.
		Where("broker_id IN ? AND status = ? AND start_at >= ?", brokerIds, models.SlotStatusOpen, time.Now()).
		Order("start_at ASC").
		Limit(20).
		Find(&slots).Error
	if err != nil {
		return nil, err
	}

	available := make([]RebookingSlot, 0, len(slots))
	for _, slot := range slots {
		mappedProperty, ok := brokerToProperty[slot.BrokerId]
		if !ok {
			continue
		}
		mode := "backup"
		if slot.BrokerId == primaryBrokerId {
			mode = "primary"
		}
		available = append(available, RebookingSlot{
			SlotId:     slot.ID,
			BrokerId:   slot.BrokerId,
			PropertyId: mappedProperty,
			StartAt:    slot.StartAt,
			EndAt:      slot.EndAt,
			City:       slot.City,
			Mode:       mode,
		})
	}
	return available, nil
}

// createScheduledVisit books a slot for an existing customer inside the
// caller's transaction: conditional slot flip, visit row, RM reminder event,
// and the confirmation message.
func createScheduledVisit(ctx context.Context, tx *gorm.DB, slot *models.Slot, propertyId int, customerId int, requirements string, source string, previousVisitId *int) (*models.Visit, error) {
	res := tx.Model(&models.Slot{}).
		Where("id = ? AND status = ?", slot.ID, models.SlotStatusOpen).
		Update("status", models.SlotStatusBooked)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.StaleStateError("slot", slot.ID, string(models.SlotStatusOpen))
	}

	rmId, err := models.RMForBroker(tx, slot.BrokerId)
	if err != nil {
		return nil, err
	}

	visit := models.Visit{
		SlotId:               slot.ID,
		PropertyId:           propertyId,
		BrokerId:             slot.BrokerId,
		RmId:                 rmId,
		CustomerId:           customerId,
		CustomerRequirements: requirements,
		StartAt:              slot.StartAt,
		EndAt:                slot.EndAt,
		Status:               models.VisitStatusScheduled,
	}
	if err := tx.Create(&visit).Error; err != nil {
		return nil, err
	}

	// RM gets a reminder a day before the visit, or immediately for
	// short-notice bookings.
	now := time.Now()
	immediate := slot.StartAt.Sub(now) < 24*time.Hour
	reminderDue := now
	if !immediate {
		reminderDue = slot.StartAt.Add(-24 * time.Hour)
	}
	if err := models.RecordEvent(ctx, tx, models.EventRMReminderScheduled, "visit", visit.ID, map[string]any{
		"rm_id":     rmId,
		"due_at":    reminderDue,
		"immediate": immediate,
		"source":    source,
	}); err != nil {
		return nil, err
	}
	if err := models.RecordEvent(ctx, tx, models.EventVisitScheduled, "visit", visit.ID, map[string]any{
		"source":            source,
		"previous_visit_id": previousVisitId,
	}); err != nil {
		return nil, err
	}
	if err := models.QueueVisitWhatsApp(tx, visit.ID, "visit_confirmation", source, nil); err != nil {
		return nil, err
	}
	return &visit, nil
}

// BookVisit schedules a customer onto an open slot. The slot flips to booked
// in the same transaction so two customers cannot take the same slot.
func BookVisit(ctx context.Context, logger *logrus.Logger, input *models.NewVisit, source string) (*models.Visit, error) {
	if err := utils.Validate.Struct(input); err != nil {
		return nil, utils.ValidationError("invalid visit input")
	}

	db := config.GetDB()
	var visit *models.Visit
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot models.Slot
		if err := tx.First(&slot, input.SlotId).Error; err != nil {
			return utils.NotFoundError("slot", input.SlotId)
		}
		if slot.Status != models.SlotStatusOpen {
			return utils.StaleStateError("slot", slot.ID, string(models.SlotStatusOpen))
		}

		var prop models.Property
		if err := tx.First(&prop, input.PropertyId).Error; err != nil {
			return utils.NotFoundError("property", input.PropertyId)
		}
		if prop.BrokerId != slot.BrokerId {
			return utils.ValidationError("slot belongs to a different broker than the property")
		}

		customer, err := models.GetOrCreateCustomer(tx, input.CustomerName, input.CustomerPhone)
		if err != nil {
			return err
		}

		visit, err = createScheduledVisit(ctx, tx, &slot, prop.ID, customer.ID, input.CustomerRequirements, source, nil)
		if err != nil {
			config.LogError(logger, "visitWorkflow.go", "BookVisit", "createScheduledVisit", input, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return visit, nil
}

// loadVisitForCustomer fetches a scheduled visit and verifies the caller's
// phone matches the booking. Phone is the customer's only credential.
func loadVisitForCustomer(tx *gorm.DB, visitId int, customerPhone string) (*models.Visit, error) {
	var visit models.Visit
	if err := tx.First(&visit, visitId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NotFoundError("visit", visitId)
		}
		return nil, err
	}
	var customer models.Customer
	if err := tx.First(&customer, visit.CustomerId).Error; err != nil {
		return nil, err
	}
	if customer.PhoneNorm != utils.NormalizePhone(customerPhone) {
		return nil, utils.AuthorizationError("cancel or reschedule another customer's visit")
	}
	if visit.Status != models.VisitStatusScheduled {
		return nil, utils.StaleStateError("visit", visitId, string(models.VisitStatusScheduled))
	}
	return &visit, nil
}

// CancelVisitByCustomer cancels a scheduled visit at the customer's request
// and reopens the slot. No incident, no flag: only brokers carry reliability
// consequences.
func CancelVisitByCustomer(ctx context.Context, logger *logrus.Logger, visitId int, customerPhone string, reason string, source string) error {
	if reason == "" {
		reason = "customer_requested"
	}
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visit, err := loadVisitForCustomer(tx, visitId, customerPhone)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Visit{}).
			Where("id = ?", visit.ID).
			Updates(map[string]any{
				"status":              models.VisitStatusCancelledByCustomer,
				"cancelled_by":        "customer",
				"cancellation_reason": reason,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Slot{}).
			Where("id = ?", visit.SlotId).
			Update("status", models.SlotStatusOpen).Error; err != nil {
			return err
		}
		if err := models.RecordEvent(ctx, tx, models.EventVisitCancelledCustomer, "visit", visit.ID, map[string]any{
			"source": source,
			"reason": reason,
		}); err != nil {
			return err
		}
		if err := models.QueueVisitWhatsApp(tx, visit.ID, "customer_cancel_confirmation", source, nil); err != nil {
			config.LogError(logger, "visitWorkflow.go", "CancelVisitByCustomer", "QueueVisitWhatsApp", visit.ID, err)
			return err
		}
		return nil
	})
}

// RescheduleVisitByCustomer moves a scheduled visit onto one of the allowed
// rebooking slots: the old visit closes, the old slot reopens, and a new
// visit is created on the target slot in the same transaction.
func RescheduleVisitByCustomer(ctx context.Context, logger *logrus.Logger, visitId int, customerPhone string, targetSlotId int, reason string, source string) (*models.Visit, error) {
	if reason == "" {
		reason = "customer_requested"
	}
	db := config.GetDB()
	var newVisit *models.Visit

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visit, err := loadVisitForCustomer(tx, visitId, customerPhone)
		if err != nil {
			return err
		}

		allowed, err := RebookingSlotsForVisit(tx, visit)
		if err != nil {
			return err
		}
		var selected *RebookingSlot
		for i := range allowed {
			if allowed[i].SlotId == targetSlotId {
				selected = &allowed[i]
				break
			}
		}
		if selected == nil {
			return utils.ValidationError("selected slot is not allowed for this visit")
		}

		var slot models.Slot
		if err := tx.First(&slot, targetSlotId).Error; err != nil {
			return utils.NotFoundError("slot", targetSlotId)
		}
		if slot.Status != models.SlotStatusOpen {
			return utils.StaleStateError("slot", slot.ID, string(models.SlotStatusOpen))
		}

		if err := tx.Model(&models.Visit{}).
			Where("id = ?", visit.ID).
			Updates(map[string]any{
				"status":              models.VisitStatusRescheduled,
				"cancelled_by":        "customer",
				"cancellation_reason": fmt.Sprintf("rescheduled_by_customer:%s", reason),
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Slot{}).
			Where("id = ?", visit.SlotId).
			Update("status", models.SlotStatusOpen).Error; err != nil {
			return err
		}

		newVisit, err = createScheduledVisit(ctx, tx, &slot, selected.PropertyId, visit.CustomerId, visit.CustomerRequirements, source, &visit.ID)
		if err != nil {
			config.LogError(logger, "visitWorkflow.go", "RescheduleVisitByCustomer", "createScheduledVisit", targetSlotId, err)
			return err
		}

		if err := models.QueueVisitWhatsApp(tx, newVisit.ID, "visit_rescheduled_confirmation", source, map[string]any{
			"old_visit_id": visit.ID,
			"new_visit_id": newVisit.ID,
		}); err != nil {
			return err
		}
		return models.RecordEvent(ctx, tx, models.EventVisitRescheduled, "visit", visit.ID, map[string]any{
			"new_visit_id": newVisit.ID,
			"source":       source,
		})
	})
	if err != nil {
		return nil, err
	}
	return newVisit, nil
}

// RebookingOptions lists the slots a customer may pick when cancelling or
// rescheduling. Authenticated by the booking phone number.
func RebookingOptions(ctx context.Context, visitId int, customerPhone string) ([]RebookingSlot, error) {
	db := config.GetDB().WithContext(ctx)
	visit, err := loadVisitForCustomer(db, visitId, customerPhone)
	if err != nil {
		return nil, err
	}
	return RebookingSlotsForVisit(db, visit)
}
