package workflow

import (
	"context"
	"slices"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProtectionWindow is how close to the visit start a broker cancellation
// counts as harming a committed customer.
const ProtectionWindow = 24 * time.Hour

// PriorityRebookWindow is how long the stranded customer keeps first claim
// on replacement slots.
const PriorityRebookWindow = 48 * time.Hour

const flagReasonNoEmergency = "Booked visit cancelled within 24h without emergency approval"
const flagReasonRMRejected = "Emergency cancellation rejected by RM"
const flagReasonSRMRejected = "Emergency cancellation rejected by SRM"

type CancelSlotInput struct {
	SlotId             int    `json:"slot_id" validate:"required"`
	Reason             string `json:"reason" validate:"required"`
	EmergencyRequested bool   `json:"emergency_requested"`
	EmergencyReason    string `json:"emergency_reason"`
	EmergencyDetails   string `json:"emergency_details"`
}

type CancelSlotResult struct {
	SlotId              int                `json:"slot_id"`
	VisitId             *int               `json:"visit_id,omitempty"`
	Within24h           bool               `json:"within_24h"`
	PriorityRebookUntil *time.Time         `json:"priority_rebook_until,omitempty"`
	IncidentId          *int               `json:"incident_id,omitempty"`
	Flag                *models.BrokerFlag `json:"flag,omitempty"`
}

// CancelSlotByBroker cancels a broker's slot and runs the whole integrity
// cascade in one transaction: strand the booked visit, grant the customer
// priority rebooking when the cancel lands inside the protection window,
// raise the incident, and flag the broker immediately when no emergency was
// claimed. Either everything lands or nothing does.
func CancelSlotByBroker(ctx context.Context, logger *logrus.Logger, brokerId int, input *CancelSlotInput) (*CancelSlotResult, error) {
	if err := utils.Validate.Struct(input); err != nil {
		return nil, utils.ValidationError("slot_id and reason are required")
	}

	db := config.GetDB()
	now := time.Now()
	result := &CancelSlotResult{SlotId: input.SlotId}

	// Released at function scope so the advisory lock outlives the commit.
	var flagLock *brokerFlagLock
	defer func() { flagLock.release() }()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot models.Slot
		if err := tx.Where("id = ? AND broker_id = ?", input.SlotId, brokerId).
			First(&slot).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("slot", input.SlotId)
			}
			return err
		}
		if slot.Status == models.SlotStatusCancelled || slot.Status == models.SlotStatusCompleted {
			return utils.StaleStateError("slot", slot.ID, "open or booked")
		}

		visit, err := models.ScheduledVisitForSlot(tx, slot.ID)
		if err != nil {
			config.LogError(logger, "incidentWorkflow.go", "CancelSlotByBroker", "ScheduledVisitForSlot", slot.ID, err)
			return err
		}

		res := tx.Model(&models.Slot{}).
			Where("id = ? AND status IN ?", slot.ID, []models.SlotStatus{models.SlotStatusOpen, models.SlotStatusBooked}).
			Updates(map[string]any{
				"status":        models.SlotStatusCancelled,
				"cancel_reason": input.Reason,
				"cancelled_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.StaleStateError("slot", slot.ID, "open or booked")
		}

		if visit == nil {
			return nil
		}
		result.VisitId = &visit.ID

		within24h := visit.StartAt.Sub(now) <= ProtectionWindow
		result.Within24h = within24h

		var priorityRebookUntil *time.Time
		if within24h {
			until := now.Add(PriorityRebookWindow)
			priorityRebookUntil = &until
		}
		result.PriorityRebookUntil = priorityRebookUntil

		if err := tx.Model(&models.Visit{}).
			Where("id = ?", visit.ID).
			Updates(map[string]any{
				"status":                models.VisitStatusCancelledByBroker,
				"cancelled_by":          "broker",
				"cancellation_reason":   input.Reason,
				"priority_rebook_until": priorityRebookUntil,
			}).Error; err != nil {
			return err
		}

		if err := models.RecordEvent(ctx, tx, models.EventCustomerApologySent, "visit", visit.ID, map[string]any{
			"broker_id":             brokerId,
			"within_24h":            within24h,
			"priority_rebook_until": priorityRebookUntil,
		}); err != nil {
			return err
		}

		templateName := "broker_cancel_without_priority"
		extra := map[string]any{}
		if within24h {
			templateName = "broker_cancel_with_priority"
			extra["priority_rebook_until"] = priorityRebookUntil.Format("2006-01-02 15:04")
		}
		if err := models.QueueVisitWhatsApp(tx, visit.ID, templateName, "broker_slot_cancel", extra); err != nil {
			config.LogError(logger, "incidentWorkflow.go", "CancelSlotByBroker", "QueueVisitWhatsApp", visit.ID, err)
			return err
		}

		if !within24h {
			return nil
		}

		if err := models.RecordEvent(ctx, tx, models.EventRMCallTriggered, "visit", visit.ID, map[string]any{
			"reason": "broker_cancelled_within_24h",
		}); err != nil {
			return err
		}

		incident := models.CancellationIncident{
			SlotId:             slot.ID,
			VisitId:            visit.ID,
			BrokerId:           brokerId,
			RaisedAt:           now,
			Within24h:          true,
			IsBooked:           true,
			EmergencyRequested: input.EmergencyRequested,
			EmergencyReason:    input.EmergencyReason,
			EmergencyDetails:   input.EmergencyDetails,
		}
		if input.EmergencyRequested {
			incident.Status = models.IncidentStatusPendingRMReview
			due := CalcRMSla(now)
			incident.SlaDueAt = &due
		} else {
			incident.Status = models.IncidentStatusRejectedNoEmergency
		}
		if err := tx.Create(&incident).Error; err != nil {
			config.LogError(logger, "incidentWorkflow.go", "CancelSlotByBroker", "Create incident", incident, err)
			return err
		}
		result.IncidentId = &incident.ID

		if err := models.RecordEvent(ctx, tx, models.EventIncidentRaised, "cancellation_incident", incident.ID, map[string]any{
			"broker_id":           brokerId,
			"emergency_requested": input.EmergencyRequested,
			"status":              incident.Status,
		}); err != nil {
			return err
		}

		if !input.EmergencyRequested {
			// No emergency claimed: the incident is born terminal and the
			// flag lands in the same transaction.
			var lockErr error
			if flagLock, lockErr = acquireBrokerFlagLock(ctx, brokerId); lockErr != nil {
				return lockErr
			}

			flag, err := ApplyFlag(ctx, tx, logger, brokerId, &incident.ID, flagReasonNoEmergency)
			if err != nil {
				return err
			}
			result.Flag = flag

			if err := tx.Model(&models.CancellationIncident{}).
				Where("id = ?", incident.ID).
				Update("resolved_at", now).Error; err != nil {
				return err
			}
			return models.RecordEvent(ctx, tx, models.EventIncidentResolved, "cancellation_incident", incident.ID, map[string]any{
				"status": models.IncidentStatusRejectedNoEmergency,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReviewEmergency applies an RM decision to a pending incident. Approval
// resolves it without consequence; rejection flags the broker. The decision
// is guarded by a conditional status flip so two reviewers cannot both win.
func ReviewEmergency(ctx context.Context, logger *logrus.Logger, rmId int, assignedBrokerIds []int, incidentId int, approve bool, note string) (*models.BrokerFlag, error) {
	db := config.GetDB()
	var flag *models.BrokerFlag

	// Released at function scope so the advisory lock outlives the commit.
	var flagLock *brokerFlagLock
	defer func() { flagLock.release() }()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var incident models.CancellationIncident
		if err := tx.First(&incident, incidentId).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("cancellation incident", incidentId)
			}
			return err
		}
		if incident.Status != models.IncidentStatusPendingRMReview {
			return utils.StaleStateError("cancellation incident", incidentId, string(models.IncidentStatusPendingRMReview))
		}
		if !slices.Contains(assignedBrokerIds, incident.BrokerId) {
			return utils.AuthorizationError("review incident for unassigned broker")
		}

		status := models.IncidentStatusRejectedEmergency
		if approve {
			status = models.IncidentStatusApprovedEmergency
		}
		now := time.Now()
		res := tx.Model(&models.CancellationIncident{}).
			Where("id = ? AND status = ?", incidentId, models.IncidentStatusPendingRMReview).
			Updates(map[string]any{
				"status":      status,
				"rm_id":       rmId,
				"rm_note":     note,
				"resolved_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.StaleStateError("cancellation incident", incidentId, string(models.IncidentStatusPendingRMReview))
		}

		if !approve {
			var lockErr error
			if flagLock, lockErr = acquireBrokerFlagLock(ctx, incident.BrokerId); lockErr != nil {
				return lockErr
			}

			var err error
			flag, err = ApplyFlag(ctx, tx, logger, incident.BrokerId, &incidentId, flagReasonRMRejected)
			if err != nil {
				return err
			}
		}

		return models.RecordEvent(ctx, tx, models.EventIncidentResolved, "cancellation_incident", incidentId, map[string]any{
			"status":   status,
			"rm_id":    rmId,
			"approved": approve,
		})
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// ReviewEscalation applies an SRM decision to an escalated incident. Same
// shape as the RM review, with the SRM terminal states; SRMs see the whole
// platform so there is no assignment scope.
func ReviewEscalation(ctx context.Context, logger *logrus.Logger, srmId int, incidentId int, approve bool, note string) (*models.BrokerFlag, error) {
	db := config.GetDB()
	var flag *models.BrokerFlag

	// Released at function scope so the advisory lock outlives the commit.
	var flagLock *brokerFlagLock
	defer func() { flagLock.release() }()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var incident models.CancellationIncident
		if err := tx.First(&incident, incidentId).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("cancellation incident", incidentId)
			}
			return err
		}
		if incident.Status != models.IncidentStatusEscalatedToSRM {
			return utils.StaleStateError("cancellation incident", incidentId, string(models.IncidentStatusEscalatedToSRM))
		}

		status := models.IncidentStatusRejectedBySRM
		if approve {
			status = models.IncidentStatusApprovedBySRM
		}
		now := time.Now()
		res := tx.Model(&models.CancellationIncident{}).
			Where("id = ? AND status = ?", incidentId, models.IncidentStatusEscalatedToSRM).
			Updates(map[string]any{
				"status":      status,
				"srm_id":      srmId,
				"srm_note":    note,
				"resolved_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.StaleStateError("cancellation incident", incidentId, string(models.IncidentStatusEscalatedToSRM))
		}

		if !approve {
			var lockErr error
			if flagLock, lockErr = acquireBrokerFlagLock(ctx, incident.BrokerId); lockErr != nil {
				return lockErr
			}

			var err error
			flag, err = ApplyFlag(ctx, tx, logger, incident.BrokerId, &incidentId, flagReasonSRMRejected)
			if err != nil {
				return err
			}
		}

		return models.RecordEvent(ctx, tx, models.EventIncidentResolved, "cancellation_incident", incidentId, map[string]any{
			"status":   status,
			"srm_id":   srmId,
			"approved": approve,
		})
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}
