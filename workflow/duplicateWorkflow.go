package workflow

import (
	"context"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Similarity thresholds on the [0,100] scale. Strictly-greater comparisons:
// a listing scoring exactly 75.00 stays active.
const (
	DuplicateReviewThreshold   = 75.0
	DuplicateAutoHideThreshold = 95.0
)

type DuplicateCheckResult struct {
	Matched           bool    `json:"matched"`
	Score             float64 `json:"score"`
	MatchedPropertyId int     `json:"matched_property_id,omitempty"`
	AutoHidden        bool    `json:"auto_hidden,omitempty"`
	TicketId          int     `json:"ticket_id,omitempty"`
}

// RunDuplicateChecks scores a listing against all same-city candidates and
// applies the outcome in one transaction. Above the review threshold the
// listing is hidden and ticketed; above the auto-hide threshold the ticket is
// marked auto-hidden. Below threshold any previous duplicate bookkeeping is
// cleared, which makes re-checks after edits self-healing.
func RunDuplicateChecks(ctx context.Context, logger *logrus.Logger, propertyId int) (*DuplicateCheckResult, error) {
	db := config.GetDB()
	var result *DuplicateCheckResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = RunDuplicateChecksTx(ctx, tx, logger, propertyId)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RunDuplicateChecksTx is the transaction-scoped variant, used by the listing
// create/update path so the check lands atomically with the listing write.
func RunDuplicateChecksTx(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, propertyId int) (*DuplicateCheckResult, error) {
	result := &DuplicateCheckResult{}

	var prop models.Property
	if err := tx.First(&prop, propertyId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NotFoundError("property", propertyId)
		}
		return nil, err
	}

	candidates, err := models.DuplicateCandidates(tx, &prop)
	if err != nil {
		config.LogError(logger, "duplicateWorkflow.go", "RunDuplicateChecksTx", "DuplicateCandidates", propertyId, err)
		return nil, err
	}

	var best *models.Property
	bestScore := 0.0
	for _, candidate := range candidates {
		score := ComputeSimilarity(&prop, candidate)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	result.Score = bestScore

	if best == nil || bestScore <= DuplicateReviewThreshold {
		err := tx.Model(&models.Property{}).
			Where("id = ?", prop.ID).
			Updates(map[string]any{
				"status":                models.PropertyStatusActive,
				"hidden_from_customers": false,
				"duplicate_score":       nil,
			}).Error
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	result.Matched = true
	result.MatchedPropertyId = best.ID
	result.AutoHidden = bestScore > DuplicateAutoHideThreshold

	// Primary is the older listing; on identical timestamps the lower id
	// wins so repeated checks always pick the same primary.
	primaryId := best.ID
	if prop.CreatedAt.Before(best.CreatedAt) ||
		(prop.CreatedAt.Equal(best.CreatedAt) && prop.ID < best.ID) {
		primaryId = prop.ID
	}

	if err := tx.Model(&models.Property{}).
		Where("id = ?", prop.ID).
		Updates(map[string]any{
			"status":                models.PropertyStatusHiddenDuplicate,
			"hidden_from_customers": true,
			"duplicate_score":       bestScore,
			"primary_property_id":   primaryId,
		}).Error; err != nil {
		return nil, err
	}

	ticket := models.DuplicateReviewTicket{
		PropertyId:        prop.ID,
		MatchedPropertyId: best.ID,
		Similarity:        bestScore,
		AutoHidden:        result.AutoHidden,
		Status:            models.TicketStatusPending,
	}
	if err := tx.Create(&ticket).Error; err != nil {
		config.LogError(logger, "duplicateWorkflow.go", "RunDuplicateChecksTx", "Create ticket", ticket, err)
		return nil, err
	}
	result.TicketId = ticket.ID

	if err := models.RecordEvent(ctx, tx, models.EventDuplicateTicketCreated, "duplicate_review_ticket", ticket.ID, map[string]any{
		"property_id":         prop.ID,
		"matched_property_id": best.ID,
		"similarity":          bestScore,
		"auto_hidden":         result.AutoHidden,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveDuplicateTicket applies an RM decision to a pending ticket. The
// conditional status flip guards against double resolution: a second call on
// the same ticket fails with a stale-state error.
func ResolveDuplicateTicket(ctx context.Context, logger *logrus.Logger, ticketId int, rmId int, decision models.DuplicateDecision, notes string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ticket models.DuplicateReviewTicket
		if err := tx.First(&ticket, ticketId).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundError("duplicate review ticket", ticketId)
			}
			return err
		}
		if ticket.Status != models.TicketStatusPending {
			return utils.StaleStateError("duplicate review ticket", ticketId, string(models.TicketStatusPending))
		}

		propUpdates := map[string]any{}
		switch decision {
		case models.DuplicateDecisionApproveVisible:
			propUpdates["status"] = models.PropertyStatusActive
			propUpdates["hidden_from_customers"] = false
		case models.DuplicateDecisionMarkDuplicate:
			propUpdates["status"] = models.PropertyStatusDuplicateRejected
			propUpdates["hidden_from_customers"] = true
		case models.DuplicateDecisionKeepBackup:
			propUpdates["status"] = models.PropertyStatusBackup
			propUpdates["hidden_from_customers"] = true
			propUpdates["primary_property_id"] = ticket.MatchedPropertyId
		default:
			return utils.ValidationError("invalid duplicate decision: %s", decision)
		}

		if err := tx.Model(&models.Property{}).
			Where("id = ?", ticket.PropertyId).
			Updates(propUpdates).Error; err != nil {
			config.LogError(logger, "duplicateWorkflow.go", "ResolveDuplicateTicket", "Update property", ticket.PropertyId, err)
			return err
		}

		res := tx.Model(&models.DuplicateReviewTicket{}).
			Where("id = ? AND status = ?", ticketId, models.TicketStatusPending).
			Updates(map[string]any{
				"status":   models.TicketStatusResolved,
				"rm_id":    rmId,
				"decision": decision,
				"notes":    notes,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.StaleStateError("duplicate review ticket", ticketId, string(models.TicketStatusPending))
		}

		return models.RecordEvent(ctx, tx, models.EventDuplicateTicketResolved, "duplicate_review_ticket", ticketId, map[string]any{
			"decision":    decision,
			"rm_id":       rmId,
			"resolved_at": time.Now(),
		})
	})
}
