package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sweepLockKey = "lock:integrity_sweep"
const sweepLockTTL = 2 * time.Minute

type SweepResult struct {
	FlagsDecayed       int64 `json:"flags_decayed"`
	IncidentsEscalated int64 `json:"incidents_escalated"`
	Skipped            bool  `json:"skipped"`
}

// EscalateOverdueIncidents moves every pending incident whose RM deadline has
// passed to the SRM queue. Each row is flipped with a conditional update, so
// concurrent sweeps and an RM decision racing the sweep cannot double-apply.
func EscalateOverdueIncidents(ctx context.Context, tx *gorm.DB, logger *logrus.Logger) (int64, error) {
	now := time.Now()
	var overdue []*models.CancellationIncident
	err := tx.
		Where("status = ? AND escalated_to_srm = false AND sla_due_at IS NOT NULL AND sla_due_at <= ?",
			models.IncidentStatusPendingRMReview, now).
		Find(&overdue).Error
	if err != nil {
		return 0, err
	}

	var escalated int64
	for _, incident := range overdue {
		srmDue := CalcSRMSla(now)
		res := tx.Model(&models.CancellationIncident{}).
			Where("id = ? AND status = ?", incident.ID, models.IncidentStatusPendingRMReview).
			Updates(map[string]any{
				"status":           models.IncidentStatusEscalatedToSRM,
				"escalated_to_srm": true,
				"srm_due_at":       srmDue,
			})
		if res.Error != nil {
			return escalated, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		escalated++
		if err := models.RecordEvent(ctx, tx, models.EventIncidentEscalated, "cancellation_incident", incident.ID, map[string]any{
			"srm_due_at": srmDue,
		}); err != nil {
			return escalated, err
		}
	}
	return escalated, nil
}

// RunIntegritySweep is the periodic maintenance pass: decay expired flags and
// escalate overdue incidents. Every step is a conditional update, so running
// it twice, or on two instances at once, produces the same end state. The
// redis lock only avoids wasted work; correctness never depends on it.
func RunIntegritySweep(ctx context.Context, logger *logrus.Logger) (*SweepResult, error) {
	result := &SweepResult{}

	lock, err := config.GetRedisLock().Obtain(ctx, sweepLockKey, sweepLockTTL, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			result.Skipped = true
			return result, nil
		}
		config.LogError(logger, "sweep.go", "RunIntegritySweep", "Obtain lock", sweepLockKey, err)
	} else {
		defer func() { _ = lock.Release(ctx) }()
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decayed, err := DecayExpiredFlags(tx)
		if err != nil {
			config.LogError(logger, "sweep.go", "RunIntegritySweep", "DecayExpiredFlags", nil, err)
			return err
		}
		result.FlagsDecayed = decayed

		escalated, err := EscalateOverdueIncidents(ctx, tx, logger)
		if err != nil {
			config.LogError(logger, "sweep.go", "RunIntegritySweep", "EscalateOverdueIncidents", nil, err)
			return err
		}
		result.IncidentsEscalated = escalated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.FlagsDecayed > 0 || result.IncidentsEscalated > 0 {
		logger.WithFields(logrus.Fields{
			"flags_decayed":       result.FlagsDecayed,
			"incidents_escalated": result.IncidentsEscalated,
		}).Info("integrity sweep applied changes")
	}
	return result, nil
}

// RunSweepLoop runs the sweep on a fixed interval until the context is done.
func RunSweepLoop(ctx context.Context, logger *logrus.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := RunIntegritySweep(ctx, logger); err != nil {
				config.LogError(logger, "sweep.go", "RunSweepLoop", "RunIntegritySweep", nil, err)
			}
		}
	}
}
