package workflow

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// DecayExpiredFlags retires every active flag whose decay time has passed.
// The conditional update makes it idempotent: a second run matches zero rows.
func DecayExpiredFlags(tx *gorm.DB) (int64, error) {
	res := tx.Model(&models.BrokerFlag{}).
		Where("status = ? AND decays_at <= ?", models.FlagStatusActive, time.Now()).
		Update("status", models.FlagStatusDecayed)
	return res.RowsAffected, res.Error
}

func activeFlagCount(tx *gorm.DB, brokerId int) (int64, error) {
	// Locking read: the count must see the latest committed flags even when
	// the session snapshot predates a concurrent flagging's commit.
	var count int64
	err := tx.Model(&models.BrokerFlag{}).
		Where("broker_id = ? AND status = ?", brokerId, models.FlagStatusActive).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Count(&count).Error
	return count, err
}

// ApplyFlag records one reliability strike against a broker inside the
// caller's transaction. Decay runs first so stale flags never inflate the
// level. Level 2 blocks the month's incentive exactly once; level 3 or
// higher removes the broker from the platform.
//
// Callers must hold the broker's flag lock (acquireBrokerFlagLock) and keep
// it until after the transaction commits.
func ApplyFlag(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, brokerId int, incidentId *int, reason string) (*models.BrokerFlag, error) {
	if _, err := DecayExpiredFlags(tx); err != nil {
		config.LogError(logger, "flagLedger.go", "ApplyFlag", "DecayExpiredFlags", brokerId, err)
		return nil, err
	}

	count, err := activeFlagCount(tx, brokerId)
	if err != nil {
		config.LogError(logger, "flagLedger.go", "ApplyFlag", "activeFlagCount", brokerId, err)
		return nil, err
	}
	level := int(count) + 1
	now := time.Now()

	flag := models.BrokerFlag{
		BrokerId:   brokerId,
		IncidentId: incidentId,
		Level:      level,
		Reason:     reason,
		Status:     models.FlagStatusActive,
		DecaysAt:   now.Add(models.FlagDecayWindow),
	}
	if err := tx.Create(&flag).Error; err != nil {
		config.LogError(logger, "flagLedger.go", "ApplyFlag", "Create flag", flag, err)
		return nil, err
	}

	if level == 2 {
		penalty := models.BrokerPenalty{
			BrokerId: brokerId,
			Year:     now.Year(),
			Month:    int(now.Month()),
			Reason:   models.PenaltyReasonSecondFlag,
		}
		// Unique index dedupes retries within the same month.
		if err := tx.Create(&penalty).Error; err != nil && !isDuplicateKeyErr(err) {
			config.LogError(logger, "flagLedger.go", "ApplyFlag", "Create penalty", penalty, err)
			return nil, err
		}
	}

	if err := models.RecordEvent(ctx, tx, models.EventBrokerFlagAdded, "broker", brokerId, map[string]any{
		"flag_id": flag.ID,
		"level":   level,
		"reason":  reason,
	}); err != nil {
		return nil, err
	}

	if level >= 3 {
		if err := models.DeactivateBroker(tx, brokerId); err != nil {
			config.LogError(logger, "flagLedger.go", "ApplyFlag", "DeactivateBroker", brokerId, err)
			return nil, err
		}
		if err := models.RecordEvent(ctx, tx, models.EventBrokerDeactivated, "broker", brokerId, map[string]any{
			"level": level,
		}); err != nil {
			return nil, err
		}
	}

	return &flag, nil
}

// ApplyFlagForBroker is the standalone entry: it takes the broker lock, runs
// ApplyFlag in its own transaction, and releases the lock after commit.
func ApplyFlagForBroker(ctx context.Context, logger *logrus.Logger, brokerId int, incidentId *int, reason string) (*models.BrokerFlag, error) {
	lock, err := acquireBrokerFlagLock(ctx, brokerId)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	db := config.GetDB()
	var flag *models.BrokerFlag
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		flag, txErr = ApplyFlag(ctx, tx, logger, brokerId, incidentId, reason)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}
