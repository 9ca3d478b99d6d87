package reports

import (
	"context"

	"github.com/propdesk/brokerage_backend/config"
)

// BrokerReliabilityRow ranks brokers by how often they honor bookings.
// CompletionRatePct is 0 when the broker has no visits at all.
type BrokerReliabilityRow struct {
	BrokerId              int     `json:"broker_id"`
	BrokerName            string  `json:"broker_name"`
	City                  string  `json:"city"`
	IsActive              bool    `json:"is_active"`
	TotalVisits           int64   `json:"total_visits"`
	CompletedVisits       int64   `json:"completed_visits"`
	CompletionRatePct     float64 `json:"completion_rate_pct"`
	BrokerCancelledVisits int64   `json:"broker_cancelled_visits"`
	LateCancelIncidents   int64   `json:"late_cancel_incidents"`
	ActiveFlags           int64   `json:"active_flags"`
}

func GetBrokerReliabilityReport(ctx context.Context) ([]*BrokerReliabilityRow, error) {
	sql := `
SELECT
    u.id AS broker_id,
    u.name AS broker_name,
    u.city,
    u.is_active,
    COUNT(v.id) AS total_visits,
    SUM(CASE WHEN v.status = 'completed' THEN 1 ELSE 0 END) AS completed_visits,
    ROUND(
        CASE WHEN COUNT(v.id) = 0 THEN 0
        ELSE SUM(CASE WHEN v.status = 'completed' THEN 1 ELSE 0 END) * 100.0 / COUNT(v.id)
        END, 2) AS completion_rate_pct,
    SUM(CASE WHEN v.status = 'cancelled_by_broker' THEN 1 ELSE 0 END) AS broker_cancelled_visits,
    (SELECT COUNT(*) FROM cancellation_incidents ci
        WHERE ci.broker_id = u.id AND ci.within_24h = true AND ci.is_booked = true) AS late_cancel_incidents,
    (SELECT COUNT(*) FROM broker_flags bf
        WHERE bf.broker_id = u.id AND bf.status = 'active') AS active_flags
FROM users u
LEFT JOIN visits v ON v.broker_id = u.id
WHERE u.role = 'BROKER'
GROUP BY u.id, u.name, u.city, u.is_active
ORDER BY u.name ASC
`

	var rows []*BrokerReliabilityRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// VisitCountRow feeds the incentive payout sheet: only unique completed
// visits earn the full rate.
type VisitCountRow struct {
	BrokerId        int    `json:"broker_id"`
	BrokerName      string `json:"broker_name"`
	UniqueVisits    int64  `json:"unique_visits"`
	NonUniqueVisits int64  `json:"non_unique_visits"`
	TotalCompleted  int64  `json:"total_completed"`
}

func GetVisitCountsReport(ctx context.Context) ([]*VisitCountRow, error) {
	sql := `
SELECT
    u.id AS broker_id,
    u.name AS broker_name,
    SUM(CASE WHEN v.status = 'completed' AND v.is_unique_visit = true THEN 1 ELSE 0 END) AS unique_visits,
    SUM(CASE WHEN v.status = 'completed' AND v.is_unique_visit = false THEN 1 ELSE 0 END) AS non_unique_visits,
    SUM(CASE WHEN v.status = 'completed' THEN 1 ELSE 0 END) AS total_completed
FROM users u
LEFT JOIN visits v ON v.broker_id = u.id
WHERE u.role = 'BROKER'
GROUP BY u.id, u.name
ORDER BY u.name ASC
`

	var rows []*VisitCountRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
