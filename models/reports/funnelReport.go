package reports

import (
	"context"

	"github.com/propdesk/brokerage_backend/config"
)

// FunnelReport is the lead-to-visit conversion snapshot shown on the
// RM/SRM dashboard.
type FunnelReport struct {
	LeadCount                int64 `json:"lead_count"`
	ScheduledVisits          int64 `json:"scheduled_visits"`
	CompletedUnique          int64 `json:"completed_unique"`
	CompletedNonUnique       int64 `json:"completed_non_unique"`
	BrokerCancellationsLt24h int64 `json:"broker_cancellations_lt24h"`
	CustomerCancellations    int64 `json:"customer_cancellations"`
	CustomerReschedules      int64 `json:"customer_reschedules"`
}

func GetFunnelReport(ctx context.Context) (*FunnelReport, error) {
	sql := `
SELECT
    (SELECT COUNT(*) FROM leads) AS lead_count,
    (SELECT COUNT(*) FROM visits WHERE status = 'scheduled') AS scheduled_visits,
    (SELECT COUNT(*) FROM visits WHERE status = 'completed' AND is_unique_visit = true) AS completed_unique,
    (SELECT COUNT(*) FROM visits WHERE status = 'completed' AND is_unique_visit = false) AS completed_non_unique,
    (SELECT COUNT(*) FROM cancellation_incidents WHERE within_24h = true AND is_booked = true) AS broker_cancellations_lt24h,
    (SELECT COUNT(*) FROM visits WHERE status = 'cancelled_by_customer') AS customer_cancellations,
    (SELECT COUNT(*) FROM visits WHERE status = 'rescheduled_by_customer') AS customer_reschedules
`

	var report FunnelReport
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql).Scan(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}
