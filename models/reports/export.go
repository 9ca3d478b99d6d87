package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/xuri/excelize/v2"
)

func csvText(headers []string, rows [][]string) (string, error) {
	var buf strings.Builder
	writer := csv.NewWriter(&buf)
	if err := writer.Write(headers); err != nil {
		return "", err
	}
	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type whatsAppMessageRow struct {
	ID             int
	Direction      string
	Source         string
	ToPhone        string
	FromPhone      string
	TemplateName   string
	MessageText    string
	Status         string
	RelatedVisitId *int
	CreatedAt      time.Time
}

type visitExportRow struct {
	ID                 int
	Status             string
	CancelledBy        string
	CancellationReason string
	StartAt            time.Time
	EndAt              time.Time
	IsUniqueVisit      bool
	CompletionMode     string
	CustomerName       string
	PhoneNorm          string
	PropertyTitle      string
	BrokerName         string
}

// ExportCSV renders the named report as CSV and returns a timestamped
// filename alongside the payload.
func ExportCSV(ctx context.Context, exportType string) (string, string, error) {
	var payload string
	var err error

	switch exportType {
	case "visit_counts":
		rows, qerr := GetVisitCountsReport(ctx)
		if qerr != nil {
			return "", "", qerr
		}
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, []string{
				r.BrokerName,
				strconv.FormatInt(r.UniqueVisits, 10),
				strconv.FormatInt(r.NonUniqueVisits, 10),
				strconv.FormatInt(r.TotalCompleted, 10),
			})
		}
		payload, err = csvText(
			[]string{"broker_name", "unique_visits", "non_unique_visits", "total_completed"},
			records,
		)

	case "funnel":
		report, qerr := GetFunnelReport(ctx)
		if qerr != nil {
			return "", "", qerr
		}
		payload, err = csvText(
			[]string{"metric", "value"},
			[][]string{
				{"lead_count", strconv.FormatInt(report.LeadCount, 10)},
				{"scheduled_visits", strconv.FormatInt(report.ScheduledVisits, 10)},
				{"completed_unique", strconv.FormatInt(report.CompletedUnique, 10)},
				{"completed_non_unique", strconv.FormatInt(report.CompletedNonUnique, 10)},
				{"broker_cancellations_lt24h", strconv.FormatInt(report.BrokerCancellationsLt24h, 10)},
				{"customer_cancellations", strconv.FormatInt(report.CustomerCancellations, 10)},
				{"customer_reschedules", strconv.FormatInt(report.CustomerReschedules, 10)},
			},
		)

	case "broker_reliability":
		rows, qerr := GetBrokerReliabilityReport(ctx)
		if qerr != nil {
			return "", "", qerr
		}
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, []string{
				strconv.Itoa(r.BrokerId),
				r.BrokerName,
				r.City,
				strconv.FormatBool(r.IsActive),
				strconv.FormatInt(r.TotalVisits, 10),
				strconv.FormatInt(r.CompletedVisits, 10),
				strconv.FormatFloat(r.CompletionRatePct, 'f', 2, 64),
				strconv.FormatInt(r.BrokerCancelledVisits, 10),
				strconv.FormatInt(r.LateCancelIncidents, 10),
				strconv.FormatInt(r.ActiveFlags, 10),
			})
		}
		payload, err = csvText(
			[]string{"broker_id", "broker_name", "city", "is_active", "total_visits",
				"completed_visits", "completion_rate_pct", "broker_cancelled_visits",
				"late_cancel_incidents", "active_flags"},
			records,
		)

	case "whatsapp_messages":
		var rows []*whatsAppMessageRow
		db := config.GetDB()
		qerr := db.WithContext(ctx).Raw(`
SELECT id, direction, source, to_phone, from_phone, template_name,
       message_text, status, related_visit_id, created_at
FROM whats_app_messages
ORDER BY created_at DESC
LIMIT 1000`).Scan(&rows).Error
		if qerr != nil {
			return "", "", qerr
		}
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			relatedVisit := ""
			if r.RelatedVisitId != nil {
				relatedVisit = strconv.Itoa(*r.RelatedVisitId)
			}
			records = append(records, []string{
				strconv.Itoa(r.ID), r.Direction, r.Source, r.ToPhone, r.FromPhone,
				r.TemplateName, r.MessageText, r.Status, relatedVisit,
				r.CreatedAt.Format(time.RFC3339),
			})
		}
		payload, err = csvText(
			[]string{"id", "direction", "source", "to_phone", "from_phone",
				"template_name", "message_text", "status", "related_visit_id", "created_at"},
			records,
		)

	case "visits":
		var rows []*visitExportRow
		db := config.GetDB()
		qerr := db.WithContext(ctx).Raw(`
SELECT v.id, v.status, v.cancelled_by, v.cancellation_reason,
       v.start_at, v.end_at, v.is_unique_visit, v.completion_mode,
       c.name AS customer_name, c.phone_norm,
       p.title AS property_title,
       b.name AS broker_name
FROM visits v
JOIN customers c ON c.id = v.customer_id
JOIN properties p ON p.id = v.property_id
JOIN users b ON b.id = v.broker_id
ORDER BY v.start_at DESC
LIMIT 2000`).Scan(&rows).Error
		if qerr != nil {
			return "", "", qerr
		}
		records := make([][]string, 0, len(rows))
		for _, r := range rows {
			records = append(records, []string{
				strconv.Itoa(r.ID), r.Status, r.CancelledBy, r.CancellationReason,
				r.StartAt.Format(time.RFC3339), r.EndAt.Format(time.RFC3339),
				strconv.FormatBool(r.IsUniqueVisit), r.CompletionMode,
				r.CustomerName, r.PhoneNorm, r.PropertyTitle, r.BrokerName,
			})
		}
		payload, err = csvText(
			[]string{"visit_id", "status", "cancelled_by", "cancellation_reason",
				"start_at", "end_at", "is_unique_visit", "completion_mode",
				"customer_name", "customer_phone", "property_title", "broker_name"},
			records,
		)

	default:
		return "", "", utils.ValidationError("unknown export type: %s", exportType)
	}

	if err != nil {
		return "", "", err
	}
	filename := fmt.Sprintf("%s_%s.csv", exportType, time.Now().Format("20060102_150405"))
	return filename, payload, nil
}

// ExportBrokerReliabilityExcel builds the reliability report as a workbook
// for the operations team.
func ExportBrokerReliabilityExcel(ctx context.Context) (*excelize.File, error) {
	rows, err := GetBrokerReliabilityReport(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	_, err = f.NewSheet("Sheet1")
	if err != nil {
		return nil, err
	}

	f.SetCellValue("Sheet1", "A1", "BrokerId")
	f.SetCellValue("Sheet1", "B1", "BrokerName")
	f.SetCellValue("Sheet1", "C1", "City")
	f.SetCellValue("Sheet1", "D1", "Active")
	f.SetCellValue("Sheet1", "E1", "TotalVisits")
	f.SetCellValue("Sheet1", "F1", "CompletedVisits")
	f.SetCellValue("Sheet1", "G1", "CompletionRatePct")
	f.SetCellValue("Sheet1", "H1", "BrokerCancelledVisits")
	f.SetCellValue("Sheet1", "I1", "LateCancelIncidents")
	f.SetCellValue("Sheet1", "J1", "ActiveFlags")

	for i, r := range rows {
		f.SetCellValue("Sheet1", "A"+fmt.Sprint(i+2), r.BrokerId)
		f.SetCellValue("Sheet1", "B"+fmt.Sprint(i+2), r.BrokerName)
		f.SetCellValue("Sheet1", "C"+fmt.Sprint(i+2), r.City)
		f.SetCellValue("Sheet1", "D"+fmt.Sprint(i+2), r.IsActive)
		f.SetCellValue("Sheet1", "E"+fmt.Sprint(i+2), r.TotalVisits)
		f.SetCellValue("Sheet1", "F"+fmt.Sprint(i+2), r.CompletedVisits)
		f.SetCellValue("Sheet1", "G"+fmt.Sprint(i+2), r.CompletionRatePct)
		f.SetCellValue("Sheet1", "H"+fmt.Sprint(i+2), r.BrokerCancelledVisits)
		f.SetCellValue("Sheet1", "I"+fmt.Sprint(i+2), r.LateCancelIncidents)
		f.SetCellValue("Sheet1", "J"+fmt.Sprint(i+2), r.ActiveFlags)
	}
	return f, nil
}
