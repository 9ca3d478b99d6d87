package leadsync

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const leadSource = "excel_sync"

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported int    `json:"imported"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Status   string `json:"status"`
}

type leadRow struct {
	Name            string
	Phone           string
	City            string
	LocationPref    string
	ConfigPref      string
	BudgetMin       decimal.Decimal
	BudgetMax       decimal.Decimal
	RequirementText string
}

func importFilePath() string {
	if v := os.Getenv("LEADS_IMPORT_FILE"); v != "" {
		return v
	}
	return "data/leads_import.csv"
}

func syncInterval() time.Duration {
	if v := os.Getenv("LEAD_SYNC_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Minute
}

func parseRow(header map[string]int, record []string) leadRow {
	get := func(key string) string {
		idx, ok := header[key]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	parseAmount := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(get(key))
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return leadRow{
		Name:            get("name"),
		Phone:           get("phone"),
		City:            get("city"),
		LocationPref:    get("location_pref"),
		ConfigPref:      get("config_pref"),
		BudgetMin:       parseAmount("budget_min"),
		BudgetMax:       parseAmount("budget_max"),
		RequirementText: get("requirement_text"),
	}
}

func upsertLead(tx *gorm.DB, row leadRow, now time.Time) (imported bool, updated bool, err error) {
	phone := utils.NormalizePhone(row.Phone)
	if phone == "" {
		return false, false, nil
	}

	customer, err := models.GetOrCreateCustomer(tx, row.Name, phone)
	if err != nil {
		return false, false, err
	}
	if row.Name != "" && customer.Name != row.Name {
		if err := tx.Model(&models.Customer{}).
			Where("id = ?", customer.ID).
			Update("name", row.Name).Error; err != nil {
			return false, false, err
		}
	}

	var existing models.Lead
	err = tx.Where(
		"customer_id = ? AND city = ? AND location_pref = ? AND config_pref = ? AND budget_min = ? AND budget_max = ?",
		customer.ID, row.City, row.LocationPref, row.ConfigPref, row.BudgetMin, row.BudgetMax,
	).First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return false, false, err
	}

	if err == nil {
		return false, true, tx.Model(&models.Lead{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"requirement_text": row.RequirementText,
				"source":           leadSource,
				"last_synced_at":   now,
			}).Error
	}

	lead := models.Lead{
		CustomerId:      customer.ID,
		City:            row.City,
		LocationPref:    row.LocationPref,
		ConfigPref:      row.ConfigPref,
		BudgetMin:       row.BudgetMin,
		BudgetMax:       row.BudgetMax,
		RequirementText: row.RequirementText,
		Source:          leadSource,
		LastSyncedAt:    now,
	}
	return true, false, tx.Create(&lead).Error
}

// ImportLeadsFromCSV reads the drop file and upserts customers and leads.
// Rows with unparseable phone numbers are skipped, not fatal; the file is a
// hand-maintained export and dirty rows are routine.
func ImportLeadsFromCSV(ctx context.Context, logger *logrus.Logger) (*ImportResult, error) {
	path := importFilePath()
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ImportResult{Status: "file_not_found"}, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	headerRecord, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return &ImportResult{Status: "empty_file"}, nil
		}
		return nil, err
	}
	header := make(map[string]int, len(headerRecord))
	for i, name := range headerRecord {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}

	result := &ImportResult{Status: "ok"}
	now := time.Now()
	db := config.GetDB()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			row := parseRow(header, record)
			if utils.NormalizePhone(row.Phone) == "" {
				result.Skipped++
				continue
			}
			imported, updated, err := upsertLead(tx, row, now)
			if err != nil {
				config.LogError(logger, "worker.go", "ImportLeadsFromCSV", "upsertLead", row.Phone, err)
				return err
			}
			if imported {
				result.Imported++
			} else if updated {
				result.Updated++
			} else {
				result.Skipped++
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if result.Imported > 0 || result.Updated > 0 {
		logger.WithFields(logrus.Fields{
			"imported": result.Imported,
			"updated":  result.Updated,
			"skipped":  result.Skipped,
		}).Info("lead import completed")
	}
	return result, nil
}

// RunSyncLoop imports the lead file on a fixed interval until the context is
// done. Errors are logged and the loop keeps going.
func RunSyncLoop(ctx context.Context, logger *logrus.Logger) {
	interval := syncInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ImportLeadsFromCSV(ctx, logger); err != nil {
				config.LogError(logger, "worker.go", "RunSyncLoop", "ImportLeadsFromCSV", nil, err)
			}
		}
	}
}
