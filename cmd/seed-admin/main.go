// seed-admin creates or updates the senior relationship manager console user
// and seeds the outbound WhatsApp templates.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Override the default credentials with SEED_SRM_EMAIL / SEED_SRM_PASSWORD.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultSRMEmail    = "srm@propdesk.local"
	defaultSRMPassword = "ChangeMe!123"
	defaultSRMName     = "Ops SRM"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	models.MigrateTable()
	if err := models.SeedWhatsAppTemplates(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed whatsapp templates: %v\n", err)
		os.Exit(1)
	}

	email := os.Getenv("SEED_SRM_EMAIL")
	if email == "" {
		email = defaultSRMEmail
	}
	password := os.Getenv("SEED_SRM_PASSWORD")
	if password == "" {
		password = defaultSRMPassword
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Name:         defaultSRMName,
			Email:        email,
			PasswordHash: hashedStr,
			Role:         models.UserRoleSRM,
			IsActive:     utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create srm user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created SRM user: email=%q\n", email)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Updates(map[string]any{
		"password_hash": hashedStr,
		"is_active":     utils.NewTrue(),
		"role":          models.UserRoleSRM,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update srm user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated SRM user: email=%q\n", email)
}
