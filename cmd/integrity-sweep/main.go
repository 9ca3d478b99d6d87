// integrity-sweep runs one pass of the background maintenance job: expired
// flag decay plus SLA escalation of overdue incidents. The server runs the
// same sweep on a timer; this command exists for cron jobs and manual runs.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/integrity-sweep
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/workflow"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	logger := config.GetLogger()
	result, err := workflow.RunIntegritySweep(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	if result.Skipped {
		fmt.Println("sweep skipped: another instance holds the lock")
		return
	}
	fmt.Printf("sweep done: flags_decayed=%d incidents_escalated=%d\n",
		result.FlagsDecayed, result.IncidentsEscalated)
}
