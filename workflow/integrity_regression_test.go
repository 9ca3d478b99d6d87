package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/propdesk/brokerage_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestIntegrityEngineEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "brokerage_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	if err := models.SeedWhatsAppTemplates(ctx); err != nil {
		t.Fatalf("SeedWhatsAppTemplates: %v", err)
	}

	logger := config.GetLogger()
	db := config.GetDB()

	broker := mustCreateUser(t, ctx, "Flaky Broker", "broker@test.local", models.UserRoleBroker)
	broker2 := mustCreateUser(t, ctx, "Second Broker", "broker2@test.local", models.UserRoleBroker)
	rm := mustCreateUser(t, ctx, "Review RM", "rm@test.local", models.UserRoleRM)
	srm := mustCreateUser(t, ctx, "Ops SRM", "srm@test.local", models.UserRoleSRM)
	for _, brokerId := range []int{broker.ID, broker2.ID} {
		if err := db.Create(&models.RMAssignment{RmId: rm.ID, BrokerId: brokerId}).Error; err != nil {
			t.Fatalf("create rm assignment: %v", err)
		}
	}

	var primaryListing *models.Property

	t.Run("duplicate detection and review", func(t *testing.T) {
		original, check, err := workflow.CreateListing(ctx, logger, broker.ID, testListingInput("A"))
		if err != nil {
			t.Fatalf("CreateListing original: %v", err)
		}
		if check.Matched {
			t.Fatalf("first listing must not match anything, got score %v", check.Score)
		}
		primaryListing = original

		clone, cloneCheck, err := workflow.CreateListing(ctx, logger, broker2.ID, testListingInput("A"))
		if err != nil {
			t.Fatalf("CreateListing clone: %v", err)
		}
		if !cloneCheck.Matched || !cloneCheck.AutoHidden {
			t.Fatalf("identical clone expected auto-hidden match, got %+v", cloneCheck)
		}
		if cloneCheck.MatchedPropertyId != original.ID {
			t.Fatalf("clone should match original %d, got %d", original.ID, cloneCheck.MatchedPropertyId)
		}
		if clone.Status != models.PropertyStatusHiddenDuplicate || !clone.HiddenFromCustomers {
			t.Fatalf("clone expected hidden_duplicate_review, got %s hidden=%v", clone.Status, clone.HiddenFromCustomers)
		}
		if clone.PrimaryPropertyId == nil || *clone.PrimaryPropertyId != original.ID {
			t.Fatalf("clone primary should be the older listing %d, got %v", original.ID, clone.PrimaryPropertyId)
		}

		tickets, err := models.PendingDuplicateTickets(ctx, []int{broker2.ID})
		if err != nil {
			t.Fatalf("PendingDuplicateTickets: %v", err)
		}
		if len(tickets) != 1 || tickets[0].ID != cloneCheck.TicketId {
			t.Fatalf("expected ticket %d in RM queue, got %+v", cloneCheck.TicketId, tickets)
		}

		err = workflow.ResolveDuplicateTicket(ctx, logger, cloneCheck.TicketId, rm.ID, models.DuplicateDecisionKeepBackup, "same flat, keep as backup")
		if err != nil {
			t.Fatalf("ResolveDuplicateTicket: %v", err)
		}
		reloaded, err := models.GetProperty(ctx, clone.ID)
		if err != nil {
			t.Fatalf("GetProperty: %v", err)
		}
		if reloaded.Status != models.PropertyStatusBackup {
			t.Fatalf("keep_backup expected backup status, got %s", reloaded.Status)
		}

		// Double resolution must lose the conditional update.
		err = workflow.ResolveDuplicateTicket(ctx, logger, cloneCheck.TicketId, rm.ID, models.DuplicateDecisionApproveVisible, "")
		if !errorsIsStale(err) {
			t.Fatalf("second resolve expected stale-state error, got %v", err)
		}
	})

	t.Run("gallery attach and missing-entity lookups", func(t *testing.T) {
		images, err := models.AttachPropertyImages(db, primaryListing.ID, []*models.UploadResponse{
			{ImageUrl: "https://cdn.example.com/listings/a1.jpg", ThumbnailUrl: "https://cdn.example.com/listings/thumbnails/a1.jpg"},
			{ImageUrl: "https://cdn.example.com/listings/a2.jpg", ThumbnailUrl: "https://cdn.example.com/listings/thumbnails/a2.jpg"},
		})
		if err != nil {
			t.Fatalf("AttachPropertyImages: %v", err)
		}
		if len(images) != 2 {
			t.Fatalf("expected 2 gallery rows, got %d", len(images))
		}
		listed, err := models.ListPropertyImages(ctx, primaryListing.ID)
		if err != nil {
			t.Fatalf("ListPropertyImages: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 listed images, got %d", len(listed))
		}

		// Missing rows surface the not-found category, not a bare error.
		if _, err := models.GetUser(ctx, 999999); !errors.Is(err, utils.ErrNotFound) {
			t.Fatalf("missing user expected not-found category, got %v", err)
		}
		if err := utils.ValidateResourceId[models.User](ctx, 999999); !errors.Is(err, utils.ErrNotFound) {
			t.Fatalf("unknown id expected not-found category, got %v", err)
		}
	})

	t.Run("no-emergency cancellation flags immediately", func(t *testing.T) {
		visit := bookVisitForSlot(t, ctx, logger, broker.ID, primaryListing.ID, 10*time.Hour)

		result, err := workflow.CancelSlotByBroker(ctx, logger, broker.ID, &workflow.CancelSlotInput{
			SlotId: visit.SlotId,
			Reason: "double booked myself",
		})
		if err != nil {
			t.Fatalf("CancelSlotByBroker: %v", err)
		}
		if !result.Within24h || result.IncidentId == nil || result.Flag == nil {
			t.Fatalf("within-24h no-emergency cancel expected incident and flag, got %+v", result)
		}
		if result.Flag.Level != 1 {
			t.Fatalf("first flag expected level 1, got %d", result.Flag.Level)
		}
		if result.PriorityRebookUntil == nil {
			t.Fatalf("stranded customer expected priority rebooking window")
		}

		incident, err := models.GetIncident(ctx, *result.IncidentId)
		if err != nil {
			t.Fatalf("GetIncident: %v", err)
		}
		if incident.Status != models.IncidentStatusRejectedNoEmergency || incident.ResolvedAt == nil {
			t.Fatalf("incident expected born terminal, got status=%s resolved=%v", incident.Status, incident.ResolvedAt)
		}

		cancelled, err := models.GetVisit(ctx, visit.ID)
		if err != nil {
			t.Fatalf("GetVisit: %v", err)
		}
		if cancelled.Status != models.VisitStatusCancelledByBroker {
			t.Fatalf("visit expected cancelled_by_broker, got %s", cancelled.Status)
		}
	})

	t.Run("rejected emergency escalates to second flag and penalty", func(t *testing.T) {
		visit := bookVisitForSlot(t, ctx, logger, broker.ID, primaryListing.ID, 6*time.Hour)

		result, err := workflow.CancelSlotByBroker(ctx, logger, broker.ID, &workflow.CancelSlotInput{
			SlotId:             visit.SlotId,
			Reason:             "family emergency",
			EmergencyRequested: true,
			EmergencyReason:    "medical",
			EmergencyDetails:   "hospitalized parent",
		})
		if err != nil {
			t.Fatalf("CancelSlotByBroker: %v", err)
		}
		if result.Flag != nil {
			t.Fatalf("emergency claim must defer the flag to review, got %+v", result.Flag)
		}
		incident, err := models.GetIncident(ctx, *result.IncidentId)
		if err != nil {
			t.Fatalf("GetIncident: %v", err)
		}
		if incident.Status != models.IncidentStatusPendingRMReview || incident.SlaDueAt == nil {
			t.Fatalf("emergency incident expected pending_rm_review with SLA, got %+v", incident)
		}

		flag, err := workflow.ReviewEmergency(ctx, logger, rm.ID, []int{broker.ID, broker2.ID}, incident.ID, false, "no proof provided")
		if err != nil {
			t.Fatalf("ReviewEmergency: %v", err)
		}
		if flag == nil || flag.Level != 2 {
			t.Fatalf("rejection expected second flag, got %+v", flag)
		}

		var penalty models.BrokerPenalty
		err = db.Where("broker_id = ? AND reason = ?", broker.ID, models.PenaltyReasonSecondFlag).
			First(&penalty).Error
		if err != nil {
			t.Fatalf("second flag expected a monthly penalty row: %v", err)
		}

		// Review is single-shot.
		_, err = workflow.ReviewEmergency(ctx, logger, rm.ID, []int{broker.ID}, incident.ID, true, "")
		if !errorsIsStale(err) {
			t.Fatalf("second review expected stale-state error, got %v", err)
		}
	})

	t.Run("sweep escalates overdue incidents to SRM", func(t *testing.T) {
		visit := bookVisitForSlot(t, ctx, logger, broker2.ID, mustBackupListing(t, db, broker2.ID), 6*time.Hour)

		result, err := workflow.CancelSlotByBroker(ctx, logger, broker2.ID, &workflow.CancelSlotInput{
			SlotId:             visit.SlotId,
			Reason:             "vehicle breakdown",
			EmergencyRequested: true,
			EmergencyReason:    "accident",
		})
		if err != nil {
			t.Fatalf("CancelSlotByBroker: %v", err)
		}

		// Age the SLA so the sweep sees it as overdue.
		pastDue := time.Now().Add(-time.Hour)
		if err := db.Model(&models.CancellationIncident{}).
			Where("id = ?", *result.IncidentId).
			Update("sla_due_at", pastDue).Error; err != nil {
			t.Fatalf("age incident: %v", err)
		}

		sweep, err := workflow.RunIntegritySweep(ctx, logger)
		if err != nil {
			t.Fatalf("RunIntegritySweep: %v", err)
		}
		if sweep.Skipped || sweep.IncidentsEscalated != 1 {
			t.Fatalf("sweep expected one escalation, got %+v", sweep)
		}

		incident, err := models.GetIncident(ctx, *result.IncidentId)
		if err != nil {
			t.Fatalf("GetIncident: %v", err)
		}
		if incident.Status != models.IncidentStatusEscalatedToSRM || incident.SrmDueAt == nil {
			t.Fatalf("expected escalated_to_srm with SRM deadline, got %+v", incident)
		}

		// Sweep is idempotent: a second run finds nothing.
		again, err := workflow.RunIntegritySweep(ctx, logger)
		if err != nil {
			t.Fatalf("second RunIntegritySweep: %v", err)
		}
		if again.IncidentsEscalated != 0 {
			t.Fatalf("second sweep expected no escalations, got %+v", again)
		}

		if _, err := workflow.ReviewEscalation(ctx, logger, srm.ID, incident.ID, true, "verified accident report"); err != nil {
			t.Fatalf("ReviewEscalation: %v", err)
		}
		resolved, err := models.GetIncident(ctx, incident.ID)
		if err != nil {
			t.Fatalf("GetIncident: %v", err)
		}
		if resolved.Status != models.IncidentStatusApprovedBySRM || resolved.ResolvedAt == nil {
			t.Fatalf("expected approved_by_srm terminal, got %+v", resolved)
		}
	})

	t.Run("concurrent flaggings never share a level", func(t *testing.T) {
		// The advisory lock must be held across commit: a release before
		// COMMIT lets a racing flagging count flags without seeing the
		// uncommitted insert and claim the same level.
		target := mustCreateUser(t, ctx, "Raced Broker", "raced@test.local", models.UserRoleBroker)

		const n = 3
		var wg sync.WaitGroup
		flags := make([]*models.BrokerFlag, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				flags[i], errs[i] = workflow.ApplyFlagForBroker(ctx, logger, target.ID, nil, "concurrent strike")
			}(i)
		}
		wg.Wait()

		seen := map[int]bool{}
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("ApplyFlagForBroker[%d]: %v", i, errs[i])
			}
			if seen[flags[i].Level] {
				t.Fatalf("two flags share level %d", flags[i].Level)
			}
			seen[flags[i].Level] = true
		}
		for want := 1; want <= n; want++ {
			if !seen[want] {
				t.Fatalf("expected levels 1..%d exactly once, missing %d", n, want)
			}
		}

		var penalties int64
		if err := db.Model(&models.BrokerPenalty{}).
			Where("broker_id = ?", target.ID).
			Count(&penalties).Error; err != nil {
			t.Fatalf("count penalties: %v", err)
		}
		if penalties != 1 {
			t.Fatalf("expected exactly one penalty row, got %d", penalties)
		}

		user, err := models.GetUser(ctx, target.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if user.IsActive == nil || *user.IsActive {
			t.Fatalf("third flag should deactivate the broker")
		}
	})

	t.Run("decayed flags stop counting toward the level", func(t *testing.T) {
		// Age broker's flags past the decay window, then flag again: the
		// ledger restarts at level 1 instead of deactivating the broker.
		longAgo := time.Now().Add(-time.Hour)
		if err := db.Model(&models.BrokerFlag{}).
			Where("broker_id = ?", broker.ID).
			Update("decays_at", longAgo).Error; err != nil {
			t.Fatalf("age flags: %v", err)
		}

		flag, err := workflow.ApplyFlagForBroker(ctx, logger, broker.ID, nil, "post-decay strike")
		if err != nil {
			t.Fatalf("ApplyFlagForBroker: %v", err)
		}
		if flag.Level != 1 {
			t.Fatalf("flag after decay expected level 1, got %d", flag.Level)
		}

		user, err := models.GetUser(ctx, broker.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if user.IsActive == nil || !*user.IsActive {
			t.Fatalf("broker should still be active after a level-1 flag")
		}
	})
}

func errorsIsStale(err error) bool {
	return errors.Is(err, utils.ErrStaleState)
}

func mustCreateUser(t *testing.T, ctx context.Context, name, email string, role models.UserRole) *models.User {
	t.Helper()
	user, err := models.CreateUser(ctx, &models.NewUser{
		Name:     name,
		Email:    email,
		Password: "secret123",
		Role:     role,
		City:     "Bangalore",
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return user
}

func testListingInput(tag string) *models.NewProperty {
	area := decimal.NewFromInt(1200)
	lat := 12.9716
	lng := 77.5946
	return &models.NewProperty{
		Title:         "Sunrise Apartments 2BHK " + tag,
		AssetType:     "apartment",
		Configuration: "2BHK",
		AreaValue:     &area,
		LocationText:  "Koramangala 4th Block",
		City:          "Bangalore",
		Price:         decimal.NewFromInt(9000000),
		Latitude:      &lat,
		Longitude:     &lng,
		ImageUrl:      "https://cdn.example.com/listings/flat-101-" + tag + ".jpg",
	}
}

// mustBackupListing finds any listing owned by the broker usable for a
// booking, regardless of duplicate bookkeeping.
func mustBackupListing(t *testing.T, db *gorm.DB, brokerId int) int {
	t.Helper()
	var prop models.Property
	if err := db.Where("broker_id = ?", brokerId).First(&prop).Error; err != nil {
		t.Fatalf("broker %d has no listing: %v", brokerId, err)
	}
	return prop.ID
}

// bookVisitForSlot opens a slot starting startIn from now and books a
// customer into it, returning the scheduled visit.
func bookVisitForSlot(t *testing.T, ctx context.Context, logger *logrus.Logger, brokerId int, propertyId int, startIn time.Duration) *models.Visit {
	t.Helper()
	start := time.Now().Add(startIn).Truncate(time.Minute)
	slot, err := models.CreateSlot(ctx, brokerId, &models.NewSlot{
		City:    "Bangalore",
		StartAt: start,
		EndAt:   start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	visit, err := workflow.BookVisit(ctx, logger, &models.NewVisit{
		SlotId:        slot.ID,
		PropertyId:    propertyId,
		CustomerName:  "Walk-in Customer",
		CustomerPhone: "9876543210",
	}, "test")
	if err != nil {
		t.Fatalf("BookVisit: %v", err)
	}
	return visit
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("brokerage-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("brokerage-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=brokerage_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
