package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/leadsync"
	"github.com/propdesk/brokerage_backend/middlewares"
	"github.com/propdesk/brokerage_backend/models"
	"github.com/propdesk/brokerage_backend/models/reports"
	"github.com/propdesk/brokerage_backend/utils"
	"github.com/propdesk/brokerage_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// respondError maps workflow error categories to HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrStaleState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func sessionUserId(c *gin.Context) (int, bool) {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userId, true
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := sessionUserId(c)
		if !ok {
			return
		}
		user, err := models.GetUser(c.Request.Context(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func listInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		props, err := models.BrokerProperties(c.Request.Context(), brokerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, props)
	}
}

func createListingHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var input models.NewProperty
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		prop, check, err := workflow.CreateListing(c.Request.Context(), logger, brokerId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"property": prop, "duplicate_check": check})
	}
}

func updateListingHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		propertyId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid property id"})
			return
		}
		var input models.NewProperty
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		prop, check, err := workflow.UpdateListing(c.Request.Context(), logger, brokerId, propertyId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"property": prop, "duplicate_check": check})
	}
}

type removeListingRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Details string `json:"details"`
}

func removeListingHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		propertyId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid property id"})
			return
		}
		var req removeListingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}
		status, err := workflow.RemoveListing(c.Request.Context(), logger, brokerId, propertyId, req.Reason, req.Details)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"property_id": propertyId, "status": status})
	}
}

func uploadListingImageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := sessionUserId(c); !ok {
			return
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer file.Close()

		resp, err := models.UploadListingImage(c.Request.Context(), fileHeader.Filename, file)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

type removeImageRequest struct {
	ImageUrl string `json:"image_url" binding:"required"`
}

func removeListingImageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := sessionUserId(c); !ok {
			return
		}
		var req removeImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image_url is required"})
			return
		}
		if err := models.RemoveListingImage(c.Request.Context(), req.ImageUrl); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type attachImagesRequest struct {
	Images []*models.UploadResponse `json:"images" binding:"required"`
}

// attachPropertyImagesHandler replaces a listing's gallery with the given
// already-uploaded image URLs.
func attachPropertyImagesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		propertyId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid property id"})
			return
		}
		var req attachImagesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "images is required"})
			return
		}

		db := config.GetDB()
		var images []*models.PropertyImage
		err = db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			var prop models.Property
			if err := tx.Where("id = ? AND broker_id = ?", propertyId, brokerId).First(&prop).Error; err != nil {
				return utils.NotFoundError("property", propertyId)
			}
			var txErr error
			images, txErr = models.AttachPropertyImages(tx, propertyId, req.Images)
			return txErr
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"images": images})
	}
}

func listPropertyImagesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid property id"})
			return
		}
		images, err := models.ListPropertyImages(c.Request.Context(), propertyId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, images)
	}
}

func visiblePropertiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		props, err := models.VisibleProperties(c.Request.Context(), c.Query("city"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, props)
	}
}

func openSlotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		slots, err := models.OpenSlots(c.Request.Context(), c.Query("city"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, slots)
	}
}

func createSlotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var input models.NewSlot
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		slot, err := models.CreateSlot(c.Request.Context(), brokerId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, slot)
	}
}

func cancelSlotHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var input workflow.CancelSlotInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		result, err := workflow.CancelSlotByBroker(c.Request.Context(), logger, brokerId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func bookVisitHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewVisit
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		visit, err := workflow.BookVisit(c.Request.Context(), logger, &input, "api")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, visit)
	}
}

func brokerVisitsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		visits, err := models.BrokerVisits(c.Request.Context(), brokerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, visits)
	}
}

type sendOTPRequest struct {
	VisitId int `json:"visit_id" binding:"required"`
}

func sendVisitOTPHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var req sendOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "visit_id is required"})
			return
		}
		expiresAt, err := workflow.SendVisitOTP(c.Request.Context(), logger, brokerId, req.VisitId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"visit_id": req.VisitId, "otp_expires_at": expiresAt})
	}
}

func completeVisitHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var input workflow.CompleteVisitInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		result, err := workflow.CompleteVisit(c.Request.Context(), logger, brokerId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func rebookingOptionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		visitId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visit id"})
			return
		}
		phone := c.Query("phone")
		if phone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
			return
		}
		slots, err := workflow.RebookingOptions(c.Request.Context(), visitId, phone)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, slots)
	}
}

type customerCancelRequest struct {
	VisitId int    `json:"visit_id" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Reason  string `json:"reason"`
}

func customerCancelVisitHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req customerCancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "visit_id and phone are required"})
			return
		}
		err := workflow.CancelVisitByCustomer(c.Request.Context(), logger, req.VisitId, req.Phone, req.Reason, "api")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"visit_id": req.VisitId, "status": models.VisitStatusCancelledByCustomer})
	}
}

type customerRescheduleRequest struct {
	VisitId      int    `json:"visit_id" binding:"required"`
	Phone        string `json:"phone" binding:"required"`
	TargetSlotId int    `json:"target_slot_id" binding:"required"`
	Reason       string `json:"reason"`
}

func customerRescheduleVisitHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req customerRescheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "visit_id, phone and target_slot_id are required"})
			return
		}
		visit, err := workflow.RescheduleVisitByCustomer(c.Request.Context(), logger,
			req.VisitId, req.Phone, req.TargetSlotId, req.Reason, "api")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, visit)
	}
}

func duplicateQueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rmId, ok := sessionUserId(c)
		if !ok {
			return
		}
		brokerIds, err := models.AssignedBrokerIds(c.Request.Context(), rmId)
		if err != nil {
			respondError(c, err)
			return
		}
		tickets, err := models.PendingDuplicateTickets(c.Request.Context(), brokerIds)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tickets)
	}
}

type duplicateReviewRequest struct {
	TicketId int                      `json:"ticket_id" binding:"required"`
	Decision models.DuplicateDecision `json:"decision" binding:"required"`
	Notes    string                   `json:"notes"`
}

func duplicateReviewHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rmId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var req duplicateReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ticket_id and decision are required"})
			return
		}
		err := workflow.ResolveDuplicateTicket(c.Request.Context(), logger, req.TicketId, rmId, req.Decision, req.Notes)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket_id": req.TicketId, "status": models.TicketStatusResolved})
	}
}

func emergencyQueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rmId, ok := sessionUserId(c)
		if !ok {
			return
		}
		brokerIds, err := models.AssignedBrokerIds(c.Request.Context(), rmId)
		if err != nil {
			respondError(c, err)
			return
		}
		incidents, err := models.PendingEmergencyQueue(c.Request.Context(), brokerIds)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, incidents)
	}
}

type incidentReviewRequest struct {
	IncidentId int    `json:"incident_id" binding:"required"`
	Approve    *bool  `json:"approve" binding:"required"`
	Note       string `json:"note"`
}

func emergencyReviewHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rmId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var req incidentReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "incident_id and approve are required"})
			return
		}
		brokerIds, err := models.AssignedBrokerIds(c.Request.Context(), rmId)
		if err != nil {
			respondError(c, err)
			return
		}
		flag, err := workflow.ReviewEmergency(c.Request.Context(), logger, rmId, brokerIds, req.IncidentId, *req.Approve, req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"incident_id": req.IncidentId, "flag": flag})
	}
}

func escalationQueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		incidents, err := models.EscalationQueue(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, incidents)
	}
}

func escalationReviewHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		srmId, ok := sessionUserId(c)
		if !ok {
			return
		}
		var req incidentReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "incident_id and approve are required"})
			return
		}
		flag, err := workflow.ReviewEscalation(c.Request.Context(), logger, srmId, req.IncidentId, *req.Approve, req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"incident_id": req.IncidentId, "flag": flag})
	}
}

func brokerOwnFlagsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, ok := sessionUserId(c)
		if !ok {
			return
		}
		flags, err := models.BrokerFlags(c.Request.Context(), brokerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, flags)
	}
}

func brokerFlagsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerId, err := strconv.Atoi(c.Param("brokerId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid broker id"})
			return
		}
		// Unknown brokers 404 instead of returning an empty ledger.
		if err := utils.ValidateResourceId[models.User](c.Request.Context(), brokerId); err != nil {
			respondError(c, err)
			return
		}
		flags, err := models.BrokerFlags(c.Request.Context(), brokerId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, flags)
	}
}

func listLeadsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		var leads []*models.Lead
		q := db.WithContext(c.Request.Context()).Order("last_synced_at DESC").Limit(500)
		if city := c.Query("city"); city != "" {
			q = q.Where("city = ?", city)
		}
		if err := q.Find(&leads).Error; err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, leads)
	}
}

func importLeadsNowHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := leadsync.ImportLeadsFromCSV(c.Request.Context(), logger)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func listWhatsAppMessagesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		var messages []*models.WhatsAppMessage
		q := db.WithContext(c.Request.Context()).Order("id DESC").Limit(200)
		if phone := c.Query("phone"); phone != "" {
			q = q.Where("to_phone = ? OR from_phone = ?", phone, phone)
		}
		if err := q.Find(&messages).Error; err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, messages)
	}
}

type sendTestMessageRequest struct {
	ToPhone      string         `json:"to_phone" binding:"required"`
	TemplateName string         `json:"template_name" binding:"required"`
	Context      map[string]any `json:"context"`
}

func sendTestMessageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendTestMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to_phone and template_name are required"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())
		var msg *models.WhatsAppMessage
		err := db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			msg, txErr = models.QueueWhatsAppMessage(tx, "manual_test", req.ToPhone, req.TemplateName, req.Context, nil)
			return txErr
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}

type whatsAppWebhookRequest struct {
	EventType string         `json:"event_type"`
	FromPhone string         `json:"from_phone"`
	Payload   map[string]any `json:"payload"`
}

// Provider webhook. Malformed payloads are acked and dropped so the
// provider does not retry forever.
func whatsAppWebhookHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req whatsAppWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			config.LogError(logger, "server.go", "whatsAppWebhookHandler", "bind body", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		if req.EventType == "" {
			req.EventType = "unknown"
		}
		if _, err := models.LogWhatsAppWebhookEvent(c.Request.Context(), req.EventType, req.FromPhone, req.Payload); err != nil {
			config.LogError(logger, "server.go", "whatsAppWebhookHandler", "log event", req, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

const funnelReportCacheKey = "report:funnel"

func funnelReportHandler() gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		// The funnel aggregates the whole visits table; a short cache keeps
		// dashboard polling off the DB.
		if cached, ok, err := config.GetRedisValue(funnelReportCacheKey); err == nil && ok {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		}
		report, err := reports.GetFunnelReport(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if payload, err := json.Marshal(report); err == nil {
			if err := config.SetRedisValue(funnelReportCacheKey, string(payload), time.Minute); err != nil {
				config.LogError(logger, "server.go", "funnelReportHandler", "cache report", nil, err)
			}
		}
		c.JSON(http.StatusOK, report)
	}
}

func brokerReliabilityReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := reports.GetBrokerReliabilityReport(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func visitCountsReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := reports.GetVisitCountsReport(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func exportCSVHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		exportType := c.Query("type")
		filename, payload, err := reports.ExportCSV(c.Request.Context(), exportType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, "text/csv", []byte(payload))
	}
}

func exportBrokerReliabilityExcelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := reports.ExportBrokerReliabilityExcel(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Description", "File Transfer")
		c.Header("Content-Disposition", `attachment; filename="broker_reliability.xlsx"`)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := f.Write(c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}

type outboxReplayRequest struct {
	EventId int `json:"event_id" binding:"required"`
}

// Ops tooling: requeue an outbox event that was marked DEAD/FAILED.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event_id is required"})
			return
		}
		db := config.GetDB()
		now := time.Now().UTC()
		result := db.WithContext(c.Request.Context()).
			Model(&models.OutboxEvent{}).
			Where("id = ?", req.EventId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"is_processed":       false,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			})
		if result.Error != nil {
			respondError(c, result.Error)
			return
		}
		if result.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"event_id":        req.EventId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

func manualSweepHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := workflow.RunIntegritySweep(c.Request.Context(), logger)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func registerRoutes(r *gin.Engine, logger *logrus.Logger) {
	r.POST("/auth/login", loginHandler())
	r.GET("/properties", visiblePropertiesHandler())
	r.GET("/properties/:id/images", listPropertyImagesHandler())
	r.GET("/slots", openSlotsHandler())
	r.POST("/visits", bookVisitHandler(logger))
	r.POST("/whatsapp/webhook", whatsAppWebhookHandler(logger))

	// Customer self-service, authenticated by the booking phone number.
	customer := r.Group("/customer")
	customer.GET("/visits/:id/rebooking-options", rebookingOptionsHandler())
	customer.POST("/visits/cancel", customerCancelVisitHandler(logger))
	customer.POST("/visits/reschedule", customerRescheduleVisitHandler(logger))

	authed := r.Group("")
	authed.Use(middlewares.RequireRoles(
		string(models.UserRoleBroker), string(models.UserRoleRM), string(models.UserRoleSRM)))
	authed.GET("/auth/me", meHandler())
	authed.POST("/auth/logout", logoutHandler())

	broker := r.Group("/broker")
	broker.Use(middlewares.RequireRoles(string(models.UserRoleBroker)))
	broker.GET("/inventory", listInventoryHandler())
	broker.POST("/inventory", createListingHandler(logger))
	broker.PUT("/inventory/:id", updateListingHandler(logger))
	broker.POST("/inventory/:id/remove", removeListingHandler(logger))
	broker.POST("/inventory/images", uploadListingImageHandler())
	broker.POST("/inventory/images/remove", removeListingImageHandler())
	broker.PUT("/inventory/:id/images", attachPropertyImagesHandler())
	broker.POST("/slots", createSlotHandler())
	broker.POST("/slots/cancel", cancelSlotHandler(logger))
	broker.GET("/visits", brokerVisitsHandler())
	broker.POST("/visits/send-otp", sendVisitOTPHandler(logger))
	broker.POST("/visits/complete", completeVisitHandler(logger))
	broker.GET("/flags", brokerOwnFlagsHandler())

	rm := r.Group("/rm")
	rm.Use(middlewares.RequireRoles(string(models.UserRoleRM)))
	rm.GET("/duplicate-queue", duplicateQueueHandler())
	rm.POST("/duplicate-review", duplicateReviewHandler(logger))
	rm.GET("/emergency-queue", emergencyQueueHandler())
	rm.POST("/emergency-review", emergencyReviewHandler(logger))

	srm := r.Group("/srm")
	srm.Use(middlewares.RequireRoles(string(models.UserRoleSRM)))
	srm.GET("/escalations", escalationQueueHandler())
	srm.POST("/escalation-review", escalationReviewHandler(logger))

	staff := r.Group("")
	staff.Use(middlewares.RequireRoles(string(models.UserRoleRM), string(models.UserRoleSRM)))
	staff.GET("/leads", listLeadsHandler())
	staff.POST("/leads/import-now", importLeadsNowHandler(logger))
	staff.GET("/whatsapp/messages", listWhatsAppMessagesHandler())
	staff.POST("/whatsapp/send-test", sendTestMessageHandler())
	staff.GET("/flags/:brokerId", brokerFlagsHandler())
	staff.GET("/reports/funnel", funnelReportHandler())
	staff.GET("/reports/broker-reliability", brokerReliabilityReportHandler())
	staff.GET("/reports/visit-counts", visitCountsReportHandler())
	staff.GET("/reports/export.csv", exportCSVHandler())
	staff.GET("/reports/broker-reliability.xlsx", exportBrokerReliabilityExcelHandler())

	ops := r.Group("/internal/ops")
	ops.Use(middlewares.RequireRoles(string(models.UserRoleSRM)))
	ops.POST("/outbox/replay", outboxReplayHandler())
	ops.POST("/sweep", manualSweepHandler(logger))

	r.NoRoute(customNotFoundHandler)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	registerRoutes(r, logger)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables. Allow disabling migrations
	// on startup and running them as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
		if err := models.SeedWhatsAppTemplates(context.Background()); err != nil {
			logger.WithFields(logrus.Fields{"field": "seed"}).Warn("template seeding failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Background workers: outbox publisher, integrity sweep, lead sync.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)
	go workflow.RunSweepLoop(workerCtx, logger, sweepInterval())
	go leadsync.RunSyncLoop(workerCtx, logger)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func sweepInterval() time.Duration {
	if v := strings.TrimSpace(os.Getenv("SWEEP_INTERVAL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Minute
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
