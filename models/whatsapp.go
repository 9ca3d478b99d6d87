package models

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
	"gorm.io/gorm"
)

const (
	WhatsAppLang     = "en"
	WhatsAppProvider = "mock_whatsapp_provider"
)

type WhatsAppTemplate struct {
	ID           int       `gorm:"primary_key" json:"id"`
	TemplateName string    `gorm:"size:100;not null;index:uniq_template,unique" json:"template_name"`
	Language     string    `gorm:"size:10;not null;index:uniq_template,unique" json:"language"`
	Body         string    `gorm:"type:text;not null" json:"body"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type WhatsAppMessage struct {
	ID                int              `gorm:"primary_key" json:"id"`
	Direction         MessageDirection `gorm:"size:10;not null" json:"direction"`
	Source            string           `gorm:"size:50;not null" json:"source"`
	Provider          string           `gorm:"size:50;not null" json:"provider"`
	ToPhone           string           `gorm:"size:20;index" json:"to_phone"`
	FromPhone         string           `gorm:"size:20" json:"from_phone"`
	TemplateName      string           `gorm:"size:100" json:"template_name"`
	Language          string           `gorm:"size:10" json:"language"`
	MessageText       string           `gorm:"type:text" json:"message_text"`
	Payload           []byte           `gorm:"type:json" json:"payload"`
	Status            MessageStatus    `gorm:"size:20;not null" json:"status"`
	ProviderMessageId string           `gorm:"size:50" json:"provider_message_id"`
	RelatedVisitId    *int             `gorm:"index" json:"related_visit_id"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

type WhatsAppWebhookEvent struct {
	ID        int       `gorm:"primary_key" json:"id"`
	EventType string    `gorm:"size:50;not null;index" json:"event_type"`
	FromPhone string    `gorm:"size:20" json:"from_phone"`
	Payload   []byte    `gorm:"type:json" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

var templatePlaceholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// RenderTemplate substitutes {placeholder} tokens. Unknown placeholders are
// left as-is so a missing context value never breaks the message queueing.
func RenderTemplate(body string, context map[string]any) string {
	return templatePlaceholderRe.ReplaceAllStringFunc(body, func(m string) string {
		key := strings.Trim(m, "{}")
		if v, ok := context[key]; ok {
			return fmt.Sprint(v)
		}
		return m
	})
}

// QueueWhatsAppMessage renders the named template and records an outbound
// message with a mock provider id. Transport is an external collaborator;
// nothing here blocks on network I/O.
func QueueWhatsAppMessage(tx *gorm.DB, source string, toPhone string, templateName string, context map[string]any, relatedVisitId *int) (*WhatsAppMessage, error) {
	var tmpl WhatsAppTemplate
	err := tx.Where("template_name = ? AND language = ? AND is_active = true", templateName, WhatsAppLang).
		First(&tmpl).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NotFoundError("whatsapp template", templateName)
		}
		return nil, err
	}

	payload, err := json.Marshal(context)
	if err != nil {
		return nil, err
	}

	msg := WhatsAppMessage{
		Direction:         MessageDirectionOutbound,
		Source:            source,
		Provider:          WhatsAppProvider,
		ToPhone:           utils.NormalizePhone(toPhone),
		TemplateName:      templateName,
		Language:          WhatsAppLang,
		MessageText:       RenderTemplate(tmpl.Body, context),
		Payload:           payload,
		Status:            MessageStatusQueued,
		ProviderMessageId: "wa_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		RelatedVisitId:    relatedVisitId,
	}
	if err := tx.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// QueueVisitWhatsApp looks up the visit's customer phone and property title,
// then queues the named template with a standard context.
func QueueVisitWhatsApp(tx *gorm.DB, visitId int, templateName string, source string, extra map[string]any) error {
	var visit Visit
	if err := tx.First(&visit, visitId).Error; err != nil {
		return utils.NotFoundError("visit", visitId)
	}
	var customer Customer
	if err := tx.First(&customer, visit.CustomerId).Error; err != nil {
		return utils.NotFoundError("customer", visit.CustomerId)
	}
	var prop Property
	if err := tx.First(&prop, visit.PropertyId).Error; err != nil {
		return utils.NotFoundError("property", visit.PropertyId)
	}

	context := map[string]any{
		"visit_id":       visit.ID,
		"property_title": prop.Title,
		"start_at":       visit.StartAt.Format("2006-01-02 15:04"),
	}
	for k, v := range extra {
		context[k] = v
	}

	_, err := QueueWhatsAppMessage(tx, source, customer.PhoneNorm, templateName, context, &visit.ID)
	return err
}

func LogWhatsAppWebhookEvent(ctx context.Context, eventType string, fromPhone string, payload any) (*WhatsAppWebhookEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	event := WhatsAppWebhookEvent{
		EventType: eventType,
		FromPhone: utils.NormalizePhone(fromPhone),
		Payload:   body,
	}
	if err := db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// SeedWhatsAppTemplates inserts the default template set, skipping existing rows.
func SeedWhatsAppTemplates(ctx context.Context) error {
	templates := []WhatsAppTemplate{
		{TemplateName: "visit_confirmation", Language: WhatsAppLang,
			Body: "Visit #{visit_id} confirmed for {property_title} on {start_at}. Reply CANCEL {visit_id} to cancel."},
		{TemplateName: "visit_rescheduled_confirmation", Language: WhatsAppLang,
			Body: "Visit #{new_visit_id} rescheduled from #{old_visit_id}. New slot: {start_at} for {property_title}."},
		{TemplateName: "customer_cancel_confirmation", Language: WhatsAppLang,
			Body: "Your visit #{visit_id} has been cancelled. You can rebook anytime from available slots."},
		{TemplateName: "broker_cancel_with_priority", Language: WhatsAppLang,
			Body: "Sorry, broker cancelled visit #{visit_id}. You have priority rebooking for 48 hours till {priority_rebook_until}."},
		{TemplateName: "broker_cancel_without_priority", Language: WhatsAppLang,
			Body: "Sorry, broker cancelled visit #{visit_id}. Please select a new slot from available options."},
		{TemplateName: "otp_verification", Language: WhatsAppLang,
			Body: "Your site visit OTP is {otp}. It expires in 2 minutes."},
		{TemplateName: "customer_help", Language: WhatsAppLang,
			Body: "Commands: CANCEL <visit_id>, RESCHEDULE <visit_id> <slot_id>."},
	}

	db := config.GetDB()
	for _, tmpl := range templates {
		var count int64
		if err := db.WithContext(ctx).Model(&WhatsAppTemplate{}).
			Where("template_name = ? AND language = ?", tmpl.TemplateName, tmpl.Language).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		tmpl.IsActive = utils.NewTrue()
		if err := db.WithContext(ctx).Create(&tmpl).Error; err != nil {
			return err
		}
	}
	return nil
}
