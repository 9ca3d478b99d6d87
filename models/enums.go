package models

import (
	"encoding/json"
	"errors"
)

type UserRole string

const (
	UserRoleBroker UserRole = "BROKER"
	UserRoleRM     UserRole = "RM"
	UserRoleSRM    UserRole = "SRM"
)

func (r *UserRole) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("role must be string")
	}
	switch str {
	case "BROKER":
		*r = UserRoleBroker
	case "RM":
		*r = UserRoleRM
	case "SRM":
		*r = UserRoleSRM
	default:
		return errors.New("invalid role")
	}
	return nil
}

type PropertyStatus string

const (
	PropertyStatusActive            PropertyStatus = "active"
	PropertyStatusSold              PropertyStatus = "sold"
	PropertyStatusWithdrawn         PropertyStatus = "withdrawn"
	PropertyStatusHiddenDuplicate   PropertyStatus = "hidden_duplicate_review"
	PropertyStatusDuplicateRejected PropertyStatus = "duplicate_rejected"
	PropertyStatusBackup            PropertyStatus = "backup"
)

// DuplicateCandidateStatuses are the listing states considered when scoring a
// new/updated listing against existing stock in the same city.
var DuplicateCandidateStatuses = []PropertyStatus{
	PropertyStatusActive,
	PropertyStatusBackup,
	PropertyStatusHiddenDuplicate,
	PropertyStatusSold,
}

type SlotStatus string

const (
	SlotStatusOpen      SlotStatus = "open"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusCancelled SlotStatus = "cancelled"
	SlotStatusCompleted SlotStatus = "completed"
)

type VisitStatus string

const (
	VisitStatusScheduled           VisitStatus = "scheduled"
	VisitStatusCancelledByBroker   VisitStatus = "cancelled_by_broker"
	VisitStatusCancelledByCustomer VisitStatus = "cancelled_by_customer"
	VisitStatusRescheduled         VisitStatus = "rescheduled_by_customer"
	VisitStatusCompleted           VisitStatus = "completed"
)

type IncidentStatus string

const (
	IncidentStatusPendingRMReview     IncidentStatus = "pending_rm_review"
	IncidentStatusEscalatedToSRM      IncidentStatus = "escalated_to_srm"
	IncidentStatusApprovedEmergency   IncidentStatus = "approved_emergency"
	IncidentStatusRejectedEmergency   IncidentStatus = "rejected_emergency"
	IncidentStatusRejectedNoEmergency IncidentStatus = "rejected_no_emergency"
	IncidentStatusApprovedBySRM       IncidentStatus = "approved_by_srm"
	IncidentStatusRejectedBySRM       IncidentStatus = "rejected_by_srm"
)

// Terminal reports whether the incident can never transition again.
func (s IncidentStatus) Terminal() bool {
	switch s {
	case IncidentStatusApprovedEmergency,
		IncidentStatusRejectedEmergency,
		IncidentStatusRejectedNoEmergency,
		IncidentStatusApprovedBySRM,
		IncidentStatusRejectedBySRM:
		return true
	}
	return false
}

type TicketStatus string

const (
	TicketStatusPending  TicketStatus = "pending"
	TicketStatusResolved TicketStatus = "resolved"
)

type DuplicateDecision string

const (
	DuplicateDecisionApproveVisible DuplicateDecision = "approve_visible"
	DuplicateDecisionMarkDuplicate  DuplicateDecision = "mark_duplicate"
	DuplicateDecisionKeepBackup     DuplicateDecision = "keep_backup"
)

func (d *DuplicateDecision) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("decision must be string")
	}
	switch str {
	case "approve_visible":
		*d = DuplicateDecisionApproveVisible
	case "mark_duplicate":
		*d = DuplicateDecisionMarkDuplicate
	case "keep_backup":
		*d = DuplicateDecisionKeepBackup
	default:
		return errors.New("invalid duplicate decision")
	}
	return nil
}

type FlagStatus string

const (
	FlagStatusActive  FlagStatus = "active"
	FlagStatusDecayed FlagStatus = "decayed"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending    OutboxPublishStatus = "PENDING"
	OutboxPublishStatusProcessing OutboxPublishStatus = "PROCESSING"
	OutboxPublishStatusPublished  OutboxPublishStatus = "PUBLISHED"
	OutboxPublishStatusFailed     OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead       OutboxPublishStatus = "DEAD"
)

type MessageDirection string

const (
	MessageDirectionOutbound MessageDirection = "outbound"
	MessageDirectionInbound  MessageDirection = "inbound"
)

type MessageStatus string

const (
	MessageStatusQueued   MessageStatus = "queued"
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusReceived MessageStatus = "received"
	MessageStatusFailed   MessageStatus = "failed"
)
