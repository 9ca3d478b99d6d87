package workflow

import "time"

// SLACutoffHour splits the review-deadline rule: incidents raised before this
// local hour get the short deadline, later ones the long one.
const SLACutoffHour = 12

func slaDeadline(from time.Time, cutoffHour int) time.Time {
	if from.Hour() < cutoffHour {
		return from.Add(12 * time.Hour)
	}
	return from.Add(24 * time.Hour)
}

// CalcRMSla returns the deadline by which an RM must review a pending
// emergency claim.
func CalcRMSla(raisedAt time.Time) time.Time {
	return slaDeadline(raisedAt, SLACutoffHour)
}

// CalcSRMSla returns the deadline for SRM action after an incident escalates.
// Same clock rule as the RM deadline, anchored at escalation time.
func CalcSRMSla(escalatedAt time.Time) time.Time {
	return slaDeadline(escalatedAt, SLACutoffHour)
}
