package services

import (
	"time"

	"incident-vault-sync/internal/interfaces"
)

// IsActiveOn reports whether the incident was live at any point during the
// target calendar day, using local day boundaries. An incident counts on
// its creation day and its closure day; an open incident counts on every
// day from creation onward.
func IsActiveOn(full *interfaces.FullIncident, date time.Time) bool {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	// Built from wall-clock fields rather than dayStart plus 24h so the
	// bound stays at 23:59:59.999 on DST transition days.
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 999000000, date.Location())

	if full.CreatedAt.After(dayEnd) {
		return false
	}
	if full.ClosedAt == nil {
		return true
	}
	return !full.ClosedAt.Before(dayStart)
}
