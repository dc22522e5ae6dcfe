// Package scheduling defines the capability surface shared by all
// practice-management integrations: the task types derived from call logs,
// the dispatch outcome model, and the AppointmentProvider interface that
// each remote system implements.
package scheduling

import (
	"context"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
)

// SlotRequest describes a slot search across a date range.
type SlotRequest struct {
	From     time.Time
	To       time.Time
	Duration time.Duration
	// ProviderID and OperatoryID narrow the search when non-zero.
	ProviderID  int64
	OperatoryID int64
}

// DayOffering groups chronologically ordered slots on a single calendar day
// in the practice's local timezone.
type DayOffering struct {
	Day   time.Time // midnight in the practice timezone
	Slots []ehr.Slot
}

// ProviderOffering is the set of per-day offerings for one provider.
type ProviderOffering struct {
	ProviderID int64
	Days       []DayOffering
}

// AppointmentProvider is the interface a remote practice-management
// integration implements. The calling layer holds one value per remote
// system instead of switching on a system name.
type AppointmentProvider interface {
	// Name returns the integration identifier (e.g. "opendental").
	Name() string

	// Dispatch executes a call-log task against the remote system. The
	// returned result always carries a terminal state; err is non-nil for
	// Rejected and Failed outcomes.
	Dispatch(ctx context.Context, task Task) (DispatchResult, error)

	// AvailableSlots searches openings and groups them per provider per day.
	AvailableSlots(ctx context.Context, req SlotRequest) ([]ProviderOffering, error)

	// CheckOperatoryAvailability reports whether an operatory is free for
	// the whole window.
	CheckOperatoryAvailability(ctx context.Context, operatoryID int64, window ehr.TimeWindow) (ehr.Availability, error)
}
