package practice

import (
	"context"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/dispatch"
	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/internal/scheduling"
	"github.com/kestrelhealth/dentalbridge/internal/slots"
	"github.com/kestrelhealth/dentalbridge/internal/syncer"
)

// Runtime is the assembled integration stack for one practice. It implements
// scheduling.AppointmentProvider so callers never reach into the underlying
// client directly.
type Runtime struct {
	practiceID string
	clinicID   int64
	location   *time.Location

	client     *opendental.Client
	dispatcher *dispatch.Dispatcher
	resolver   *slots.Resolver
	syncer     *syncer.Syncer
}

var _ scheduling.AppointmentProvider = (*Runtime)(nil)

// Name identifies the backing integration.
func (rt *Runtime) Name() string { return "opendental" }

// PracticeID returns the directory id this runtime serves.
func (rt *Runtime) PracticeID() string { return rt.practiceID }

// Location returns the practice's local timezone.
func (rt *Runtime) Location() *time.Location { return rt.location }

// Dispatch executes a call-log task against the practice.
func (rt *Runtime) Dispatch(ctx context.Context, task scheduling.Task) (scheduling.DispatchResult, error) {
	return rt.dispatcher.Dispatch(ctx, task)
}

// AvailableSlots searches openings grouped per provider per day.
func (rt *Runtime) AvailableSlots(ctx context.Context, req scheduling.SlotRequest) ([]scheduling.ProviderOffering, error) {
	return rt.resolver.AvailableSlots(ctx, req)
}

// CheckOperatoryAvailability reports whether the operatory is free for the
// whole window.
func (rt *Runtime) CheckOperatoryAvailability(ctx context.Context, operatoryID int64, window ehr.TimeWindow) (ehr.Availability, error) {
	return rt.resolver.CheckAvailability(ctx, operatoryID, window)
}

// Syncer returns the practice's bulk syncer; nil when no store is configured.
func (rt *Runtime) Syncer() *syncer.Syncer { return rt.syncer }

// Client exposes the typed API client for read paths that need it.
func (rt *Runtime) Client() *opendental.Client { return rt.client }
