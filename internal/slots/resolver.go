// Package slots answers availability questions: whether an operatory is free
// for a window, which operatory can host a provider at a given time, and
// which openings exist across a date range grouped for presentation.
package slots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/internal/scheduling"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

// Client is the slice of the remote client the resolver reads from.
type Client interface {
	ListAppointments(ctx context.Context, q opendental.AppointmentQuery) ([]ehr.Appointment, error)
	ListSlots(ctx context.Context, q opendental.SlotQuery) ([]ehr.Slot, error)
}

// Config wires a Resolver for one practice.
type Config struct {
	Practice string
	Client   Client
	// Location is the practice's local timezone; slot days are bucketed in it.
	Location *time.Location

	Logger *logging.Logger
}

// Resolver answers slot and availability queries for a single practice.
type Resolver struct {
	practice string
	client   Client
	loc      *time.Location
	logger   *logging.Logger
}

// New builds a Resolver. Client is required; a nil Location defaults to UTC.
func New(cfg Config) (*Resolver, error) {
	if cfg.Client == nil {
		return nil, errors.New("slots: client is required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		practice: cfg.Practice,
		client:   cfg.Client,
		loc:      loc,
		logger:   logger.Component("slots"),
	}, nil
}

// CheckAvailability reports whether the operatory is free for the whole
// window. Broken and unscheduled appointments do not block: their chair time
// has been released. Appointment ids in ignore are excluded so callers can
// test a window against everything except an appointment they are moving.
func (r *Resolver) CheckAvailability(ctx context.Context, operatoryID int64, window ehr.TimeWindow, ignore ...int64) (ehr.Availability, error) {
	booked, err := r.client.ListAppointments(ctx, opendental.AppointmentQuery{
		OperatoryID: operatoryID,
		From:        window.Start,
		To:          window.End,
	})
	if err != nil {
		return ehr.Availability{}, fmt.Errorf("slots: list appointments for operatory %d: %w", operatoryID, err)
	}

	skip := make(map[int64]bool, len(ignore))
	for _, id := range ignore {
		skip[id] = true
	}

	for _, a := range booked {
		if skip[a.ID] {
			continue
		}
		if a.Status == ehr.AppointmentBroken || a.Status == ehr.AppointmentUnscheduled {
			continue
		}
		if window.Overlaps(ehr.TimeWindow{Start: a.Start, End: a.End()}) {
			return ehr.Availability{
				Available: false,
				Reason: fmt.Sprintf("operatory %d is booked from %s to %s",
					operatoryID,
					a.Start.In(r.loc).Format("15:04"),
					a.End().In(r.loc).Format("15:04")),
			}, nil
		}
	}
	return ehr.Availability{Available: true}, nil
}

// ResolveOperatory finds an operatory with an opening that covers the whole
// window for the provider.
func (r *Resolver) ResolveOperatory(ctx context.Context, providerID int64, window ehr.TimeWindow) (int64, error) {
	openings, err := r.client.ListSlots(ctx, opendental.SlotQuery{
		From:       window.Start,
		To:         window.End,
		ProviderID: providerID,
	})
	if err != nil {
		return 0, fmt.Errorf("slots: search openings for provider %d: %w", providerID, err)
	}

	for _, s := range openings {
		if !s.Start.After(window.Start) && !s.End.Before(window.End) {
			return s.OperatoryID, nil
		}
	}
	return 0, fmt.Errorf("slots: no operatory has an opening for provider %d between %s and %s",
		providerID, window.Start.In(r.loc).Format(time.RFC3339), window.End.In(r.loc).Format(time.RFC3339))
}

// AvailableSlots searches openings and groups them by provider, then by
// calendar day in the practice timezone. Slots shorter than the requested
// duration are dropped. Providers come back in ascending id order, days and
// slots chronologically.
func (r *Resolver) AvailableSlots(ctx context.Context, req scheduling.SlotRequest) ([]scheduling.ProviderOffering, error) {
	openings, err := r.client.ListSlots(ctx, opendental.SlotQuery{
		From:        req.From,
		To:          req.To,
		ProviderID:  req.ProviderID,
		OperatoryID: req.OperatoryID,
	})
	if err != nil {
		return nil, fmt.Errorf("slots: search openings: %w", err)
	}

	usable := openings[:0:0]
	for _, s := range openings {
		if req.Duration > 0 && s.Duration() < req.Duration {
			continue
		}
		usable = append(usable, s)
	}

	sort.Slice(usable, func(i, j int) bool {
		if usable[i].ProviderID != usable[j].ProviderID {
			return usable[i].ProviderID < usable[j].ProviderID
		}
		return usable[i].Start.Before(usable[j].Start)
	})

	var offerings []scheduling.ProviderOffering
	for _, s := range usable {
		day := midnight(s.Start.In(r.loc))

		if len(offerings) == 0 || offerings[len(offerings)-1].ProviderID != s.ProviderID {
			offerings = append(offerings, scheduling.ProviderOffering{ProviderID: s.ProviderID})
		}
		offering := &offerings[len(offerings)-1]

		if len(offering.Days) == 0 || !offering.Days[len(offering.Days)-1].Day.Equal(day) {
			offering.Days = append(offering.Days, scheduling.DayOffering{Day: day})
		}
		dayOffering := &offering.Days[len(offering.Days)-1]
		dayOffering.Slots = append(dayOffering.Slots, s)
	}

	r.logger.Debug("slot search complete",
		"practice", r.practice,
		"openings", len(openings),
		"usable", len(usable),
		"providers", len(offerings),
	)
	return offerings, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
