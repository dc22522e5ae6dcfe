// Package dispatch executes call-log tasks against the remote
// practice-management system. Each task moves through a small state machine
// (received, validating, executing, then a terminal state) so every outcome
// is attributable to a phase: rejected tasks never touched the remote
// system, failed tasks did.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/observability/metrics"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/internal/scheduling"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

// Client is the slice of the remote client the dispatcher mutates through.
type Client interface {
	GetAppointment(ctx context.Context, id int64) (ehr.Appointment, error)
	CreateAppointment(ctx context.Context, a ehr.Appointment) (ehr.Appointment, error)
	BreakAppointment(ctx context.Context, id int64, toUnscheduledList bool) error
	CreatePatient(ctx context.Context, p ehr.Patient) (ehr.Patient, error)
	ListPatients(ctx context.Context, q opendental.PatientQuery) ([]ehr.Patient, error)
}

// AvailabilityChecker verifies an operatory is free for a window before the
// dispatcher books into it. Appointment ids passed as ignore are excluded
// from the conflict check; a reschedule must not collide with the very
// appointment it is moving.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, operatoryID int64, window ehr.TimeWindow, ignore ...int64) (ehr.Availability, error)
	// ResolveOperatory picks an operatory with an opening for the provider
	// and window when the task does not name one.
	ResolveOperatory(ctx context.Context, providerID int64, window ehr.TimeWindow) (int64, error)
}

// Config wires a Dispatcher for one practice.
type Config struct {
	Practice string
	Client   Client
	Checker  AvailabilityChecker

	Logger  *logging.Logger
	Metrics *metrics.BridgeMetrics
}

// Dispatcher executes tasks for a single practice.
type Dispatcher struct {
	practice string
	client   Client
	checker  AvailabilityChecker
	logger   *logging.Logger
	metrics  *metrics.BridgeMetrics
}

// New builds a Dispatcher. Client and Checker are required.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Client == nil {
		return nil, errors.New("dispatch: client is required")
	}
	if cfg.Checker == nil {
		return nil, errors.New("dispatch: availability checker is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		practice: cfg.Practice,
		client:   cfg.Client,
		checker:  cfg.Checker,
		logger:   logger.Component("dispatch"),
		metrics:  cfg.Metrics,
	}, nil
}

// Dispatch runs one task to a terminal state. The result always carries that
// state; err is non-nil for Rejected and Failed outcomes and nil only for
// Completed.
func (d *Dispatcher) Dispatch(ctx context.Context, task scheduling.Task) (scheduling.DispatchResult, error) {
	result := scheduling.DispatchResult{
		TaskID: task.ID(),
		Kind:   task.Kind(),
		State:  scheduling.StateReceived,
	}
	d.transition(&result, scheduling.StateValidating)

	if err := validate(task); err != nil {
		result.Detail = err.Error()
		d.terminal(&result, scheduling.StateRejected)
		return result, err
	}

	d.transition(&result, scheduling.StateExecuting)

	var err error
	switch t := task.(type) {
	case scheduling.CancelTask:
		err = d.cancel(ctx, t, &result)
	case scheduling.RescheduleTask:
		err = d.reschedule(ctx, t, &result)
	case scheduling.CreateAppointmentTask:
		err = d.create(ctx, t, &result)
	case scheduling.OnboardPatientTask:
		err = d.onboard(ctx, t, &result)
	default:
		err = &DispatchFailedError{Step: "execute task", Err: fmt.Errorf("no handler for task kind %q", task.Kind())}
	}

	// Once Executing has begun the remote system has been consulted, so the
	// only terminal states are Completed and Failed. Rejected is reserved for
	// the validation phase.
	if err != nil {
		result.Detail = err.Error()
		d.terminal(&result, scheduling.StateFailed)
		return result, err
	}

	d.terminal(&result, scheduling.StateCompleted)
	return result, nil
}

func (d *Dispatcher) cancel(ctx context.Context, t scheduling.CancelTask, result *scheduling.DispatchResult) error {
	result.AppointmentID = t.AppointmentID
	if err := d.client.BreakAppointment(ctx, t.AppointmentID, t.ToUnscheduledList); err != nil {
		return &DispatchFailedError{Step: "break appointment", Err: err}
	}
	result.Detail = fmt.Sprintf("appointment %d broken", t.AppointmentID)
	return nil
}

// reschedule verifies the target window is free before breaking anything, so
// an unavailable window fails the task with the old appointment untouched
// and nothing mutated remotely. Once the old
// appointment is broken, a create failure is surfaced with PartialMutation
// set: the patient no longer has a booked appointment.
func (d *Dispatcher) reschedule(ctx context.Context, t scheduling.RescheduleTask, result *scheduling.DispatchResult) error {
	result.AppointmentID = t.AppointmentID

	old, err := d.client.GetAppointment(ctx, t.AppointmentID)
	if err != nil {
		return &DispatchFailedError{Step: "load appointment", Err: err}
	}

	window := ehr.TimeWindow{Start: t.NewStart, End: t.NewStart.Add(old.Duration)}
	avail, err := d.checker.CheckAvailability(ctx, old.OperatoryID, window, old.ID)
	if err != nil {
		return &DispatchFailedError{Step: "check availability", Err: err}
	}
	if !avail.Available {
		return &DispatchFailedError{Step: "check availability", Err: errors.New(avail.Reason)}
	}

	if err := d.client.BreakAppointment(ctx, t.AppointmentID, false); err != nil {
		return &DispatchFailedError{Step: "break appointment", Err: err}
	}

	replacement := old
	replacement.ID = 0
	replacement.Start = t.NewStart
	replacement.Status = ehr.AppointmentScheduled
	replacement.Arrived = nil
	replacement.Seated = nil
	replacement.Dismissed = nil

	created, err := d.client.CreateAppointment(ctx, replacement)
	if err != nil {
		result.PartialMutation = true
		return &DispatchFailedError{Step: "create replacement appointment", PartialMutation: true,
			Err: fmt.Errorf("appointment %d left broken: %w", t.AppointmentID, err)}
	}

	result.AppointmentID = created.ID
	result.Detail = fmt.Sprintf("appointment %d rescheduled as %d", t.AppointmentID, created.ID)
	return nil
}

func (d *Dispatcher) create(ctx context.Context, t scheduling.CreateAppointmentTask, result *scheduling.DispatchResult) error {
	result.PatientID = t.PatientID

	window := ehr.TimeWindow{Start: t.Start, End: t.Start.Add(t.Duration)}
	operatoryID := t.OperatoryID
	if operatoryID == 0 {
		var err error
		operatoryID, err = d.checker.ResolveOperatory(ctx, t.ProviderID, window)
		if err != nil {
			return &DispatchFailedError{Step: "resolve operatory", Err: err}
		}
	}

	avail, err := d.checker.CheckAvailability(ctx, operatoryID, window)
	if err != nil {
		return &DispatchFailedError{Step: "check availability", Err: err}
	}
	if !avail.Available {
		return &DispatchFailedError{Step: "check availability", Err: errors.New(avail.Reason)}
	}

	created, err := d.client.CreateAppointment(ctx, ehr.Appointment{
		PatientID:   t.PatientID,
		ProviderID:  t.ProviderID,
		OperatoryID: operatoryID,
		Start:       t.Start,
		Duration:    t.Duration,
		Status:      ehr.AppointmentScheduled,
		Notes:       t.Notes,
	})
	if err != nil {
		return &DispatchFailedError{Step: "create appointment", Err: err}
	}

	result.AppointmentID = created.ID
	result.Detail = fmt.Sprintf("appointment %d booked", created.ID)
	return nil
}

// onboard creates the patient record first, falling back to an existing
// remote record when the remote reports a duplicate. The optional first
// appointment reuses the create flow; if it fails after the patient record
// landed, the result carries PartialMutation.
func (d *Dispatcher) onboard(ctx context.Context, t scheduling.OnboardPatientTask, result *scheduling.DispatchResult) error {
	patient, err := d.client.CreatePatient(ctx, t.Patient)
	if err != nil {
		var bre *opendental.BadRequestError
		if !errors.As(err, &bre) {
			return &DispatchFailedError{Step: "create patient", Err: err}
		}
		existing, lookupErr := d.findExisting(ctx, t.Patient)
		if lookupErr != nil {
			return &DispatchFailedError{Step: "create patient", Err: fmt.Errorf("%w (duplicate lookup also failed: %v)", err, lookupErr)}
		}
		if existing == nil {
			return &DispatchFailedError{Step: "create patient", Err: err}
		}
		d.logger.Info("reusing existing patient record",
			"practice", d.practice,
			"patient_id", existing.ID,
		)
		patient = *existing
	}

	result.PatientID = patient.ID
	result.Detail = fmt.Sprintf("patient %d onboarded", patient.ID)

	if t.Appointment == nil {
		return nil
	}

	appt := *t.Appointment
	appt.PatientID = patient.ID
	if err := d.create(ctx, appt, result); err != nil {
		result.PartialMutation = true
		var dfe *DispatchFailedError
		if errors.As(err, &dfe) {
			dfe.PartialMutation = true
			dfe.Err = fmt.Errorf("patient %d created but first appointment was not booked: %w", patient.ID, dfe.Err)
			return dfe
		}
		return &DispatchFailedError{Step: "book first appointment", PartialMutation: true,
			Err: fmt.Errorf("patient %d created but first appointment was not booked: %w", patient.ID, err)}
	}
	result.Detail = fmt.Sprintf("patient %d onboarded, appointment %d booked", patient.ID, result.AppointmentID)
	return nil
}

// findExisting looks up a remote patient matching the onboarding payload by
// name, then narrows by birthdate when one is on file. Returns nil when no
// unambiguous match exists.
func (d *Dispatcher) findExisting(ctx context.Context, p ehr.Patient) (*ehr.Patient, error) {
	candidates, err := d.client.ListPatients(ctx, opendental.PatientQuery{
		LastName:  p.LastName,
		FirstName: p.FirstName,
	})
	if err != nil {
		return nil, err
	}

	var matches []ehr.Patient
	for _, c := range candidates {
		if !p.BirthDate.IsZero() && !c.BirthDate.Equal(p.BirthDate) {
			continue
		}
		matches = append(matches, c)
	}
	if len(matches) != 1 {
		return nil, nil
	}
	return &matches[0], nil
}

func validate(task scheduling.Task) error {
	switch t := task.(type) {
	case scheduling.CancelTask:
		if t.AppointmentID <= 0 {
			return &opendental.ValidationError{Field: "AppointmentID", Reason: "required"}
		}
	case scheduling.RescheduleTask:
		if t.AppointmentID <= 0 {
			return &opendental.ValidationError{Field: "AppointmentID", Reason: "required"}
		}
		if t.NewStart.IsZero() {
			return &opendental.ValidationError{Field: "NewStart", Reason: "required"}
		}
	case scheduling.CreateAppointmentTask:
		return validateCreate(t, true)
	case scheduling.OnboardPatientTask:
		if t.Patient.FirstName == "" || t.Patient.LastName == "" {
			return &opendental.ValidationError{Field: "Patient", Reason: "first and last name are required"}
		}
		if t.Appointment != nil {
			return validateCreate(*t.Appointment, false)
		}
	default:
		return &opendental.ValidationError{Field: "Kind", Reason: fmt.Sprintf("unsupported task kind %q", task.Kind())}
	}
	return nil
}

func validateCreate(t scheduling.CreateAppointmentTask, requirePatient bool) error {
	if requirePatient && t.PatientID <= 0 {
		return &opendental.ValidationError{Field: "PatientID", Reason: "required"}
	}
	if t.ProviderID <= 0 {
		return &opendental.ValidationError{Field: "ProviderID", Reason: "required"}
	}
	if t.Start.IsZero() {
		return &opendental.ValidationError{Field: "Start", Reason: "required"}
	}
	if t.Duration <= 0 {
		return &opendental.ValidationError{Field: "Duration", Reason: "must be positive"}
	}
	return nil
}

func (d *Dispatcher) transition(result *scheduling.DispatchResult, next scheduling.DispatchState) {
	d.logger.Debug("task state change",
		"practice", d.practice,
		"task_id", result.TaskID.String(),
		"kind", string(result.Kind),
		"from", string(result.State),
		"to", string(next),
	)
	result.State = next
}

func (d *Dispatcher) terminal(result *scheduling.DispatchResult, state scheduling.DispatchState) {
	d.transition(result, state)
	d.metrics.ObserveDispatch(string(result.Kind), string(state))
	d.logger.Info("task finished",
		"practice", d.practice,
		"task_id", result.TaskID.String(),
		"kind", string(result.Kind),
		"state", string(state),
		"partial_mutation", result.PartialMutation,
		"detail", result.Detail,
	)
}
