package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
)

// TaskKind discriminates the finite set of call-log task types.
type TaskKind string

const (
	TaskCancel     TaskKind = "cancel"
	TaskReschedule TaskKind = "reschedule"
	TaskCreate     TaskKind = "create_appointment"
	TaskOnboard    TaskKind = "onboard_new_patient"
)

// Task is a single action request derived from a call log. Each concrete
// kind carries only the payload its kind requires. Tasks are consumed
// exactly once by a dispatcher and never persisted here.
type Task interface {
	Kind() TaskKind
	// ID identifies the task for logging and result correlation.
	ID() uuid.UUID
	// PracticeID names the practice the task targets.
	PracticeID() string
}

// CancelTask breaks an existing appointment.
type CancelTask struct {
	TaskID   uuid.UUID
	Practice string
	// AppointmentID is the remote appointment identifier.
	AppointmentID int64
	// ToUnscheduledList controls whether the freed slot is returned to the
	// unscheduled pool instead of being discarded.
	ToUnscheduledList bool
}

func (t CancelTask) Kind() TaskKind     { return TaskCancel }
func (t CancelTask) ID() uuid.UUID      { return t.TaskID }
func (t CancelTask) PracticeID() string { return t.Practice }

// RescheduleTask breaks an appointment and recreates it at a new start time,
// carrying the old appointment's patient, provider and operatory forward.
type RescheduleTask struct {
	TaskID        uuid.UUID
	Practice      string
	AppointmentID int64
	NewStart      time.Time
}

func (t RescheduleTask) Kind() TaskKind     { return TaskReschedule }
func (t RescheduleTask) ID() uuid.UUID      { return t.TaskID }
func (t RescheduleTask) PracticeID() string { return t.Practice }

// CreateAppointmentTask books a new appointment for an existing patient.
type CreateAppointmentTask struct {
	TaskID    uuid.UUID
	Practice  string
	PatientID int64
	// ProviderID is required; OperatoryID is resolved through the slot
	// search when zero.
	ProviderID  int64
	OperatoryID int64
	Start       time.Time
	Duration    time.Duration
	Notes       string
}

func (t CreateAppointmentTask) Kind() TaskKind     { return TaskCreate }
func (t CreateAppointmentTask) ID() uuid.UUID      { return t.TaskID }
func (t CreateAppointmentTask) PracticeID() string { return t.Practice }

// OnboardPatientTask registers a new patient, reusing an existing remote
// record when the remote system reports the patient already exists, and
// optionally books a first appointment.
type OnboardPatientTask struct {
	TaskID   uuid.UUID
	Practice string
	Patient  ehr.Patient
	// Appointment holds optional first-appointment details; nil means
	// onboarding stops after the patient record.
	Appointment *CreateAppointmentTask
}

func (t OnboardPatientTask) Kind() TaskKind     { return TaskOnboard }
func (t OnboardPatientTask) ID() uuid.UUID      { return t.TaskID }
func (t OnboardPatientTask) PracticeID() string { return t.Practice }

// DispatchState is a terminal (or intermediate, for logging) state of one
// task execution.
type DispatchState string

const (
	StateReceived   DispatchState = "received"
	StateValidating DispatchState = "validating"
	StateExecuting  DispatchState = "executing"
	StateCompleted  DispatchState = "completed"
	StateRejected   DispatchState = "rejected"
	StateFailed     DispatchState = "failed"
)

// DispatchResult is the outcome of a single task execution.
type DispatchResult struct {
	TaskID uuid.UUID
	Kind   TaskKind
	State  DispatchState
	// Detail is an operator-facing description of the outcome.
	Detail string
	// AppointmentID is set when the task created or targeted an appointment.
	AppointmentID int64
	// PatientID is set when onboarding created or reused a patient record.
	PatientID int64
	// PartialMutation marks outcomes where the remote system was changed
	// before the failure (e.g. reschedule broke the old appointment but
	// could not create the new one). These need operator intervention and
	// are distinct from failures with no remote side effects.
	PartialMutation bool
}
