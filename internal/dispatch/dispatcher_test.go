package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/internal/scheduling"
)

type fakeClient struct {
	appointments map[int64]ehr.Appointment
	patients     []ehr.Patient

	broken        []int64
	brokenToList  []bool
	created       []ehr.Appointment
	createErr     error
	createPatErr  error
	nextApptID    int64
	nextPatientID int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		appointments:  make(map[int64]ehr.Appointment),
		nextApptID:    900,
		nextPatientID: 500,
	}
}

func (f *fakeClient) GetAppointment(_ context.Context, id int64) (ehr.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return ehr.Appointment{}, opendental.ErrNotFound
	}
	return a, nil
}

func (f *fakeClient) CreateAppointment(_ context.Context, a ehr.Appointment) (ehr.Appointment, error) {
	if f.createErr != nil {
		return ehr.Appointment{}, f.createErr
	}
	f.nextApptID++
	a.ID = f.nextApptID
	f.created = append(f.created, a)
	f.appointments[a.ID] = a
	return a, nil
}

func (f *fakeClient) BreakAppointment(_ context.Context, id int64, toUnscheduledList bool) error {
	if _, ok := f.appointments[id]; !ok {
		return opendental.ErrNotFound
	}
	f.broken = append(f.broken, id)
	f.brokenToList = append(f.brokenToList, toUnscheduledList)
	a := f.appointments[id]
	a.Status = ehr.AppointmentBroken
	f.appointments[id] = a
	return nil
}

func (f *fakeClient) CreatePatient(_ context.Context, p ehr.Patient) (ehr.Patient, error) {
	if f.createPatErr != nil {
		return ehr.Patient{}, f.createPatErr
	}
	f.nextPatientID++
	p.ID = f.nextPatientID
	f.patients = append(f.patients, p)
	return p, nil
}

func (f *fakeClient) ListPatients(_ context.Context, q opendental.PatientQuery) ([]ehr.Patient, error) {
	var out []ehr.Patient
	for _, p := range f.patients {
		if q.LastName != "" && p.LastName != q.LastName {
			continue
		}
		if q.FirstName != "" && p.FirstName != q.FirstName {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type fakeChecker struct {
	available   bool
	reason      string
	checkErr    error
	lastWindow  ehr.TimeWindow
	lastOp      int64
	lastIgnore  []int64
	resolvedOp  int64
	resolveErr  error
	resolveHits int
}

func (f *fakeChecker) CheckAvailability(_ context.Context, operatoryID int64, window ehr.TimeWindow, ignore ...int64) (ehr.Availability, error) {
	f.lastOp = operatoryID
	f.lastWindow = window
	f.lastIgnore = ignore
	if f.checkErr != nil {
		return ehr.Availability{}, f.checkErr
	}
	return ehr.Availability{Available: f.available, Reason: f.reason}, nil
}

func (f *fakeChecker) ResolveOperatory(context.Context, int64, ehr.TimeWindow) (int64, error) {
	f.resolveHits++
	if f.resolveErr != nil {
		return 0, f.resolveErr
	}
	return f.resolvedOp, nil
}

func newTestDispatcher(t *testing.T, client *fakeClient, checker *fakeChecker) *Dispatcher {
	t.Helper()
	d, err := New(Config{Practice: "smiles-dsm", Client: client, Checker: checker})
	require.NoError(t, err)
	return d
}

func at(h, m int) time.Time {
	return time.Date(2026, 3, 9, h, m, 0, 0, time.UTC)
}

func TestDispatchCancelCompletes(t *testing.T) {
	client := newFakeClient()
	client.appointments[501] = ehr.Appointment{ID: 501, Status: ehr.AppointmentScheduled}
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.CancelTask{
		TaskID:            uuid.New(),
		Practice:          "smiles-dsm",
		AppointmentID:     501,
		ToUnscheduledList: true,
	})

	require.NoError(t, err)
	assert.Equal(t, scheduling.StateCompleted, result.State)
	assert.Equal(t, int64(501), result.AppointmentID)
	require.Equal(t, []int64{501}, client.broken)
	assert.True(t, client.brokenToList[0])
}

func TestDispatchCancelMissingIDRejected(t *testing.T) {
	client := newFakeClient()
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.CancelTask{TaskID: uuid.New()})

	var verr *opendental.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "AppointmentID", verr.Field)
	assert.Equal(t, scheduling.StateRejected, result.State)
	assert.Empty(t, client.broken, "rejected tasks must not touch the remote system")
}

func TestDispatchCancelRemoteFailure(t *testing.T) {
	client := newFakeClient()
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.CancelTask{
		TaskID:        uuid.New(),
		AppointmentID: 999,
	})

	var dfe *DispatchFailedError
	require.ErrorAs(t, err, &dfe)
	assert.Equal(t, scheduling.StateFailed, result.State)
	assert.False(t, result.PartialMutation)
}

func TestDispatchRescheduleCarriesOldAppointmentForward(t *testing.T) {
	client := newFakeClient()
	client.appointments[501] = ehr.Appointment{
		ID: 501, PatientID: 118, ProviderID: 3, HygienistID: 9, OperatoryID: 4,
		Start: at(9, 0), Duration: 45 * time.Minute,
		Status: ehr.AppointmentScheduled, Notes: "crown prep", ClinicID: 2,
	}
	checker := &fakeChecker{available: true}
	d := newTestDispatcher(t, client, checker)

	result, err := d.Dispatch(context.Background(), scheduling.RescheduleTask{
		TaskID:        uuid.New(),
		AppointmentID: 501,
		NewStart:      at(14, 0),
	})

	require.NoError(t, err)
	assert.Equal(t, scheduling.StateCompleted, result.State)

	// The availability check excluded the appointment being moved.
	assert.Equal(t, []int64{501}, checker.lastIgnore)
	assert.Equal(t, ehr.TimeWindow{Start: at(14, 0), End: at(14, 45)}, checker.lastWindow)

	require.Equal(t, []int64{501}, client.broken)
	require.Len(t, client.created, 1)
	created := client.created[0]
	assert.Equal(t, int64(118), created.PatientID)
	assert.Equal(t, int64(3), created.ProviderID)
	assert.Equal(t, int64(9), created.HygienistID)
	assert.Equal(t, int64(4), created.OperatoryID)
	assert.Equal(t, at(14, 0), created.Start)
	assert.Equal(t, 45*time.Minute, created.Duration)
	assert.Equal(t, "crown prep", created.Notes)
	assert.Equal(t, ehr.AppointmentScheduled, created.Status)
	assert.Equal(t, created.ID, result.AppointmentID)
}

func TestDispatchRescheduleBusyWindowLeavesOldAppointment(t *testing.T) {
	client := newFakeClient()
	client.appointments[501] = ehr.Appointment{
		ID: 501, OperatoryID: 4, Start: at(9, 0), Duration: 30 * time.Minute,
		Status: ehr.AppointmentScheduled,
	}
	d := newTestDispatcher(t, client, &fakeChecker{available: false, reason: "operatory 4 is booked"})

	result, err := d.Dispatch(context.Background(), scheduling.RescheduleTask{
		TaskID:        uuid.New(),
		AppointmentID: 501,
		NewStart:      at(14, 0),
	})

	var dfe *DispatchFailedError
	require.ErrorAs(t, err, &dfe)
	assert.Equal(t, "check availability", dfe.Step)
	assert.False(t, dfe.PartialMutation)
	assert.Equal(t, scheduling.StateFailed, result.State)
	assert.False(t, result.PartialMutation)
	assert.Empty(t, client.broken, "the old appointment must survive an unavailable target window")
	assert.Empty(t, client.created)
}

func TestDispatchCreateBusyWindowFailsWithoutBooking(t *testing.T) {
	client := newFakeClient()
	d := newTestDispatcher(t, client, &fakeChecker{available: false, reason: "operatory 4 is booked"})

	result, err := d.Dispatch(context.Background(), scheduling.CreateAppointmentTask{
		TaskID:      uuid.New(),
		PatientID:   118,
		ProviderID:  3,
		OperatoryID: 4,
		Start:       at(10, 0),
		Duration:    30 * time.Minute,
	})

	var dfe *DispatchFailedError
	require.ErrorAs(t, err, &dfe)
	assert.False(t, dfe.PartialMutation)
	assert.Equal(t, scheduling.StateFailed, result.State)
	assert.False(t, result.PartialMutation)
	assert.Empty(t, client.created)
}

func TestDispatchReschedulePartialFailureIsDistinct(t *testing.T) {
	client := newFakeClient()
	client.appointments[501] = ehr.Appointment{
		ID: 501, OperatoryID: 4, Start: at(9, 0), Duration: 30 * time.Minute,
		Status: ehr.AppointmentScheduled,
	}
	client.createErr = &opendental.RemoteUnavailableError{Status: 503}
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.RescheduleTask{
		TaskID:        uuid.New(),
		AppointmentID: 501,
		NewStart:      at(14, 0),
	})

	var dfe *DispatchFailedError
	require.ErrorAs(t, err, &dfe)
	assert.True(t, dfe.PartialMutation)
	assert.Equal(t, scheduling.StateFailed, result.State)
	assert.True(t, result.PartialMutation)
	assert.Contains(t, err.Error(), "left broken")
	require.Equal(t, []int64{501}, client.broken)
}

func TestDispatchCreateResolvesOperatory(t *testing.T) {
	client := newFakeClient()
	checker := &fakeChecker{available: true, resolvedOp: 6}
	d := newTestDispatcher(t, client, checker)

	result, err := d.Dispatch(context.Background(), scheduling.CreateAppointmentTask{
		TaskID:     uuid.New(),
		PatientID:  118,
		ProviderID: 3,
		Start:      at(10, 0),
		Duration:   30 * time.Minute,
	})

	require.NoError(t, err)
	assert.Equal(t, scheduling.StateCompleted, result.State)
	assert.Equal(t, 1, checker.resolveHits)
	require.Len(t, client.created, 1)
	assert.Equal(t, int64(6), client.created[0].OperatoryID)
}

func TestDispatchCreateUsesNamedOperatory(t *testing.T) {
	client := newFakeClient()
	checker := &fakeChecker{available: true}
	d := newTestDispatcher(t, client, checker)

	_, err := d.Dispatch(context.Background(), scheduling.CreateAppointmentTask{
		TaskID:      uuid.New(),
		PatientID:   118,
		ProviderID:  3,
		OperatoryID: 4,
		Start:       at(10, 0),
		Duration:    30 * time.Minute,
	})

	require.NoError(t, err)
	assert.Zero(t, checker.resolveHits)
	assert.Equal(t, int64(4), checker.lastOp)
}

func TestDispatchCreateMissingProviderRejected(t *testing.T) {
	d := newTestDispatcher(t, newFakeClient(), &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.CreateAppointmentTask{
		TaskID:    uuid.New(),
		PatientID: 118,
		Start:     at(10, 0),
		Duration:  30 * time.Minute,
	})

	var verr *opendental.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ProviderID", verr.Field)
	assert.Equal(t, scheduling.StateRejected, result.State)
}

func TestDispatchOnboardCreatesPatient(t *testing.T) {
	client := newFakeClient()
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.OnboardPatientTask{
		TaskID:  uuid.New(),
		Patient: ehr.Patient{FirstName: "Maria", LastName: "Santos"},
	})

	require.NoError(t, err)
	assert.Equal(t, scheduling.StateCompleted, result.State)
	assert.Equal(t, int64(501), result.PatientID)
	assert.Zero(t, result.AppointmentID)
}

func TestDispatchOnboardReusesDuplicatePatient(t *testing.T) {
	client := newFakeClient()
	birth := time.Date(1984, 6, 2, 0, 0, 0, 0, time.UTC)
	client.patients = []ehr.Patient{{ID: 77, FirstName: "Maria", LastName: "Santos", BirthDate: birth}}
	client.createPatErr = &opendental.BadRequestError{Message: "Patient already exists"}
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.OnboardPatientTask{
		TaskID:  uuid.New(),
		Patient: ehr.Patient{FirstName: "Maria", LastName: "Santos", BirthDate: birth},
	})

	require.NoError(t, err)
	assert.Equal(t, scheduling.StateCompleted, result.State)
	assert.Equal(t, int64(77), result.PatientID)
}

func TestDispatchOnboardAmbiguousDuplicateFails(t *testing.T) {
	client := newFakeClient()
	client.patients = []ehr.Patient{
		{ID: 77, FirstName: "Maria", LastName: "Santos"},
		{ID: 78, FirstName: "Maria", LastName: "Santos"},
	}
	client.createPatErr = &opendental.BadRequestError{Message: "Patient already exists"}
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.OnboardPatientTask{
		TaskID:  uuid.New(),
		Patient: ehr.Patient{FirstName: "Maria", LastName: "Santos"},
	})

	var dfe *DispatchFailedError
	require.ErrorAs(t, err, &dfe)
	assert.Equal(t, scheduling.StateFailed, result.State)
}

func TestDispatchOnboardWithAppointment(t *testing.T) {
	client := newFakeClient()
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.OnboardPatientTask{
		TaskID:  uuid.New(),
		Patient: ehr.Patient{FirstName: "Maria", LastName: "Santos"},
		Appointment: &scheduling.CreateAppointmentTask{
			ProviderID:  3,
			OperatoryID: 4,
			Start:       at(10, 0),
			Duration:    30 * time.Minute,
		},
	})

	require.NoError(t, err)
	assert.Equal(t, scheduling.StateCompleted, result.State)
	assert.Equal(t, int64(501), result.PatientID)
	require.Len(t, client.created, 1)
	assert.Equal(t, int64(501), client.created[0].PatientID)
	assert.Equal(t, client.created[0].ID, result.AppointmentID)
}

func TestDispatchOnboardAppointmentFailureIsPartial(t *testing.T) {
	client := newFakeClient()
	client.createErr = &opendental.RemoteUnavailableError{Status: 503}
	d := newTestDispatcher(t, client, &fakeChecker{available: true})

	result, err := d.Dispatch(context.Background(), scheduling.OnboardPatientTask{
		TaskID:  uuid.New(),
		Patient: ehr.Patient{FirstName: "Maria", LastName: "Santos"},
		Appointment: &scheduling.CreateAppointmentTask{
			ProviderID:  3,
			OperatoryID: 4,
			Start:       at(10, 0),
			Duration:    30 * time.Minute,
		},
	})

	var dfe *DispatchFailedError
	require.ErrorAs(t, err, &dfe)
	assert.True(t, dfe.PartialMutation)
	assert.Equal(t, scheduling.StateFailed, result.State)
	assert.True(t, result.PartialMutation)
	assert.Equal(t, int64(501), result.PatientID, "the created patient record is kept")
}
