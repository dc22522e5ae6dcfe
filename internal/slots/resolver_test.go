package slots

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/internal/scheduling"
)

type fakeClient struct {
	appointments []ehr.Appointment
	slots        []ehr.Slot
	lastApptQ    opendental.AppointmentQuery
}

func (f *fakeClient) ListAppointments(_ context.Context, q opendental.AppointmentQuery) ([]ehr.Appointment, error) {
	f.lastApptQ = q
	return f.appointments, nil
}

func (f *fakeClient) ListSlots(context.Context, opendental.SlotQuery) ([]ehr.Slot, error) {
	return f.slots, nil
}

func newTestResolver(t *testing.T, client *fakeClient, loc *time.Location) *Resolver {
	t.Helper()
	r, err := New(Config{Practice: "smiles-dsm", Client: client, Location: loc})
	require.NoError(t, err)
	return r
}

func at(h, m int) time.Time {
	return time.Date(2026, 3, 9, h, m, 0, 0, time.UTC)
}

func TestCheckAvailabilityAdjacentWindows(t *testing.T) {
	client := &fakeClient{appointments: []ehr.Appointment{
		{ID: 501, OperatoryID: 4, Start: at(9, 0), Duration: time.Hour, Status: ehr.AppointmentScheduled},
	}}
	r := newTestResolver(t, client, time.UTC)

	// Half-open windows: 9:30-10:00 collides with the 9:00-10:00 booking.
	got, err := r.CheckAvailability(context.Background(), 4, ehr.TimeWindow{Start: at(9, 30), End: at(10, 0)})
	require.NoError(t, err)
	assert.False(t, got.Available)
	assert.Contains(t, got.Reason, "operatory 4 is booked")

	// 10:00-10:30 starts exactly when the booking ends and is free.
	got, err = r.CheckAvailability(context.Background(), 4, ehr.TimeWindow{Start: at(10, 0), End: at(10, 30)})
	require.NoError(t, err)
	assert.True(t, got.Available)
}

func TestCheckAvailabilityReleasedChairTimeDoesNotBlock(t *testing.T) {
	client := &fakeClient{appointments: []ehr.Appointment{
		{ID: 501, OperatoryID: 4, Start: at(9, 0), Duration: time.Hour, Status: ehr.AppointmentBroken},
		{ID: 502, OperatoryID: 4, Start: at(9, 0), Duration: time.Hour, Status: ehr.AppointmentUnscheduled},
	}}
	r := newTestResolver(t, client, time.UTC)

	got, err := r.CheckAvailability(context.Background(), 4, ehr.TimeWindow{Start: at(9, 0), End: at(9, 30)})
	require.NoError(t, err)
	assert.True(t, got.Available)
}

func TestCheckAvailabilityIgnoresNamedAppointments(t *testing.T) {
	client := &fakeClient{appointments: []ehr.Appointment{
		{ID: 501, OperatoryID: 4, Start: at(9, 0), Duration: time.Hour, Status: ehr.AppointmentScheduled},
	}}
	r := newTestResolver(t, client, time.UTC)

	// Moving appointment 501 within its own window must not self-collide.
	got, err := r.CheckAvailability(context.Background(), 4, ehr.TimeWindow{Start: at(9, 15), End: at(10, 15)}, 501)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, int64(4), client.lastApptQ.OperatoryID)
}

func TestResolveOperatoryRequiresCoveringSlot(t *testing.T) {
	client := &fakeClient{slots: []ehr.Slot{
		{ProviderID: 3, OperatoryID: 4, Start: at(9, 0), End: at(9, 30)},
		{ProviderID: 3, OperatoryID: 6, Start: at(9, 0), End: at(11, 0)},
	}}
	r := newTestResolver(t, client, time.UTC)

	op, err := r.ResolveOperatory(context.Background(), 3, ehr.TimeWindow{Start: at(9, 30), End: at(10, 30)})
	require.NoError(t, err)
	assert.Equal(t, int64(6), op, "only operatory 6 covers the whole window")

	_, err = r.ResolveOperatory(context.Background(), 3, ehr.TimeWindow{Start: at(10, 30), End: at(11, 30)})
	require.Error(t, err)
}

func TestAvailableSlotsGroupsByProviderThenDay(t *testing.T) {
	day1 := at(9, 0)
	day2 := day1.AddDate(0, 0, 1)
	client := &fakeClient{slots: []ehr.Slot{
		// Deliberately unordered.
		{ProviderID: 7, OperatoryID: 6, Start: day1.Add(time.Hour), End: day1.Add(2 * time.Hour)},
		{ProviderID: 3, OperatoryID: 4, Start: day2, End: day2.Add(time.Hour)},
		{ProviderID: 3, OperatoryID: 4, Start: day1.Add(time.Hour), End: day1.Add(2 * time.Hour)},
		{ProviderID: 3, OperatoryID: 4, Start: day1, End: day1.Add(time.Hour)},
	}}
	r := newTestResolver(t, client, time.UTC)

	got, err := r.AvailableSlots(context.Background(), scheduling.SlotRequest{
		From: day1, To: day2.Add(24 * time.Hour), Duration: 30 * time.Minute,
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ProviderID)
	assert.Equal(t, int64(7), got[1].ProviderID)

	require.Len(t, got[0].Days, 2)
	assert.Equal(t, midnight(day1), got[0].Days[0].Day)
	assert.Equal(t, midnight(day2), got[0].Days[1].Day)

	// Slots within a day come back chronologically.
	require.Len(t, got[0].Days[0].Slots, 2)
	assert.Equal(t, day1, got[0].Days[0].Slots[0].Start)
	assert.Equal(t, day1.Add(time.Hour), got[0].Days[0].Slots[1].Start)
}

func TestAvailableSlotsDropsShortOpenings(t *testing.T) {
	client := &fakeClient{slots: []ehr.Slot{
		{ProviderID: 3, OperatoryID: 4, Start: at(9, 0), End: at(9, 15)},
		{ProviderID: 3, OperatoryID: 4, Start: at(10, 0), End: at(11, 0)},
	}}
	r := newTestResolver(t, client, time.UTC)

	got, err := r.AvailableSlots(context.Background(), scheduling.SlotRequest{
		From: at(9, 0), To: at(17, 0), Duration: 30 * time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Days, 1)
	require.Len(t, got[0].Days[0].Slots, 1)
	assert.Equal(t, at(10, 0), got[0].Days[0].Slots[0].Start)
}

func TestAvailableSlotsDaysBucketInPracticeTimezone(t *testing.T) {
	central := time.FixedZone("CST", -6*3600)
	// 02:00 UTC on March 10 is still the evening of March 9 in Central time.
	lateEvening := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	client := &fakeClient{slots: []ehr.Slot{
		{ProviderID: 3, OperatoryID: 4, Start: lateEvening, End: lateEvening.Add(time.Hour)},
	}}
	r := newTestResolver(t, client, central)

	got, err := r.AvailableSlots(context.Background(), scheduling.SlotRequest{From: at(0, 0), To: at(0, 0).AddDate(0, 0, 2)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Days, 1)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, central), got[0].Days[0].Day)
}
