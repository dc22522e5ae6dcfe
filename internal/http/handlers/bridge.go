// Package handlers exposes the bridge over HTTP: bulk sync triggers, task
// dispatch, slot search and availability checks, all scoped to a practice id
// in the URL.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kestrelhealth/dentalbridge/internal/dispatch"
	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/internal/practice"
	"github.com/kestrelhealth/dentalbridge/internal/scheduling"
	"github.com/kestrelhealth/dentalbridge/internal/syncer"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

// BridgeHandler serves the practice-scoped bridge endpoints.
type BridgeHandler struct {
	registry *practice.Registry
	logger   *logging.Logger
}

// NewBridgeHandler wires the handler over the practice registry.
func NewBridgeHandler(registry *practice.Registry, logger *logging.Logger) *BridgeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BridgeHandler{registry: registry, logger: logger.Component("http")}
}

// HealthCheck reports liveness.
func (h *BridgeHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sync runs a bulk sync of one entity collection for a practice.
// POST /practices/{practiceID}/sync/{entity}
func (h *BridgeHandler) Sync(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}
	sy := rt.Syncer()
	if sy == nil {
		writeError(w, http.StatusNotImplemented, "sync is not configured (no database)")
		return
	}

	var (
		n   int
		err error
	)
	entity := chi.URLParam(r, "entity")
	switch syncer.EntityKind(entity) {
	case syncer.EntityPatients:
		n, err = sy.SyncPatients(r.Context())
	case syncer.EntityProviders:
		n, err = sy.SyncProviders(r.Context())
	case syncer.EntityOperatories:
		n, err = sy.SyncOperatories(r.Context())
	case syncer.EntityAppointments:
		from, to, perr := appointmentWindow(r)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		n, err = sy.SyncAppointments(r.Context(), from, to)
	default:
		writeError(w, http.StatusNotFound, "unknown entity "+entity)
		return
	}

	if err != nil {
		var sie *syncer.SyncIncompleteError
		if errors.As(err, &sie) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":     sie.Error(),
				"entity":    string(sie.Kind),
				"committed": sie.Committed,
			})
			return
		}
		h.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity, "records": n})
}

// taskEnvelope is the wire form of a dispatch request.
type taskEnvelope struct {
	Kind string `json:"kind"`

	// cancel / reschedule
	AppointmentID     int64     `json:"appointmentId,omitempty"`
	ToUnscheduledList bool      `json:"toUnscheduledList,omitempty"`
	NewStart          time.Time `json:"newStart,omitempty"`

	// create_appointment
	PatientID       int64     `json:"patientId,omitempty"`
	ProviderID      int64     `json:"providerId,omitempty"`
	OperatoryID     int64     `json:"operatoryId,omitempty"`
	Start           time.Time `json:"start,omitempty"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	Notes           string    `json:"notes,omitempty"`

	// onboard_new_patient
	Patient     *patientPayload `json:"patient,omitempty"`
	Appointment *taskEnvelope   `json:"appointment,omitempty"`
}

type patientPayload struct {
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email,omitempty"`
	WirelessPhone string    `json:"wirelessPhone,omitempty"`
	BirthDate     time.Time `json:"birthDate,omitempty"`
}

func (p patientPayload) toDomain() ehr.Patient {
	return ehr.Patient{
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.Email,
		WirelessPhone: p.WirelessPhone,
		BirthDate:     p.BirthDate,
		Status:        ehr.PatientStatusActive,
	}
}

// Dispatch executes one call-log task.
// POST /practices/{practiceID}/tasks
func (h *BridgeHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	var env taskEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task payload: "+err.Error())
		return
	}
	task, err := env.toTask(rt.PracticeID())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := rt.Dispatch(r.Context(), task)
	status := http.StatusOK
	switch result.State {
	case scheduling.StateRejected:
		status = http.StatusUnprocessableEntity
	case scheduling.StateFailed:
		status = http.StatusBadGateway
	}

	body := map[string]any{
		"taskId":          result.TaskID.String(),
		"kind":            string(result.Kind),
		"state":           string(result.State),
		"detail":          result.Detail,
		"partialMutation": result.PartialMutation,
	}
	if result.AppointmentID != 0 {
		body["appointmentId"] = result.AppointmentID
	}
	if result.PatientID != 0 {
		body["patientId"] = result.PatientID
	}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

// Slots searches grouped openings.
// GET /practices/{practiceID}/slots
func (h *BridgeHandler) Slots(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	req := scheduling.SlotRequest{
		From:        from,
		To:          to,
		ProviderID:  parseID(q.Get("providerId")),
		OperatoryID: parseID(q.Get("operatoryId")),
	}
	if mins := parseID(q.Get("durationMinutes")); mins > 0 {
		req.Duration = time.Duration(mins) * time.Minute
	}

	offerings, err := rt.AvailableSlots(r.Context(), req)
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": offerings})
}

// Availability checks one operatory window.
// GET /practices/{practiceID}/availability
func (h *BridgeHandler) Availability(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.runtime(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	operatoryID := parseID(q.Get("operatoryId"))
	if operatoryID <= 0 {
		writeError(w, http.StatusBadRequest, "operatoryId is required")
		return
	}
	start, err := parseTime(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}

	avail, err := rt.CheckOperatoryAvailability(r.Context(), operatoryID, ehr.TimeWindow{Start: start, End: end})
	if err != nil {
		h.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": avail.Available,
		"reason":    avail.Reason,
	})
}

func (h *BridgeHandler) runtime(w http.ResponseWriter, r *http.Request) (*practice.Runtime, bool) {
	id := chi.URLParam(r, "practiceID")
	rt, err := h.registry.Runtime(id)
	if err != nil {
		if errors.Is(err, practice.ErrUnknownPractice) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			h.logger.Error("practice runtime unavailable", "practice", id, "error", err)
			writeError(w, http.StatusInternalServerError, "practice runtime unavailable")
		}
		return nil, false
	}
	return rt, true
}

// writeTaxonomyError maps bridge errors onto HTTP statuses.
func (h *BridgeHandler) writeTaxonomyError(w http.ResponseWriter, err error) {
	var (
		verr *opendental.ValidationError
		bre  *opendental.BadRequestError
		ae   *opendental.AuthenticationError
		rle  *opendental.RateLimitedError
		rue  *opendental.RemoteUnavailableError
		dfe  *dispatch.DispatchFailedError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &bre):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &ae):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &rle):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &rue), errors.As(err, &dfe):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, opendental.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("unclassified bridge error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (e taskEnvelope) toTask(practiceID string) (scheduling.Task, error) {
	id := uuid.New()
	switch scheduling.TaskKind(e.Kind) {
	case scheduling.TaskCancel:
		return scheduling.CancelTask{
			TaskID:            id,
			Practice:          practiceID,
			AppointmentID:     e.AppointmentID,
			ToUnscheduledList: e.ToUnscheduledList,
		}, nil
	case scheduling.TaskReschedule:
		return scheduling.RescheduleTask{
			TaskID:        id,
			Practice:      practiceID,
			AppointmentID: e.AppointmentID,
			NewStart:      e.NewStart,
		}, nil
	case scheduling.TaskCreate:
		return e.toCreateTask(id, practiceID), nil
	case scheduling.TaskOnboard:
		if e.Patient == nil {
			return nil, errors.New("onboard_new_patient requires a patient")
		}
		task := scheduling.OnboardPatientTask{
			TaskID:   id,
			Practice: practiceID,
			Patient:  e.Patient.toDomain(),
		}
		if e.Appointment != nil {
			appt := e.Appointment.toCreateTask(id, practiceID)
			task.Appointment = &appt
		}
		return task, nil
	default:
		return nil, errors.New("unknown task kind " + strconv.Quote(e.Kind))
	}
}

func (e taskEnvelope) toCreateTask(id uuid.UUID, practiceID string) scheduling.CreateAppointmentTask {
	return scheduling.CreateAppointmentTask{
		TaskID:      id,
		Practice:    practiceID,
		PatientID:   e.PatientID,
		ProviderID:  e.ProviderID,
		OperatoryID: e.OperatoryID,
		Start:       e.Start,
		Duration:    time.Duration(e.DurationMinutes) * time.Minute,
		Notes:       e.Notes,
	}
}

func appointmentWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	if q.Get("from") == "" && q.Get("to") == "" {
		return time.Time{}, time.Time{}, nil
	}
	from, err := parseTime(q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from: " + err.Error())
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to: " + err.Error())
	}
	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseID(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
