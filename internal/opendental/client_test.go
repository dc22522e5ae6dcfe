package opendental

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	exec := NewExecutor(ExecutorConfig{
		Practice:    "test",
		MinInterval: time.Millisecond,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	})
	c, err := NewClient(ClientConfig{
		BaseURL:  baseURL,
		DevKey:   "dev123",
		CustKey:  "cust456",
		Practice: "test",
		Executor: exec,
		Adapter:  NewAdapter(time.UTC),
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestAuthorizationHeader(t *testing.T) {
	var gotAuth, gotContentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode([]APIPatient{})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	if _, err := c.ListPatients(context.Background(), PatientQuery{}); err != nil {
		t.Fatalf("ListPatients error: %v", err)
	}
	if gotAuth != "ODFHIR dev123/cust456" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected Content-Type header: %q", gotContentType)
	}
}

func TestListPatientsNotFoundIsEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no patients", http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	patients, err := c.ListPatients(context.Background(), PatientQuery{LastName: "Nguyen"})
	if err != nil {
		t.Fatalf("expected empty result for list 404, got error: %v", err)
	}
	if len(patients) != 0 {
		t.Fatalf("expected no patients, got %d", len(patients))
	}
}

func TestGetPatientNotFoundIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	if _, err := c.GetPatient(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBadRequestCarriesRemoteMessageAndIsNotRetried(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Birthdate is not a valid date"})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	_, err := c.GetPatient(context.Background(), 42)

	var bre *BadRequestError
	if !errors.As(err, &bre) {
		t.Fatalf("expected BadRequestError, got %v", err)
	}
	if bre.Message != "Birthdate is not a valid date" {
		t.Fatalf("unexpected message: %q", bre.Message)
	}
	if attempts != 1 {
		t.Fatalf("400 must never trigger more than one attempt, got %d", attempts)
	}
}

func TestAuthenticationFailureSurfacesImmediately(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad keys", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	_, err := c.ListProviders(context.Background(), Page{})

	var ae *AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", attempts)
	}
}

func TestServerErrorIsRetriedThenRecovers(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]APIProvider{{ProvNum: 3, FName: "Dana", LName: "Wu", Abbr: "DW"}})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	providers, err := c.ListProviders(context.Background(), Page{})
	if err != nil {
		t.Fatalf("ListProviders error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 2 retries before success, got %d attempts", attempts)
	}
	if len(providers) != 1 || providers[0].ID != 3 {
		t.Fatalf("unexpected providers: %+v", providers)
	}
}

func TestCreateAppointmentEncodesPattern(t *testing.T) {
	var got APIAppointment
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/appointments" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		got.AptNum = 900
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(got)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	created, err := c.CreateAppointment(context.Background(), testAppointment(60*time.Minute))
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if got.Pattern != "XXXXXXXXXXXX" {
		t.Fatalf("expected 12-block pattern for 60 minutes, got %q", got.Pattern)
	}
	if got.AptDateTime != "2026-03-09 09:00:00" {
		t.Fatalf("unexpected AptDateTime: %q", got.AptDateTime)
	}
	if created.ID != 900 {
		t.Fatalf("expected remote-assigned id, got %d", created.ID)
	}
}

func TestBreakAppointmentSendsUnscheduledFlag(t *testing.T) {
	var gotPath string
	var gotBody map[string]bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	if err := c.BreakAppointment(context.Background(), 501, true); err != nil {
		t.Fatalf("BreakAppointment error: %v", err)
	}
	if gotPath != "/appointments/501/Break" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if !gotBody["sendToUnscheduledList"] {
		t.Fatal("expected sendToUnscheduledList=true in request body")
	}
}

func TestRequestCounterIncrementsPerLogicalCall(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]APIOperatory{})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.ListOperatories(context.Background(), Page{}); err != nil {
			t.Fatalf("ListOperatories error: %v", err)
		}
	}
	if c.RequestCount() != 3 {
		t.Fatalf("expected request count 3, got %d", c.RequestCount())
	}
}

func testAppointment(d time.Duration) ehr.Appointment {
	return ehr.Appointment{
		PatientID:   118,
		ProviderID:  3,
		OperatoryID: 4,
		Start:       time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		Duration:    d,
		Status:      ehr.AppointmentScheduled,
	}
}
