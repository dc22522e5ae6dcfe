package opendental

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/observability/metrics"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

const defaultTimeout = 20 * time.Second

// ClientConfig configures a Client for one practice.
type ClientConfig struct {
	BaseURL  string
	DevKey   string
	CustKey  string
	Practice string
	Timeout  time.Duration

	// Executor is required: every remote call passes through it.
	Executor *Executor
	// Adapter is required: it carries the practice timezone.
	Adapter *Adapter

	Logger  *logging.Logger
	Metrics *metrics.BridgeMetrics
}

// Client is a typed client for the remote practice-management API. It owns
// no state beyond configuration and the diagnostic request counter; all
// outbound traffic is serialized by the injected per-practice Executor.
type Client struct {
	baseURL    string
	devKey     string
	custKey    string
	practice   string
	httpClient *http.Client
	exec       *Executor
	adapter    *Adapter
	logger     *logging.Logger
	metrics    *metrics.BridgeMetrics

	requests atomic.Int64
}

// NewClient constructs a client. Executor and Adapter must be provided.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("opendental: BaseURL is required")
	}
	if strings.TrimSpace(cfg.DevKey) == "" || strings.TrimSpace(cfg.CustKey) == "" {
		return nil, errors.New("opendental: DevKey and CustKey are required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("opendental: executor is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("opendental: adapter is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		devKey:     cfg.DevKey,
		custKey:    cfg.CustKey,
		practice:   cfg.Practice,
		httpClient: &http.Client{Timeout: timeout},
		exec:       cfg.Executor,
		adapter:    cfg.Adapter,
		logger:     logger.Component("opendental"),
		metrics:    cfg.Metrics,
	}, nil
}

// Adapter returns the adapter the client maps responses with.
func (c *Client) Adapter() *Adapter { return c.adapter }

// RequestCount returns the number of logical API calls issued so far.
func (c *Client) RequestCount() int64 { return c.requests.Load() }

// Page bounds one page of a list operation.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) apply(q url.Values) {
	if p.Limit > 0 {
		q.Set("Limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("Offset", strconv.Itoa(p.Offset))
	}
}

// PatientQuery filters a patient list.
type PatientQuery struct {
	LastName  string
	FirstName string
	Phone     string
	ClinicID  int64
	Page      Page
}

// ListPatients returns one page of patients. A remote 404 means an empty
// result, not an error.
func (c *Client) ListPatients(ctx context.Context, q PatientQuery) ([]ehr.Patient, error) {
	params := url.Values{}
	if q.LastName != "" {
		params.Set("LName", q.LastName)
	}
	if q.FirstName != "" {
		params.Set("FName", q.FirstName)
	}
	if q.Phone != "" {
		params.Set("Phone", q.Phone)
	}
	if q.ClinicID > 0 {
		params.Set("ClinicNum", strconv.FormatInt(q.ClinicID, 10))
	}
	q.Page.apply(params)

	var raw []APIPatient
	if err := c.do(ctx, http.MethodGet, "/patients", params, nil, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list patients: %w", err)
	}
	out := make([]ehr.Patient, 0, len(raw))
	for _, p := range raw {
		patient, err := c.adapter.PatientToDomain(p)
		if err != nil {
			return nil, fmt.Errorf("list patients: patient %d: %w", p.PatNum, err)
		}
		out = append(out, patient)
	}
	return out, nil
}

// GetPatient returns a patient by remote id; ErrNotFound if absent.
func (c *Client) GetPatient(ctx context.Context, id int64) (ehr.Patient, error) {
	var raw APIPatient
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/patients/%d", id), nil, nil, &raw); err != nil {
		return ehr.Patient{}, fmt.Errorf("get patient %d: %w", id, err)
	}
	return c.adapter.PatientToDomain(raw)
}

// CreatePatient creates a patient and returns the record with the remote
// identifier assigned.
func (c *Client) CreatePatient(ctx context.Context, p ehr.Patient) (ehr.Patient, error) {
	var raw APIPatient
	if err := c.do(ctx, http.MethodPost, "/patients", nil, c.adapter.PatientToRemote(p), &raw); err != nil {
		return ehr.Patient{}, fmt.Errorf("create patient: %w", err)
	}
	return c.adapter.PatientToDomain(raw)
}

// UpdatePatient updates an existing patient record.
func (c *Client) UpdatePatient(ctx context.Context, p ehr.Patient) (ehr.Patient, error) {
	var raw APIPatient
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/patients/%d", p.ID), nil, c.adapter.PatientToRemote(p), &raw); err != nil {
		return ehr.Patient{}, fmt.Errorf("update patient %d: %w", p.ID, err)
	}
	return c.adapter.PatientToDomain(raw)
}

// ListProviders returns one page of providers.
func (c *Client) ListProviders(ctx context.Context, page Page) ([]ehr.Provider, error) {
	params := url.Values{}
	page.apply(params)

	var raw []APIProvider
	if err := c.do(ctx, http.MethodGet, "/providers", params, nil, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list providers: %w", err)
	}
	out := make([]ehr.Provider, 0, len(raw))
	for _, p := range raw {
		out = append(out, c.adapter.ProviderToDomain(p))
	}
	return out, nil
}

// ListOperatories returns one page of operatories.
func (c *Client) ListOperatories(ctx context.Context, page Page) ([]ehr.Operatory, error) {
	params := url.Values{}
	page.apply(params)

	var raw []APIOperatory
	if err := c.do(ctx, http.MethodGet, "/operatories", params, nil, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list operatories: %w", err)
	}
	out := make([]ehr.Operatory, 0, len(raw))
	for _, op := range raw {
		out = append(out, c.adapter.OperatoryToDomain(op))
	}
	return out, nil
}

// AppointmentQuery filters an appointment list.
type AppointmentQuery struct {
	PatientID   int64
	OperatoryID int64
	From        time.Time
	To          time.Time
	Page        Page
}

// ListAppointments returns one page of appointments.
func (c *Client) ListAppointments(ctx context.Context, q AppointmentQuery) ([]ehr.Appointment, error) {
	params := url.Values{}
	if q.PatientID > 0 {
		params.Set("PatNum", strconv.FormatInt(q.PatientID, 10))
	}
	if q.OperatoryID > 0 {
		params.Set("Op", strconv.FormatInt(q.OperatoryID, 10))
	}
	if !q.From.IsZero() {
		params.Set("dateStart", q.From.Format(dateLayout))
	}
	if !q.To.IsZero() {
		params.Set("dateEnd", q.To.Format(dateLayout))
	}
	q.Page.apply(params)

	var raw []APIAppointment
	if err := c.do(ctx, http.MethodGet, "/appointments", params, nil, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	out := make([]ehr.Appointment, 0, len(raw))
	for _, a := range raw {
		appt, err := c.adapter.AppointmentToDomain(a)
		if err != nil {
			return nil, fmt.Errorf("list appointments: appointment %d: %w", a.AptNum, err)
		}
		out = append(out, appt)
	}
	return out, nil
}

// GetAppointment returns an appointment by remote id; ErrNotFound if absent.
func (c *Client) GetAppointment(ctx context.Context, id int64) (ehr.Appointment, error) {
	var raw APIAppointment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/appointments/%d", id), nil, nil, &raw); err != nil {
		return ehr.Appointment{}, fmt.Errorf("get appointment %d: %w", id, err)
	}
	return c.adapter.AppointmentToDomain(raw)
}

// CreateAppointment books an appointment and returns the created record.
func (c *Client) CreateAppointment(ctx context.Context, a ehr.Appointment) (ehr.Appointment, error) {
	var raw APIAppointment
	if err := c.do(ctx, http.MethodPost, "/appointments", nil, c.adapter.AppointmentToRemote(a), &raw); err != nil {
		return ehr.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	return c.adapter.AppointmentToDomain(raw)
}

// UpdateAppointment mutates an existing appointment.
func (c *Client) UpdateAppointment(ctx context.Context, a ehr.Appointment) (ehr.Appointment, error) {
	var raw APIAppointment
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/appointments/%d", a.ID), nil, c.adapter.AppointmentToRemote(a), &raw); err != nil {
		return ehr.Appointment{}, fmt.Errorf("update appointment %d: %w", a.ID, err)
	}
	return c.adapter.AppointmentToDomain(raw)
}

// BreakAppointment marks an appointment broken. toUnscheduledList controls
// whether the freed slot goes back to the unscheduled pool.
func (c *Client) BreakAppointment(ctx context.Context, id int64, toUnscheduledList bool) error {
	body := map[string]bool{"sendToUnscheduledList": toUnscheduledList}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/appointments/%d/Break", id), nil, body, nil); err != nil {
		return fmt.Errorf("break appointment %d: %w", id, err)
	}
	return nil
}

// ConfirmAppointment sets the confirmation-status code on an appointment.
func (c *Client) ConfirmAppointment(ctx context.Context, id int64, confirmVal int64) error {
	body := map[string]int64{"confirmVal": confirmVal}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/appointments/%d/Confirm", id), nil, body, nil); err != nil {
		return fmt.Errorf("confirm appointment %d: %w", id, err)
	}
	return nil
}

// SlotQuery filters the remote slot search.
type SlotQuery struct {
	From        time.Time
	To          time.Time
	ProviderID  int64
	OperatoryID int64
}

// ListSlots returns raw slot candidates from the remote slot search.
func (c *Client) ListSlots(ctx context.Context, q SlotQuery) ([]ehr.Slot, error) {
	params := url.Values{}
	if !q.From.IsZero() {
		params.Set("dateStart", q.From.Format(dateLayout))
	}
	if !q.To.IsZero() {
		params.Set("dateEnd", q.To.Format(dateLayout))
	}
	if q.ProviderID > 0 {
		params.Set("ProvNum", strconv.FormatInt(q.ProviderID, 10))
	}
	if q.OperatoryID > 0 {
		params.Set("OpNum", strconv.FormatInt(q.OperatoryID, 10))
	}

	var raw []APISlot
	if err := c.do(ctx, http.MethodGet, "/appointments/Slots", params, nil, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list slots: %w", err)
	}
	out := make([]ehr.Slot, 0, len(raw))
	for _, s := range raw {
		slot, err := c.adapter.SlotToDomain(s)
		if err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
		out = append(out, slot)
	}
	return out, nil
}

// do issues one logical API call: marshal, authenticate, execute under the
// rate-limited executor, classify the response status, decode.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	c.requests.Add(1)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	err := c.exec.Execute(ctx, func(ctx context.Context) error {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "ODFHIR "+c.devKey+"/"+c.custKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if err := classify(resp.StatusCode, respBody); err != nil {
			return err
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ObserveRequest(c.practice, outcome)
	return err
}

// classify maps a response status onto the error taxonomy.
func classify(status int, body []byte) error {
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return nil
	case status == http.StatusBadRequest:
		return &BadRequestError{Message: remoteMessage(body)}
	case status == http.StatusUnauthorized:
		return &AuthenticationError{Message: remoteMessage(body)}
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{}
	case status >= 500:
		return &RemoteUnavailableError{Status: status}
	default:
		return fmt.Errorf("opendental: unexpected status %d: %s", status, remoteMessage(body))
	}
}

// remoteMessage extracts the message field from an error payload, falling
// back to the truncated body.
func remoteMessage(body []byte) string {
	var wrapped struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Message != "" {
		return wrapped.Message
	}
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
