// Package practice holds the per-practice directory and builds the runtime
// stack (executor, client, dispatcher, resolver, syncer) for each configured
// practice. Executors are never shared across practices: each credential set
// gets its own request cadence.
package practice

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/dispatch"
	"github.com/kestrelhealth/dentalbridge/internal/observability/metrics"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/internal/slots"
	"github.com/kestrelhealth/dentalbridge/internal/syncer"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

// ErrUnknownPractice is returned for a practice id with no directory entry.
var ErrUnknownPractice = errors.New("practice: unknown practice")

// Entry is one practice's directory record: API credentials plus the local
// facts the runtime needs.
type Entry struct {
	DevKey   string `json:"devKey"`
	CustKey  string `json:"custKey"`
	Timezone string `json:"timezone"`
	ClinicID int64  `json:"clinicId"`
	// BaseURL overrides the registry-wide API base URL when set.
	BaseURL string `json:"baseUrl,omitempty"`
}

// ParseDirectory decodes the practice map from its JSON form
// (practice id -> entry), as carried in PRACTICES_JSON.
func ParseDirectory(raw string) (map[string]Entry, error) {
	if raw == "" {
		return nil, errors.New("practice: directory JSON is empty")
	}
	var entries map[string]Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("practice: parse directory JSON: %w", err)
	}
	for id, e := range entries {
		if e.DevKey == "" || e.CustKey == "" {
			return nil, fmt.Errorf("practice: %s is missing API credentials", id)
		}
	}
	return entries, nil
}

// RegistryConfig carries the settings shared by every practice runtime.
type RegistryConfig struct {
	Entries map[string]Entry

	BaseURL        string
	RequestTimeout time.Duration

	MinInterval    time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	Jitter         bool
	CooldownWindow time.Duration

	SyncPageSize int
	// Store receives synced entities; nil disables the per-practice syncer.
	Store syncer.Store

	Logger  *logging.Logger
	Metrics *metrics.BridgeMetrics
}

// Registry hands out one Runtime per practice, built lazily on first use and
// reused afterwards.
type Registry struct {
	cfg    RegistryConfig
	logger *logging.Logger
	// base is the untagged parent logger handed to sub-constructors; they
	// attach their own component tag.
	base *logging.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewRegistry builds a registry over the practice directory.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if len(cfg.Entries) == 0 {
		return nil, errors.New("practice: registry requires at least one practice")
	}
	if cfg.BaseURL == "" {
		for id, e := range cfg.Entries {
			if e.BaseURL == "" {
				return nil, fmt.Errorf("practice: %s has no API base URL", id)
			}
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger.Component("practice"),
		base:     logger,
		runtimes: make(map[string]*Runtime),
	}, nil
}

// Practices lists the configured practice ids.
func (r *Registry) Practices() []string {
	ids := make([]string, 0, len(r.cfg.Entries))
	for id := range r.cfg.Entries {
		ids = append(ids, id)
	}
	return ids
}

// Runtime returns the runtime for a practice, building it on first call.
func (r *Registry) Runtime(practiceID string) (*Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.runtimes[practiceID]; ok {
		return rt, nil
	}
	entry, ok := r.cfg.Entries[practiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPractice, practiceID)
	}

	rt, err := r.build(practiceID, entry)
	if err != nil {
		return nil, err
	}
	r.runtimes[practiceID] = rt
	r.logger.Info("practice runtime ready", "practice", practiceID, "timezone", entry.Timezone)
	return rt, nil
}

func (r *Registry) build(practiceID string, entry Entry) (*Runtime, error) {
	loc := time.UTC
	if entry.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(entry.Timezone)
		if err != nil {
			return nil, fmt.Errorf("practice: %s: load timezone %q: %w", practiceID, entry.Timezone, err)
		}
	}

	exec := opendental.NewExecutor(opendental.ExecutorConfig{
		Practice:       practiceID,
		MinInterval:    r.cfg.MinInterval,
		MaxRetries:     r.cfg.MaxRetries,
		BackoffBase:    r.cfg.BackoffBase,
		Jitter:         r.cfg.Jitter,
		CooldownWindow: r.cfg.CooldownWindow,
		Logger:         r.base,
		Metrics:        r.cfg.Metrics,
	})

	baseURL := entry.BaseURL
	if baseURL == "" {
		baseURL = r.cfg.BaseURL
	}
	client, err := opendental.NewClient(opendental.ClientConfig{
		BaseURL:  baseURL,
		DevKey:   entry.DevKey,
		CustKey:  entry.CustKey,
		Practice: practiceID,
		Timeout:  r.cfg.RequestTimeout,
		Executor: exec,
		Adapter:  opendental.NewAdapter(loc),
		Logger:   r.base,
		Metrics:  r.cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("practice: %s: %w", practiceID, err)
	}

	resolver, err := slots.New(slots.Config{
		Practice: practiceID,
		Client:   client,
		Location: loc,
		Logger:   r.base,
	})
	if err != nil {
		return nil, fmt.Errorf("practice: %s: %w", practiceID, err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Practice: practiceID,
		Client:   client,
		Checker:  resolver,
		Logger:   r.base,
		Metrics:  r.cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("practice: %s: %w", practiceID, err)
	}

	rt := &Runtime{
		practiceID: practiceID,
		clinicID:   entry.ClinicID,
		location:   loc,
		client:     client,
		dispatcher: dispatcher,
		resolver:   resolver,
	}

	if r.cfg.Store != nil {
		sy, err := syncer.New(syncer.Config{
			Practice: practiceID,
			Source:   client,
			Store:    r.cfg.Store,
			PageSize: r.cfg.SyncPageSize,
			Logger:   r.base,
			Metrics:  r.cfg.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("practice: %s: %w", practiceID, err)
		}
		rt.syncer = sy
	}
	return rt, nil
}
