// Package syncer pulls full entity snapshots from the remote
// practice-management system into the local store, one page at a time.
// Runs are idempotent: re-running a completed or interrupted sync converges
// on the same local state because every write is an upsert keyed by the
// remote identifier.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
	"github.com/kestrelhealth/dentalbridge/internal/observability/metrics"
	"github.com/kestrelhealth/dentalbridge/internal/opendental"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

const defaultPageSize = 500

// EntityKind names one synchronized entity collection.
type EntityKind string

const (
	EntityPatients     EntityKind = "patients"
	EntityProviders    EntityKind = "providers"
	EntityOperatories  EntityKind = "operatories"
	EntityAppointments EntityKind = "appointments"
)

// SyncIncompleteError reports a sync run that stopped before reaching the end
// of the remote collection. Committed is the number of records durably
// upserted before the failure; those writes are kept, not rolled back.
type SyncIncompleteError struct {
	Kind      EntityKind
	Committed int
	Err       error
}

func (e *SyncIncompleteError) Error() string {
	return fmt.Sprintf("sync of %s incomplete after %d records: %v", e.Kind, e.Committed, e.Err)
}

func (e *SyncIncompleteError) Unwrap() error { return e.Err }

// Store is the local persistence the syncer writes into. Each Upsert call
// covers one fetched page and must be atomic: either the whole page lands or
// none of it does.
type Store interface {
	UpsertPatients(ctx context.Context, practiceID string, rows []ehr.Patient) error
	UpsertProviders(ctx context.Context, practiceID string, rows []ehr.Provider) error
	UpsertOperatories(ctx context.Context, practiceID string, rows []ehr.Operatory) error
	UpsertAppointments(ctx context.Context, practiceID string, rows []ehr.Appointment) error
}

// Source is the slice of the remote client the syncer reads from.
type Source interface {
	ListPatients(ctx context.Context, q opendental.PatientQuery) ([]ehr.Patient, error)
	ListProviders(ctx context.Context, page opendental.Page) ([]ehr.Provider, error)
	ListOperatories(ctx context.Context, page opendental.Page) ([]ehr.Operatory, error)
	ListAppointments(ctx context.Context, q opendental.AppointmentQuery) ([]ehr.Appointment, error)
}

// Config configures a Syncer for one practice.
type Config struct {
	Practice string
	Source   Source
	Store    Store
	// PageSize is the remote page size; defaults to 500.
	PageSize int

	Logger  *logging.Logger
	Metrics *metrics.BridgeMetrics
}

// Syncer runs full snapshot syncs for a single practice.
type Syncer struct {
	practice string
	source   Source
	store    Store
	pageSize int
	logger   *logging.Logger
	metrics  *metrics.BridgeMetrics
}

// New builds a Syncer. Source and Store are required.
func New(cfg Config) (*Syncer, error) {
	if cfg.Source == nil {
		return nil, errors.New("syncer: source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("syncer: store is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Syncer{
		practice: cfg.Practice,
		source:   cfg.Source,
		store:    cfg.Store,
		pageSize: pageSize,
		logger:   logger.Component("syncer"),
		metrics:  cfg.Metrics,
	}, nil
}

// SyncPatients mirrors the remote patient collection into the store and
// returns the number of records upserted.
func (s *Syncer) SyncPatients(ctx context.Context) (int, error) {
	return s.run(ctx, EntityPatients, func(ctx context.Context, page opendental.Page) (int, error) {
		rows, err := s.source.ListPatients(ctx, opendental.PatientQuery{Page: page})
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, nil
		}
		if err := s.store.UpsertPatients(ctx, s.practice, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}

// SyncProviders mirrors the remote provider collection.
func (s *Syncer) SyncProviders(ctx context.Context) (int, error) {
	return s.run(ctx, EntityProviders, func(ctx context.Context, page opendental.Page) (int, error) {
		rows, err := s.source.ListProviders(ctx, page)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, nil
		}
		if err := s.store.UpsertProviders(ctx, s.practice, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}

// SyncOperatories mirrors the remote operatory collection.
func (s *Syncer) SyncOperatories(ctx context.Context) (int, error) {
	return s.run(ctx, EntityOperatories, func(ctx context.Context, page opendental.Page) (int, error) {
		rows, err := s.source.ListOperatories(ctx, page)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, nil
		}
		if err := s.store.UpsertOperatories(ctx, s.practice, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}

// SyncAppointments mirrors appointments inside the given window. A zero
// window syncs the remote default range.
func (s *Syncer) SyncAppointments(ctx context.Context, from, to time.Time) (int, error) {
	return s.run(ctx, EntityAppointments, func(ctx context.Context, page opendental.Page) (int, error) {
		rows, err := s.source.ListAppointments(ctx, opendental.AppointmentQuery{
			From: from,
			To:   to,
			Page: page,
		})
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, nil
		}
		if err := s.store.UpsertAppointments(ctx, s.practice, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}

// run walks the remote collection by offset. Each iteration fetches one page
// and upserts it; the cursor advances by the number of records actually
// returned. A page shorter than the page size means the collection is
// exhausted.
func (s *Syncer) run(ctx context.Context, kind EntityKind, pageFn func(context.Context, opendental.Page) (int, error)) (int, error) {
	committed := 0
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return committed, s.incomplete(kind, committed, err)
		}

		n, err := pageFn(ctx, opendental.Page{Limit: s.pageSize, Offset: offset})
		if err != nil {
			return committed, s.incomplete(kind, committed, err)
		}

		committed += n
		s.metrics.ObserveSyncUpserts(s.practice, string(kind), n)
		if n < s.pageSize {
			break
		}
		offset += n
	}

	s.metrics.ObserveSyncRun(s.practice, string(kind), "ok")
	s.logger.Info("sync complete",
		"practice", s.practice,
		"entity", string(kind),
		"records", committed,
	)
	return committed, nil
}

func (s *Syncer) incomplete(kind EntityKind, committed int, err error) error {
	s.metrics.ObserveSyncRun(s.practice, string(kind), "incomplete")
	s.logger.Error("sync interrupted",
		"practice", s.practice,
		"entity", string(kind),
		"committed", committed,
		"error", err,
	)
	return &SyncIncompleteError{Kind: kind, Committed: committed, Err: err}
}
