package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

// Service runs full syncs for a set of practices on an interval.
type Service struct {
	syncers    map[string]*Syncer
	windowDays int
	logger     *logging.Logger

	tick <-chan time.Time
	stop func()
}

// ServiceConfig configures the periodic sync service. Tick and Stop are
// injectable for tests; when Tick is nil a ticker is created from Interval.
type ServiceConfig struct {
	Syncers    map[string]*Syncer
	Interval   time.Duration
	WindowDays int

	Logger *logging.Logger

	Tick <-chan time.Time
	Stop func()
}

// NewService builds a periodic sync service over per-practice syncers.
func NewService(cfg ServiceConfig) (*Service, error) {
	if len(cfg.Syncers) == 0 {
		return nil, errors.New("syncer: service requires at least one syncer")
	}

	windowDays := cfg.WindowDays
	if windowDays <= 0 {
		windowDays = 30
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.Interval
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	return &Service{
		syncers:    cfg.Syncers,
		windowDays: windowDays,
		logger:     logger.Component("sync-service"),
		tick:       tick,
		stop:       stop,
	}, nil
}

// Start syncs immediately, then on every tick until the context ends.
func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	defer func() {
		if s.stop != nil {
			s.stop()
		}
	}()

	s.syncAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.tick:
			s.syncAll(ctx)
		}
	}
}

// syncAll runs one full pass over every practice. Failures are logged and do
// not abort the pass: later practices still sync.
func (s *Service) syncAll(ctx context.Context) {
	from := time.Now()
	to := from.AddDate(0, 0, s.windowDays)

	for practice, sy := range s.syncers {
		if ctx.Err() != nil {
			return
		}
		steps := []struct {
			name string
			run  func(context.Context) (int, error)
		}{
			{"providers", sy.SyncProviders},
			{"operatories", sy.SyncOperatories},
			{"patients", sy.SyncPatients},
			{"appointments", func(ctx context.Context) (int, error) {
				return sy.SyncAppointments(ctx, from, to)
			}},
		}
		for _, step := range steps {
			if _, err := step.run(ctx); err != nil {
				s.logger.Error("scheduled sync failed",
					"practice", practice,
					"entity", step.name,
					"error", err,
				)
			}
		}
	}
}
