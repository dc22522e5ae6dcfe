package opendental

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelhealth/dentalbridge/internal/observability/metrics"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

const (
	defaultMinInterval    = 1 * time.Second
	defaultMaxRetries     = 4
	defaultBackoffBase    = 1 * time.Second
	defaultCooldownWindow = 30 * time.Second
	// cooldownFactor widens the inter-request interval after a 429 until the
	// cooldown window passes.
	cooldownFactor = 4
)

// ExecutorConfig configures one Executor. Zero values take defaults.
type ExecutorConfig struct {
	// Practice labels logs and metrics; one executor exists per practice
	// credential set.
	Practice string
	// MinInterval is the minimum spacing between the starts of two outbound
	// calls.
	MinInterval time.Duration
	// MaxRetries bounds retries after the first attempt.
	MaxRetries int
	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration
	// Jitter adds up to half the computed delay on each retry.
	Jitter bool
	// CooldownWindow is how long the widened cadence holds after a 429.
	CooldownWindow time.Duration

	Logger  *logging.Logger
	Metrics *metrics.BridgeMetrics
}

// Executor serializes outbound calls for one practice so that no two calls
// start within MinInterval of each other, regardless of caller concurrency.
// Admission is first-come-first-served: concurrent callers are released in
// the order they asked. Transient failures are retried with exponential
// backoff inside Execute; a 429 additionally widens the cadence for a
// cooldown window.
type Executor struct {
	practice       string
	limiter        *rate.Limiter
	minInterval    time.Duration
	maxRetries     int
	backoffBase    time.Duration
	jitter         bool
	cooldownWindow time.Duration
	logger         *logging.Logger
	metrics        *metrics.BridgeMetrics

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewExecutor creates an executor with the configured cadence.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = defaultCooldownWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		practice:       cfg.Practice,
		limiter:        rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		minInterval:    cfg.MinInterval,
		maxRetries:     cfg.MaxRetries,
		backoffBase:    cfg.BackoffBase,
		jitter:         cfg.Jitter,
		cooldownWindow: cfg.CooldownWindow,
		logger:         logger.Component("executor"),
		metrics:        cfg.Metrics,
	}
}

// Execute runs op under the admission queue and retry policy. Transient
// failures (network errors, 5xx, rate limiting) are retried up to the
// configured budget; anything else propagates immediately. When the budget
// is exhausted the last failure is wrapped in a RemoteUnavailableError.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.metrics.ObserveRetry(e.practice)
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return err
			}
		}

		e.restoreCadence()
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				e.logger.Info("remote call recovered", "practice", e.practice, "attempt", attempt+1)
			}
			return nil
		}

		var rle *RateLimitedError
		if errors.As(err, &rle) {
			e.enterCooldown()
		}
		if !isTransient(err) {
			return err
		}

		lastErr = err
		e.logger.Warn("remote call failed, will retry",
			"practice", e.practice,
			"attempt", attempt+1,
			"max_attempts", e.maxRetries+1,
			"error", err,
		)
	}
	return &RemoteUnavailableError{Attempts: e.maxRetries + 1, Err: lastErr}
}

// backoff computes the delay before retry n (1-based): base, 2*base,
// 4*base, ... with optional jitter of up to half the delay.
func (e *Executor) backoff(retry int) time.Duration {
	delay := e.backoffBase << (retry - 1)
	if e.jitter {
		delay += time.Duration(rand.Int63n(int64(delay/2) + 1))
	}
	return delay
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// enterCooldown widens the cadence after a rate-limit signal instead of
// hammering the remote again at baseline speed.
func (e *Executor) enterCooldown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldownUntil = time.Now().Add(e.cooldownWindow)
	e.limiter.SetLimit(rate.Every(e.minInterval * cooldownFactor))
	e.logger.Warn("rate limited by remote, widening request cadence",
		"practice", e.practice,
		"cooldown", e.cooldownWindow.String(),
	)
}

// restoreCadence returns to the baseline interval once the cooldown window
// has passed.
func (e *Executor) restoreCadence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cooldownUntil.IsZero() || time.Now().Before(e.cooldownUntil) {
		return
	}
	e.cooldownUntil = time.Time{}
	e.limiter.SetLimit(rate.Every(e.minInterval))
	e.logger.Info("request cadence restored", "practice", e.practice)
}

// inCooldown is used by tests and diagnostics.
func (e *Executor) inCooldown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.cooldownUntil.IsZero() && time.Now().Before(e.cooldownUntil)
}
