package upstream

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CircuitState represents the breaker state for one logical endpoint
type CircuitState string

const (
	StateClosed   CircuitState = "CLOSED"
	StateOpen     CircuitState = "OPEN"
	StateHalfOpen CircuitState = "HALF_OPEN"
)

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Breaker guards one logical upstream endpoint. Transitions are the sole
// mutator of its state; all methods are safe for concurrent use.
type Breaker struct {
	endpoint  string
	threshold int
	timeout   time.Duration
	logger    *logrus.Logger
	now       func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewBreaker creates a closed breaker for an endpoint.
func NewBreaker(endpoint string, cfg BreakerConfig, logger *logrus.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &Breaker{
		endpoint:  endpoint,
		threshold: cfg.FailureThreshold,
		timeout:   cfg.OpenTimeout,
		logger:    logger,
		now:       time.Now,
		state:     StateClosed,
	}
}

// Allow reports whether a call may proceed. While open it returns a
// CircuitOpenError until the open timeout elapses, at which point the breaker
// moves to half-open and admits exactly one trial call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.timeout {
			return &CircuitOpenError{Endpoint: b.endpoint, RetryAfter: b.timeout - elapsed}
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.WithField("endpoint", b.endpoint).Info("Circuit half-open, allowing trial call")
		return nil
	default: // half-open
		if b.probing {
			// a trial call is already in flight
			return &CircuitOpenError{Endpoint: b.endpoint, RetryAfter: b.timeout}
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.logger.WithField("endpoint", b.endpoint).Info("Circuit closed after successful call")
	}
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.probing = false
}

// RecordNeutral releases the half-open probe without judging the endpoint
// either way. Used for application-level outcomes (well-formed 4xx, fatal
// auth errors): the upstream answered, so the trial must not reopen the
// circuit, but it proved nothing about transient health either. The next
// Allow admits a fresh trial call.
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// RecordFailure counts a transient failure. Reaching the threshold while
// closed, or failing the half-open trial call, opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.open()
		}
	}
}

// State returns the current state for health reporting.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
	b.logger.WithFields(logrus.Fields{
		"endpoint":             b.endpoint,
		"consecutive_failures": b.consecutiveFailures,
		"open_timeout":         b.timeout,
	}).Warn("Circuit opened")
}
