package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tribridrag/tribridrag/domain/errkind"
)

// ErrorClassification tells the executor how to treat one failed call.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

// ErrorClassifier maps an error from the wrapped call to a classification.
// Callers typically pass one built around their own upstream's error
// shapes; DefaultClassifier handles the errkind vocabulary.
type ErrorClassifier func(err error) ErrorClassification

// Executor runs a callback under a retry loop and, once BreakerEnabled,
// a per-operation circuit breaker. One Executor is shared by every caller
// in a process; breaker state is kept independently per operation name so
// a struggling reranker doesn't trip the embedder's breaker.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewExecutor creates an Executor from cfg, filling any zero-valued field
// with DefaultConfig's value.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under operation's breaker and retry policy. operation
// names the breaker bucket (e.g. "embed", "rerank.cloud", "chat") and is
// also used as the circuit breaker's name for logging.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = DefaultClassifier
	}

	if !e.cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, op, fn, classifier)
	}

	breaker := e.circuitBreaker(op, classifier)
	_, err := breaker.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, op, fn, classifier)
	})
	if IsCircuitOpen(err) {
		return errkind.Wrap(errkind.UpstreamFailure, "circuit open for "+op, err)
	}
	return err
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	maxAttempts := e.cfg.RetryMaxAttempts
	backoff := e.cfg.RetryInitialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		class := classifier(err)
		if !class.Retryable || attempt == maxAttempts {
			return err
		}

		wait := backoff
		if wait > e.cfg.RetryMaxBackoff {
			wait = e.cfg.RetryMaxBackoff
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		backoff = time.Duration(float64(backoff) * e.cfg.RetryMultiplier)
		if backoff > e.cfg.RetryMaxBackoff {
			backoff = e.cfg.RetryMaxBackoff
		}
	}

	return lastErr
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			class := classifier(err)
			return !class.RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = breaker
	return breaker
}

// IsCircuitOpen reports whether err came back because the breaker refused
// the call outright, rather than the wrapped call itself failing.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// DefaultClassifier treats errkind.UpstreamTimeout as retryable and a
// breaker failure, errkind.UpstreamFailure as a breaker failure but not
// worth retrying (the caller likely already exhausted its own retries),
// and anything else — config errors, manifest mismatches — as neither:
// those are caller mistakes a retry can't fix and shouldn't count against
// an upstream's health.
func DefaultClassifier(err error) ErrorClassification {
	var ke *errkind.Error
	if errors.As(err, &ke) {
		switch ke.Kind {
		case errkind.UpstreamTimeout:
			return ErrorClassification{Retryable: true, RecordFailure: true}
		case errkind.UpstreamFailure:
			return ErrorClassification{Retryable: false, RecordFailure: true}
		default:
			return ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	return ErrorClassification{Retryable: false, RecordFailure: true}
}
