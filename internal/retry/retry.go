// Package retry wraps a single stage's external call with timeout, bounded
// retry on transient failure, and circuit-breaker gating.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mortdiggiddy/video-translator/internal/breaker"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Policy bounds a stage's invocation attempts.
type Policy struct {
	MaxAttempts int
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = 30 * time.Second
	}
	return p
}

// Invoker executes activity calls under a policy, consulting the shared
// breaker set per downstream dependency.
type Invoker struct {
	breakers *breaker.Set
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewInvoker constructs an invoker around the shared breaker set.
func NewInvoker(breakers *breaker.Set, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Invoker{
		breakers: breakers,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Do invokes fn under the policy. Transient failures are retried with
// exponential backoff (base doubling per attempt, capped, jittered) until the
// attempt budget is spent; permanent failures, cancellations, and open
// breakers propagate immediately. Each attempt runs under its own timeout so
// worst-case blocking is bounded independent of the run's lifetime.
func (inv *Invoker) Do(ctx context.Context, stageName, dependency string, policy Policy, fn func(context.Context) error) error {
	policy = policy.withDefaults()
	br := inv.breakers.For(dependency)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.BackoffBase
	expo.MaxInterval = policy.BackoffMax
	expo.Multiplier = 2
	expo.MaxElapsedTime = 0
	expo.Reset()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return services.Classify(err)
		}
		if err := br.Allow(); err != nil {
			return err
		}

		err := inv.attempt(ctx, policy.Timeout, fn)
		if err == nil {
			br.Success()
			return nil
		}

		classified := services.Classify(err)
		kind := services.KindOf(classified)
		if kind == services.KindCancelled && ctx.Err() == nil {
			// The attempt context expired but the run is still live: the
			// stage timed out, which counts as transient.
			classified = services.Wrap(services.ErrTransient, stageName, "invoke", "attempt timed out", err)
			kind = services.KindTransient
		}
		if kind != services.KindTransient {
			return classified
		}
		br.Failure()

		if attempt >= policy.MaxAttempts {
			return services.Wrap(services.ErrTransient, stageName, "invoke",
				fmt.Sprintf("exhausted %d attempts", attempt), classified)
		}

		wait := expo.NextBackOff()
		if wait == backoff.Stop {
			wait = policy.BackoffMax
		}
		inv.logger.Warn("activity attempt failed, retrying",
			logging.String(logging.FieldStage, stageName),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("backoff", wait),
			logging.Error(classified),
		)
		if err := inv.sleep(ctx, wait); err != nil {
			return services.Classify(err)
		}
	}
}

func (inv *Invoker) attempt(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
