// File: internal/flow/waiter.go
package flow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/authgate/api/schemas"
)

// TimeoutClass names a configured deadline for an externally-completed step.
type TimeoutClass string

const (
	// TimeoutShort covers UI that appears on its own (consent modals).
	TimeoutShort TimeoutClass = "short"
	// TimeoutMedium covers delegated SSO redirects completing.
	TimeoutMedium TimeoutClass = "medium"
	// TimeoutLong covers manual 2FA entry by a human operator.
	TimeoutLong TimeoutClass = "long"
)

// ProbeFunc supplies the current page snapshot.
type ProbeFunc func(ctx context.Context) (schemas.PageProbe, error)

// Predicate decides whether the awaited condition holds for a snapshot.
type Predicate func(probe schemas.PageProbe) bool

// Waiter is the single suspension primitive of the engine. It polls a probe
// source at a fixed pace until a predicate holds or the class deadline
// elapses. It never retries on timeout; that decision belongs to the
// orchestrator.
type Waiter struct {
	classes  map[TimeoutClass]time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewWaiter builds a waiter from the configured timeout classes and poll
// interval.
func NewWaiter(short, medium, long, interval time.Duration, logger *zap.Logger) *Waiter {
	return &Waiter{
		classes: map[TimeoutClass]time.Duration{
			TimeoutShort:  short,
			TimeoutMedium: medium,
			TimeoutLong:   long,
		},
		interval: interval,
		logger:   logger.Named("waiter"),
	}
}

// Await blocks until pred is true for a fresh probe, the class timeout
// elapses (ErrInteractiveTimeout), or ctx is canceled. The rate limiter
// guarantees at most one probe per configured interval.
func (w *Waiter) Await(ctx context.Context, class TimeoutClass, probe ProbeFunc, pred Predicate) error {
	deadline, ok := w.classes[class]
	if !ok || deadline <= 0 {
		return fmt.Errorf("unknown timeout class %q", class)
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	w.logger.Info("Awaiting external step.",
		zap.String("class", string(class)),
		zap.Duration("timeout", deadline))

	limiter := rate.NewLimiter(rate.Every(w.interval), 1)
	start := time.Now()

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s class exhausted after %s",
				schemas.ErrInteractiveTimeout, class, time.Since(start).Round(time.Second))
		}

		snapshot, err := probe(waitCtx)
		if err != nil {
			// The page can be mid-navigation while an IdP bounces us
			// around; keep polling until the deadline decides.
			w.logger.Debug("Probe failed during wait; continuing.", zap.Error(err))
			continue
		}
		if pred(snapshot) {
			w.logger.Info("Awaited condition reached.",
				zap.String("class", string(class)),
				zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
			return nil
		}
	}
}
