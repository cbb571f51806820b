// File: internal/auth/orchestrator.go
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/config"
	"github.com/xkilldash9x/authgate/internal/flow"
	"github.com/xkilldash9x/authgate/internal/session"
)

// Orchestrator owns the acquire-or-reuse policy: try the stored session
// first, fall back to a bounded detect-act login loop, persist what the
// loop harvests. It never interprets the DOM itself; that split belongs to
// the detector and executor.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     schemas.SessionStore
	validator schemas.SessionValidator
	pages     schemas.PageFactory
	detector  *flow.Detector
	waiter    *flow.Waiter
	creds     schemas.Credentials

	// Concurrent Acquire calls for the same registrable domain collapse
	// into one login attempt; the duplicates share its outcome.
	group singleflight.Group
}

// NewOrchestrator assembles the engine from its injected collaborators.
func NewOrchestrator(
	cfg *config.Config,
	logger *zap.Logger,
	store schemas.SessionStore,
	validator schemas.SessionValidator,
	pages schemas.PageFactory,
	detector *flow.Detector,
	waiter *flow.Waiter,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || store == nil || validator == nil ||
		pages == nil || detector == nil || waiter == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		store:     store,
		validator: validator,
		pages:     pages,
		detector:  detector,
		waiter:    waiter,
		creds:     cfg.Credentials(),
	}, nil
}

// Acquire returns an authenticated session for the configured target,
// reusing the stored one when it still validates and running the login flow
// otherwise. Flow-level failures come back as a FAILED Outcome, not an
// error; the error return is reserved for infrastructure faults.
func (o *Orchestrator) Acquire(ctx context.Context) (*schemas.Outcome, error) {
	domain, err := session.RegistrableDomain(o.cfg.Target.URL)
	if err != nil {
		return nil, fmt.Errorf("resolving target domain: %w", err)
	}

	v, err, shared := o.group.Do(domain, func() (any, error) {
		return o.acquireDomain(ctx, domain)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.logger.Debug("Joined in-flight acquisition.", zap.String("domain", domain))
	}
	return v.(*schemas.Outcome), nil
}

// Preflight checks whether a stored session for the target exists and still
// authenticates, without ever starting a login flow.
func (o *Orchestrator) Preflight(ctx context.Context) (*schemas.Outcome, error) {
	domain, err := session.RegistrableDomain(o.cfg.Target.URL)
	if err != nil {
		return nil, fmt.Errorf("resolving target domain: %w", err)
	}

	stored, err := o.store.Load(domain)
	if err != nil {
		return nil, fmt.Errorf("loading stored session: %w", err)
	}
	if stored == nil {
		return &schemas.Outcome{
			State:        schemas.StateFailed,
			FailureClass: schemas.FailureClass(schemas.ErrSessionInvalid),
		}, nil
	}

	ok, err := o.validator.Validate(ctx, stored, o.probeURL())
	if err != nil {
		return nil, fmt.Errorf("validating stored session: %w", err)
	}
	if !ok {
		return &schemas.Outcome{
			State:        schemas.StateFailed,
			FailureClass: schemas.FailureClass(schemas.ErrSessionInvalid),
		}, nil
	}
	return &schemas.Outcome{
		State:   schemas.StateAuthenticated,
		Reused:  true,
		Session: stored,
	}, nil
}

// acquireDomain is the single-flight body: reuse if possible, else log in.
func (o *Orchestrator) acquireDomain(ctx context.Context, domain string) (*schemas.Outcome, error) {
	stored, err := o.store.Load(domain)
	if err != nil {
		o.logger.Warn("Failed to load stored session; proceeding to acquisition.", zap.Error(err))
	}
	if stored != nil {
		ok, err := o.validator.Validate(ctx, stored, o.probeURL())
		switch {
		case err != nil:
			o.logger.Warn("Stored session validation errored; re-acquiring.", zap.Error(err))
		case ok:
			o.logger.Info("Reusing stored session.",
				zap.String("domain", domain),
				zap.Time("captured_at", stored.CapturedAt))
			return &schemas.Outcome{
				State:   schemas.StateAuthenticated,
				Reused:  true,
				Session: stored,
			}, nil
		default:
			// Expected lifecycle event, not an error: the session aged out.
			o.logger.Info("Stored session no longer authenticates; re-acquiring.",
				zap.String("domain", domain))
		}
	}
	return o.login(ctx, domain)
}

// login drives one bounded detect-act loop against a fresh page.
func (o *Orchestrator) login(ctx context.Context, domain string) (*schemas.Outcome, error) {
	page, err := o.pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening login page: %w", err)
	}
	// The browser tab is released no matter how the loop ends.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		page.Close(closeCtx)
	}()

	attempt := schemas.NewLoginAttempt()
	exec := flow.NewExecutor(page, o.cfg.Flows.Selectors, o.logger)

	o.logger.Info("Starting login flow.",
		zap.String("attempt_id", attempt.ID),
		zap.String("target", o.cfg.Target.URL),
		zap.String("principal", o.creds.Principal))

	var lastProbe schemas.PageProbe
	fail := func(cause error) *schemas.Outcome {
		attempt.Outcome = schemas.StateFailed
		o.logger.Error("Login flow failed.",
			zap.String("attempt_id", attempt.ID),
			zap.String("failure_class", schemas.FailureClass(cause)),
			zap.String("last_state", string(attempt.LastState())),
			zap.String("final_url", lastProbe.URL),
			zap.Error(cause))
		return &schemas.Outcome{
			State:        schemas.StateFailed,
			FailureClass: schemas.FailureClass(cause),
			FinalURL:     lastProbe.URL,
			FinalTitle:   lastProbe.Title,
			Attempt:      attempt,
		}
	}

	if err := page.Navigate(ctx, o.cfg.Target.URL); err != nil {
		attempt.Record(schemas.StateFailed, schemas.ActionNone, err)
		return fail(err), nil
	}

	// At most one retry per state; a second failure in the same state is
	// final.
	retried := make(map[schemas.FlowState]bool)

	for i := 0; i < o.cfg.Flows.MaxIterations; i++ {
		probe, err := page.Probe(ctx)
		if err != nil {
			attempt.Record(schemas.StateFailed, schemas.ActionNone, err)
			return fail(err), nil
		}
		lastProbe = probe

		if probe.HasFailureIndicator {
			// The target explicitly rejected the credentials. Retrying the
			// same pair would only hammer the account lockout counter.
			attempt.Record(o.detector.Classify(probe), schemas.ActionNone, schemas.ErrCredentialsRejected)
			return fail(schemas.ErrCredentialsRejected), nil
		}

		state := o.detector.Classify(probe)
		o.logger.Debug("Flow state detected.",
			zap.Int("iteration", i),
			zap.String("state", string(state)),
			zap.String("url", probe.URL))

		switch state {
		case schemas.StateAuthenticated:
			attempt.Record(state, schemas.ActionHarvestSession, nil)
			sess, err := o.harvest(ctx, page, domain)
			if err != nil {
				return fail(err), nil
			}
			attempt.Outcome = schemas.StateAuthenticated
			o.logger.Info("Login flow succeeded.",
				zap.String("attempt_id", attempt.ID),
				zap.Int("iterations", i+1),
				zap.Int("cookies", len(sess.Cookies)))
			return &schemas.Outcome{
				State:      schemas.StateAuthenticated,
				Session:    sess,
				FinalURL:   probe.URL,
				FinalTitle: probe.Title,
				Attempt:    attempt,
			}, nil

		case schemas.StateSSORedirect:
			attempt.Record(state, schemas.ActionAwaitSSO, nil)
			if err := o.waiter.Await(ctx, flow.TimeoutMedium, page.Probe, o.detector.Settled); err != nil {
				attempt.Record(state, schemas.ActionAwaitSSO, err)
				return fail(err), nil
			}

		case schemas.StateTwoFactorPrompt:
			attempt.Record(state, schemas.ActionAwaitTwoFactor, nil)
			o.logger.Info("Waiting for the operator to complete the second factor.")
			if err := o.waiter.Await(ctx, flow.TimeoutLong, page.Probe, o.detector.Settled); err != nil {
				attempt.Record(state, schemas.ActionAwaitTwoFactor, err)
				return fail(err), nil
			}

		default:
			// Credentials form, consent modal, landing page: the executor
			// performs exactly one advancing action.
			action, err := exec.Advance(ctx, state, o.creds)
			attempt.Record(state, action, err)
			if err != nil {
				if schemas.Retryable(err) && !retried[state] {
					retried[state] = true
					attempt.Retries++
					o.logger.Warn("Step failed; retrying once after re-detection.",
						zap.String("state", string(state)),
						zap.String("action", string(action)),
						zap.Error(err))
					continue
				}
				return fail(err), nil
			}
		}
	}

	attempt.Record(attempt.LastState(), schemas.ActionNone, schemas.ErrLoopBoundExceeded)
	return fail(fmt.Errorf("%w: no terminal state after %d iterations",
		schemas.ErrLoopBoundExceeded, o.cfg.Flows.MaxIterations)), nil
}

// harvest captures the cookies scoped to the target domain, persists them,
// and returns the new session. A persistence failure is logged but does not
// demote the authenticated outcome; the session is still valid for this run.
func (o *Orchestrator) harvest(ctx context.Context, page schemas.PageDriver, domain string) (*schemas.Session, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("harvesting cookies: %w", err)
	}

	scoped := make([]schemas.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if cookieInDomain(c.Domain, domain) {
			scoped = append(scoped, c)
		}
	}
	if len(scoped) == 0 {
		return nil, fmt.Errorf("authenticated page yielded no cookies for %q", domain)
	}

	sess := &schemas.Session{
		Cookies:      scoped,
		CapturedAt:   time.Now().UTC(),
		TargetDomain: domain,
	}
	if err := o.store.Save(sess); err != nil {
		o.logger.Error("Failed to persist session; it remains usable for this run only.", zap.Error(err))
	}
	return sess, nil
}

// cookieInDomain reports whether a cookie's domain attribute falls under the
// registrable domain the session is scoped to. IdP cookies from a delegated
// login are deliberately excluded.
func cookieInDomain(cookieDomain, domain string) bool {
	d := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	domain = strings.ToLower(domain)
	return d == domain || strings.HasSuffix(d, "."+domain)
}

func (o *Orchestrator) probeURL() string {
	if o.cfg.Target.ProbeURL != "" {
		return o.cfg.Target.ProbeURL
	}
	return o.cfg.Target.URL
}
