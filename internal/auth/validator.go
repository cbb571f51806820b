// File: internal/auth/validator.go
package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/flow"
	"github.com/xkilldash9x/authgate/internal/session"
)

// Validator decides whether a stored session still grants access by
// replaying its cookies into a fresh page and classifying the protected
// probe resource. No cookie-metadata heuristics: the target's effective
// session lifetime is not predictable from cookie expiry alone, so the
// probe navigation is the only oracle.
type Validator struct {
	pages    schemas.PageFactory
	detector *flow.Detector
	logger   *zap.Logger
}

var _ schemas.SessionValidator = (*Validator)(nil)

// NewValidator wires a validator to its page source and detector.
func NewValidator(pages schemas.PageFactory, detector *flow.Detector, logger *zap.Logger) (*Validator, error) {
	if pages == nil || detector == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize validator with nil dependencies")
	}
	return &Validator{
		pages:    pages,
		detector: detector,
		logger:   logger.Named("validator"),
	}, nil
}

// Validate reports whether the candidate session authenticates against the
// probe URL. The candidate is cloned before use and never mutated. A session
// scoped to a different registrable domain than the probe is refused without
// touching the browser.
func (v *Validator) Validate(ctx context.Context, candidate *schemas.Session, probeURL string) (bool, error) {
	if candidate == nil {
		return false, nil
	}

	probeDomain, err := session.RegistrableDomain(probeURL)
	if err != nil {
		return false, fmt.Errorf("resolving probe domain: %w", err)
	}
	if probeDomain != candidate.TargetDomain {
		v.logger.Warn("Refusing to apply session cookies cross-domain.",
			zap.String("session_domain", candidate.TargetDomain),
			zap.String("probe_domain", probeDomain))
		return false, nil
	}

	sess := candidate.Clone()

	page, err := v.pages.NewPage(ctx)
	if err != nil {
		return false, fmt.Errorf("opening validation page: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		page.Close(closeCtx)
	}()

	if err := page.SetCookies(ctx, sess.Cookies); err != nil {
		return false, err
	}
	if err := page.Navigate(ctx, probeURL); err != nil {
		return false, err
	}
	probe, err := page.Probe(ctx)
	if err != nil {
		return false, err
	}

	state := v.detector.Classify(probe)
	v.logger.Info("Stored session probed.",
		zap.String("state", string(state)),
		zap.String("probe_url", probeURL))
	return state == schemas.StateAuthenticated, nil
}
