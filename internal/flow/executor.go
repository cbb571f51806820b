// File: internal/flow/executor.go
package flow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/config"
)

// Executor performs the single action that advances a detected FlowState
// toward authentication. Selector candidates come from the shared capability
// table; the executor itself never hardcodes a selector.
type Executor struct {
	driver    schemas.PageDriver
	selectors config.SelectorsConfig
	logger    *zap.Logger
}

// NewExecutor wires an executor to the page it drives.
func NewExecutor(driver schemas.PageDriver, selectors config.SelectorsConfig, logger *zap.Logger) *Executor {
	return &Executor{
		driver:    driver,
		selectors: selectors,
		logger:    logger.Named("executor"),
	}
}

// Advance executes one step for the given state and reports the action
// taken. Delegated states (SSO, 2FA) take no automated action here; the
// orchestrator hands those to the waiter.
func (e *Executor) Advance(ctx context.Context, state schemas.FlowState, creds schemas.Credentials) (schemas.Action, error) {
	switch state {
	case schemas.StateCredentialsForm:
		return schemas.ActionFillCredentials, e.fillCredentials(ctx, creds)
	case schemas.StateConsentModal:
		return schemas.ActionDismissModal, e.dismissModal(ctx)
	case schemas.StateUnauthenticatedLanding:
		return schemas.ActionOpenLogin, e.openLogin(ctx)
	case schemas.StateSSORedirect:
		return schemas.ActionAwaitSSO, nil
	case schemas.StateTwoFactorPrompt:
		return schemas.ActionAwaitTwoFactor, nil
	default:
		return schemas.ActionNone, nil
	}
}

// fillCredentials fills whichever credential fields are present and submits.
// Some flows split username and password across two page loads, so either
// field may legitimately be absent on a given pass; only matching neither is
// a failure.
func (e *Executor) fillCredentials(ctx context.Context, creds schemas.Credentials) error {
	filled := 0

	err := e.driver.FillFirst(ctx, e.selectors.UsernameFields, creds.Principal)
	switch {
	case err == nil:
		filled++
	case errors.Is(err, schemas.ErrElementNotFound):
		e.logger.Debug("No username field on this pass; assuming split flow.")
	default:
		return fmt.Errorf("filling username: %w", err)
	}

	err = e.driver.FillFirst(ctx, e.selectors.PasswordFields, creds.Secret.Reveal())
	switch {
	case err == nil:
		filled++
	case errors.Is(err, schemas.ErrElementNotFound):
		e.logger.Debug("No password field on this pass; assuming split flow.")
	default:
		return fmt.Errorf("filling password: %w", err)
	}

	if filled == 0 {
		return fmt.Errorf("no credential field matched: %w", schemas.ErrElementNotFound)
	}

	// Activate the primary submit control, falling back to the Enter key
	// when no dedicated control matches (the focused field submits).
	if err := e.driver.ClickFirst(ctx, e.selectors.SubmitControls); err != nil {
		if !errors.Is(err, schemas.ErrElementNotFound) {
			return fmt.Errorf("activating submit control: %w", err)
		}
		e.logger.Debug("No submit control matched; falling back to Enter key.")
		if err := e.driver.PressEnter(ctx); err != nil {
			return fmt.Errorf("enter-key submit fallback: %w", err)
		}
	}
	return nil
}

// dismissModal activates the modal's affirmative control. Candidates are
// scoped inside the modal containment boundary so page content rendered
// behind the dialog can never be mis-clicked.
func (e *Executor) dismissModal(ctx context.Context) error {
	scoped := make([]string, 0, len(e.selectors.ConsentModals)*len(e.selectors.ConsentAffirmative))
	for _, container := range e.selectors.ConsentModals {
		for _, control := range e.selectors.ConsentAffirmative {
			scoped = append(scoped, container+" "+control)
		}
	}
	if err := e.driver.ClickFirst(ctx, scoped); err != nil {
		return fmt.Errorf("dismissing consent modal: %w", err)
	}
	return nil
}

// openLogin activates the login affordance on an unauthenticated landing
// page, bringing up whichever login flow the target presents.
func (e *Executor) openLogin(ctx context.Context) error {
	if err := e.driver.ClickFirst(ctx, e.selectors.LoginLinks); err != nil {
		return fmt.Errorf("opening login flow: %w", err)
	}
	return nil
}
