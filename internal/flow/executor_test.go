// File: internal/flow/executor_test.go
package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/config"
)

// fakeDriver is a scripted PageDriver. Each hook defaults to success; tests
// override the ones they care about and inspect the recorded calls.
type fakeDriver struct {
	fills  []fillCall
	clicks [][]string
	enters int

	onFill  func(candidates []string, value string) error
	onClick func(candidates []string) error
	onEnter func() error
}

type fillCall struct {
	candidates []string
	value      string
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeDriver) Probe(ctx context.Context) (schemas.PageProbe, error) {
	return schemas.PageProbe{}, nil
}
func (f *fakeDriver) FillFirst(ctx context.Context, candidates []string, value string) error {
	f.fills = append(f.fills, fillCall{candidates: candidates, value: value})
	if f.onFill != nil {
		return f.onFill(candidates, value)
	}
	return nil
}
func (f *fakeDriver) ClickFirst(ctx context.Context, candidates []string) error {
	f.clicks = append(f.clicks, candidates)
	if f.onClick != nil {
		return f.onClick(candidates)
	}
	return nil
}
func (f *fakeDriver) PressEnter(ctx context.Context) error {
	f.enters++
	if f.onEnter != nil {
		return f.onEnter()
	}
	return nil
}
func (f *fakeDriver) Cookies(ctx context.Context) ([]schemas.Cookie, error)    { return nil, nil }
func (f *fakeDriver) SetCookies(ctx context.Context, c []schemas.Cookie) error { return nil }
func (f *fakeDriver) Close(ctx context.Context) error                          { return nil }

var testSelectors = config.SelectorsConfig{
	UsernameFields:     []string{"#user", "input[name='username']"},
	PasswordFields:     []string{"#pass"},
	TwoFactorInputs:    []string{"input[name='otp']"},
	ConsentModals:      []string{"#consent", "[role='alertdialog']"},
	ConsentAffirmative: []string{"button.accept"},
	SubmitControls:     []string{"#submit"},
	LoginLinks:         []string{"a.login"},
}

var testCreds = schemas.Credentials{Principal: "jdoe", Secret: schemas.Secret("hunter2")}

func newTestExecutor(driver *fakeDriver) *Executor {
	return NewExecutor(driver, testSelectors, zap.NewNop())
}

func TestAdvanceFillCredentials(t *testing.T) {
	t.Run("fills both fields and submits", func(t *testing.T) {
		driver := &fakeDriver{}
		exec := newTestExecutor(driver)

		action, err := exec.Advance(context.Background(), schemas.StateCredentialsForm, testCreds)
		require.NoError(t, err)
		assert.Equal(t, schemas.ActionFillCredentials, action)

		require.Len(t, driver.fills, 2)
		assert.Equal(t, testSelectors.UsernameFields, driver.fills[0].candidates)
		assert.Equal(t, "jdoe", driver.fills[0].value)
		// The raw secret goes to the page; redaction applies to logs only.
		assert.Equal(t, "hunter2", driver.fills[1].value)

		require.Len(t, driver.clicks, 1)
		assert.Equal(t, testSelectors.SubmitControls, driver.clicks[0])
		assert.Zero(t, driver.enters)
	})

	t.Run("tolerates a missing username field in a split flow", func(t *testing.T) {
		driver := &fakeDriver{
			onFill: func(candidates []string, value string) error {
				if candidates[0] == "#user" {
					return schemas.ErrElementNotFound
				}
				return nil
			},
		}
		exec := newTestExecutor(driver)

		_, err := exec.Advance(context.Background(), schemas.StateCredentialsForm, testCreds)
		require.NoError(t, err)
		assert.Len(t, driver.clicks, 1, "the password-only page should still be submitted")
	})

	t.Run("fails when neither field matches", func(t *testing.T) {
		driver := &fakeDriver{
			onFill: func([]string, string) error { return schemas.ErrElementNotFound },
		}
		exec := newTestExecutor(driver)

		_, err := exec.Advance(context.Background(), schemas.StateCredentialsForm, testCreds)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
		assert.Empty(t, driver.clicks, "nothing should be submitted when nothing was filled")
	})

	t.Run("falls back to the Enter key without a submit control", func(t *testing.T) {
		driver := &fakeDriver{
			onClick: func([]string) error { return schemas.ErrElementNotFound },
		}
		exec := newTestExecutor(driver)

		_, err := exec.Advance(context.Background(), schemas.StateCredentialsForm, testCreds)
		require.NoError(t, err)
		assert.Equal(t, 1, driver.enters)
	})

	t.Run("propagates a rejected fill", func(t *testing.T) {
		driver := &fakeDriver{
			onFill: func([]string, string) error { return schemas.ErrActionRejected },
		}
		exec := newTestExecutor(driver)

		_, err := exec.Advance(context.Background(), schemas.StateCredentialsForm, testCreds)
		assert.ErrorIs(t, err, schemas.ErrActionRejected)
	})
}

func TestAdvanceDismissModal(t *testing.T) {
	driver := &fakeDriver{}
	exec := newTestExecutor(driver)

	action, err := exec.Advance(context.Background(), schemas.StateConsentModal, testCreds)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionDismissModal, action)

	// Every candidate must be scoped inside a modal container so content
	// behind the dialog can never be clicked.
	require.Len(t, driver.clicks, 1)
	assert.Equal(t, []string{
		"#consent button.accept",
		"[role='alertdialog'] button.accept",
	}, driver.clicks[0])
}

func TestAdvanceOpenLogin(t *testing.T) {
	driver := &fakeDriver{}
	exec := newTestExecutor(driver)

	action, err := exec.Advance(context.Background(), schemas.StateUnauthenticatedLanding, testCreds)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionOpenLogin, action)
	require.Len(t, driver.clicks, 1)
	assert.Equal(t, testSelectors.LoginLinks, driver.clicks[0])
}

func TestAdvanceDelegatedStates(t *testing.T) {
	// SSO and 2FA are awaited, not acted on; the executor must not touch
	// the page at all for them.
	for _, tc := range []struct {
		state  schemas.FlowState
		action schemas.Action
	}{
		{schemas.StateSSORedirect, schemas.ActionAwaitSSO},
		{schemas.StateTwoFactorPrompt, schemas.ActionAwaitTwoFactor},
		{schemas.StateAuthenticated, schemas.ActionNone},
	} {
		driver := &fakeDriver{}
		exec := newTestExecutor(driver)

		action, err := exec.Advance(context.Background(), tc.state, testCreds)
		require.NoError(t, err)
		assert.Equal(t, tc.action, action)
		assert.Empty(t, driver.fills)
		assert.Empty(t, driver.clicks)
		assert.Zero(t, driver.enters)
	}
}
