// File: internal/auth/orchestrator_test.go
package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/config"
	"github.com/xkilldash9x/authgate/internal/flow"
)

const (
	testTargetURL = "https://jira.example.com/secure/Dashboard.jspa"
	testDomain    = "example.com"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Target.URL = testTargetURL
	cfg.Auth.Principal = "jdoe"
	cfg.Auth.Secret = schemas.Secret("hunter2")
	cfg.Flows.MaxIterations = 6
	// Waits must resolve quickly under test.
	cfg.Timeouts.Short = 60 * time.Millisecond
	cfg.Timeouts.Medium = 120 * time.Millisecond
	cfg.Timeouts.Long = 120 * time.Millisecond
	cfg.Timeouts.PollInterval = 10 * time.Millisecond
	return cfg
}

type orchFixture struct {
	orch      *Orchestrator
	store     *fakeStore
	validator *fakeValidator
	factory   *fakeFactory
}

func newOrchFixture(t *testing.T, store *fakeStore, validator *fakeValidator, factory *fakeFactory) *orchFixture {
	t.Helper()
	cfg := testConfig()

	detector, err := flow.NewDetector(cfg.Target.URL)
	require.NoError(t, err)
	waiter := flow.NewWaiter(cfg.Timeouts.Short, cfg.Timeouts.Medium, cfg.Timeouts.Long,
		cfg.Timeouts.PollInterval, zap.NewNop())

	orch, err := NewOrchestrator(cfg, zap.NewNop(), store, validator, factory, detector, waiter)
	require.NoError(t, err)
	return &orchFixture{orch: orch, store: store, validator: validator, factory: factory}
}

func storedSession() *schemas.Session {
	return &schemas.Session{
		TargetDomain: testDomain,
		CapturedAt:   time.Now().UTC().Add(-time.Hour),
		Cookies:      []schemas.Cookie{{Name: "JSESSIONID", Value: "OLD", Domain: "jira.example.com"}},
	}
}

var (
	credsFormProbe = schemas.PageProbe{
		URL:              "https://jira.example.com/login.jsp",
		HasUsernameField: true,
		HasPasswordField: true,
	}
	authenticatedProbe = schemas.PageProbe{
		URL:           testTargetURL,
		HasAuthMarker: true,
	}
	landingProbe = schemas.PageProbe{
		URL:                "https://jira.example.com/",
		HasLoginAffordance: true,
	}
)

func TestAcquireReusesValidStoredSession(t *testing.T) {
	store := newFakeStore()
	store.records[testDomain] = storedSession()
	fix := newOrchFixture(t, store, &fakeValidator{ok: true}, &fakeFactory{})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Authenticated())
	assert.True(t, outcome.Reused)
	require.NotNil(t, outcome.Session)
	assert.Equal(t, "OLD", outcome.Session.Cookies[0].Value)

	// Reuse never touches the browser and never re-saves.
	assert.Zero(t, fix.factory.calls)
	assert.Zero(t, store.saves)
}

func TestAcquireRunsLoginWhenStoredSessionIsStale(t *testing.T) {
	store := newFakeStore()
	store.records[testDomain] = storedSession()

	page := &fakePage{
		probes:  []schemas.PageProbe{credsFormProbe, authenticatedProbe},
		cookies: []schemas.Cookie{{Name: "JSESSIONID", Value: "FRESH", Domain: "jira.example.com"}},
	}
	fix := newOrchFixture(t, store, &fakeValidator{ok: false}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Authenticated())
	assert.False(t, outcome.Reused)
	assert.Equal(t, "FRESH", outcome.Session.Cookies[0].Value)
	assert.Equal(t, 1, fix.validator.calls)
}

func TestAcquireHappyPathSingleCycle(t *testing.T) {
	page := &fakePage{
		probes: []schemas.PageProbe{credsFormProbe, authenticatedProbe},
		cookies: []schemas.Cookie{
			{Name: "JSESSIONID", Value: "NEW", Domain: "jira.example.com"},
			{Name: "xsrf", Value: "tok", Domain: ".example.com"},
			// Left behind by a delegated IdP; must not be persisted.
			{Name: "idp_session", Value: "foreign", Domain: "idp.corp.net"},
		},
	}
	store := newFakeStore()
	fix := newOrchFixture(t, store, &fakeValidator{}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	require.True(t, outcome.Authenticated())
	assert.Equal(t, []string{testTargetURL}, page.navigated)

	// Username and password were typed, the raw secret among them.
	assert.Equal(t, []string{"jdoe", "hunter2"}, page.fills)

	require.NotNil(t, outcome.Session)
	assert.Equal(t, testDomain, outcome.Session.TargetDomain)
	require.Len(t, outcome.Session.Cookies, 2)
	for _, c := range outcome.Session.Cookies {
		assert.NotEqual(t, "idp_session", c.Name)
	}

	assert.Equal(t, 1, store.saves)
	assert.NotNil(t, store.records[testDomain])
	assert.Equal(t, 1, page.closes, "the tab is released after the flow")

	require.NotNil(t, outcome.Attempt)
	assert.Equal(t, schemas.StateAuthenticated, outcome.Attempt.Outcome)
	assert.Zero(t, outcome.Attempt.Retries)
}

func TestAcquireCredentialsRejected(t *testing.T) {
	rejectedProbe := credsFormProbe
	rejectedProbe.HasFailureIndicator = true

	page := &fakePage{probes: []schemas.PageProbe{credsFormProbe, rejectedProbe}}
	store := newFakeStore()
	fix := newOrchFixture(t, store, &fakeValidator{}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Authenticated())
	assert.Equal(t, schemas.StateFailed, outcome.State)
	assert.Equal(t, "CredentialsRejected", outcome.FailureClass)

	// The credentials were typed exactly once; an explicit rejection is
	// never retried.
	assert.Len(t, page.fills, 2)
	assert.Zero(t, store.saves)
	assert.Equal(t, 1, page.closes)
}

func TestAcquireLoopBoundOnFrozenPage(t *testing.T) {
	// The login link clicks fine but the page never changes state.
	page := &fakePage{probes: []schemas.PageProbe{landingProbe}}
	fix := newOrchFixture(t, newFakeStore(), &fakeValidator{}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Authenticated())
	assert.Equal(t, "LoopBoundExceeded", outcome.FailureClass)
	assert.Equal(t, 6, page.clicks, "one action per iteration, then the bound trips")
	assert.Equal(t, 1, page.closes)
}

func TestAcquireTwoFactorTimeout(t *testing.T) {
	twoFactorProbe := schemas.PageProbe{
		URL:               "https://jira.example.com/login.jsp?2fa",
		HasTwoFactorInput: true,
	}
	page := &fakePage{probes: []schemas.PageProbe{twoFactorProbe}}
	fix := newOrchFixture(t, newFakeStore(), &fakeValidator{}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Authenticated())
	assert.Equal(t, "InteractiveTimeout", outcome.FailureClass)
	assert.Equal(t, 1, page.closes)
}

func TestAcquireSSOSettles(t *testing.T) {
	ssoProbe := schemas.PageProbe{URL: "https://idp.corp.net/authorize"}
	page := &fakePage{
		probes:  []schemas.PageProbe{ssoProbe, ssoProbe, ssoProbe, authenticatedProbe},
		cookies: []schemas.Cookie{{Name: "JSESSIONID", Value: "SSO", Domain: "jira.example.com"}},
	}
	fix := newOrchFixture(t, newFakeStore(), &fakeValidator{}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	require.True(t, outcome.Authenticated())
	assert.Equal(t, "SSO", outcome.Session.Cookies[0].Value)
	// The redirect was awaited, never acted on.
	assert.Zero(t, page.fills)
}

func TestAcquireRetriesFailedStepOnce(t *testing.T) {
	var clickAttempts int
	page := &fakePage{
		probes:  []schemas.PageProbe{landingProbe, landingProbe, authenticatedProbe},
		cookies: []schemas.Cookie{{Name: "JSESSIONID", Value: "OK", Domain: "jira.example.com"}},
	}
	page.onClick = func([]string) error {
		clickAttempts++
		if clickAttempts == 1 {
			return schemas.ErrElementNotFound
		}
		return nil
	}
	fix := newOrchFixture(t, newFakeStore(), &fakeValidator{}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Authenticated())
	assert.Equal(t, 1, outcome.Attempt.Retries)
	assert.Equal(t, 2, clickAttempts)
}

func TestAcquireSecondFailureInSameStateIsFinal(t *testing.T) {
	page := &fakePage{probes: []schemas.PageProbe{landingProbe}}
	page.onClick = func([]string) error { return schemas.ErrElementNotFound }
	fix := newOrchFixture(t, newFakeStore(), &fakeValidator{}, &fakeFactory{pages: []*fakePage{page}})

	outcome, err := fix.orch.Acquire(context.Background())
	require.NoError(t, err)

	assert.False(t, outcome.Authenticated())
	assert.Equal(t, "ElementNotFound", outcome.FailureClass)
	assert.Equal(t, 1, outcome.Attempt.Retries)
	assert.Equal(t, 2, page.clicks)
}

func TestPreflight(t *testing.T) {
	t.Run("no stored session", func(t *testing.T) {
		fix := newOrchFixture(t, newFakeStore(), &fakeValidator{}, &fakeFactory{})

		outcome, err := fix.orch.Preflight(context.Background())
		require.NoError(t, err)
		assert.False(t, outcome.Authenticated())
		assert.Equal(t, "SessionInvalid", outcome.FailureClass)
		assert.Zero(t, fix.validator.calls)
	})

	t.Run("stored session still valid", func(t *testing.T) {
		store := newFakeStore()
		store.records[testDomain] = storedSession()
		fix := newOrchFixture(t, store, &fakeValidator{ok: true}, &fakeFactory{})

		outcome, err := fix.orch.Preflight(context.Background())
		require.NoError(t, err)
		assert.True(t, outcome.Authenticated())
		assert.True(t, outcome.Reused)
	})

	t.Run("stored session stale", func(t *testing.T) {
		store := newFakeStore()
		store.records[testDomain] = storedSession()
		fix := newOrchFixture(t, store, &fakeValidator{ok: false}, &fakeFactory{})

		outcome, err := fix.orch.Preflight(context.Background())
		require.NoError(t, err)
		assert.False(t, outcome.Authenticated())
		assert.Equal(t, "SessionInvalid", outcome.FailureClass)
		// Preflight must never fall through to a login flow.
		assert.Zero(t, fix.factory.calls)
	})
}
