package schemas

import (
	"time"

	"github.com/google/uuid"
)

// -- Flow State --

// FlowState classifies what the target page is currently presenting. Exactly
// one state is active at any inspection point; ambiguity is resolved by the
// detector's fixed precedence order.
type FlowState string

const (
	StateUnauthenticatedLanding FlowState = "UNAUTHENTICATED_LANDING"
	StateCredentialsForm        FlowState = "CREDENTIALS_FORM"
	StateSSORedirect            FlowState = "SSO_REDIRECT"
	StateConsentModal           FlowState = "CONSENT_MODAL"
	StateTwoFactorPrompt        FlowState = "TWO_FACTOR_PROMPT"
	StateAuthenticated          FlowState = "AUTHENTICATED"
	StateFailed                 FlowState = "FAILED"
)

// -- Page Probe --

// PageProbe is a point-in-time snapshot of the login-relevant signals on the
// current page. It is gathered in a single DOM evaluation so the detector can
// classify it as a pure function, free of side effects.
type PageProbe struct {
	URL   string `json:"url"`
	Title string `json:"title"`

	HasConsentModal     bool `json:"consentModal"`
	HasTwoFactorInput   bool `json:"twoFactorInput"`
	HasUsernameField    bool `json:"usernameField"`
	HasPasswordField    bool `json:"passwordField"`
	HasAuthMarker       bool `json:"authMarker"`
	HasLoginAffordance  bool `json:"loginAffordance"`
	HasFailureIndicator bool `json:"failureIndicator"`
}

// -- Session --

// Cookie is the serialized form of a single browser cookie. The field set
// matches what browser-automation cookie-jar APIs accept, so a persisted
// session can be replayed into a fresh browser context unchanged.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
}

// Session is the unit of persisted authentication state: the cookies that,
// when replayed, grant access without repeating the login flow. A Session is
// meaningful only relative to its TargetDomain and must never be applied
// against a different origin. Sessions are never mutated in place;
// re-acquisition produces a new Session that replaces the stored one.
type Session struct {
	Cookies      []Cookie  `json:"cookies"`
	CapturedAt   time.Time `json:"capturedAt"`
	TargetDomain string    `json:"targetDomain"`
}

// Clone returns a deep copy. Collaborators that must not mutate a candidate
// Session (the validator in particular) operate on clones.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		CapturedAt:   s.CapturedAt,
		TargetDomain: s.TargetDomain,
		Cookies:      make([]Cookie, len(s.Cookies)),
	}
	copy(out.Cookies, s.Cookies)
	return out
}

// -- Credentials --

// Secret is an opaque credential value. It stringifies to a redacted
// placeholder so it cannot leak through logging or %v formatting.
type Secret string

const redactedPlaceholder = "[REDACTED]"

func (s Secret) String() string { return redactedPlaceholder }

// GoString keeps %#v output redacted as well.
func (s Secret) GoString() string { return redactedPlaceholder }

// Reveal returns the underlying value. Call sites are expected to hand the
// result straight to the page, never to a logger or an error message.
func (s Secret) Reveal() string { return string(s) }

// Credentials is the (principal, secret) pair for the target application,
// sourced from configuration and threaded explicitly through the engine.
type Credentials struct {
	Principal string
	Secret    Secret
}

// -- Login Attempt --

// Action names the single step the executor performed (or delegated) for a
// detected state.
type Action string

const (
	ActionNone            Action = "none"
	ActionOpenLogin       Action = "open_login"
	ActionFillCredentials Action = "fill_credentials"
	ActionDismissModal    Action = "dismiss_modal"
	ActionAwaitSSO        Action = "await_sso"
	ActionAwaitTwoFactor  Action = "await_two_factor"
	ActionHarvestSession  Action = "harvest_session"
)

// AttemptStep is one (state, action, timestamp) entry in an attempt trace.
type AttemptStep struct {
	State  FlowState `json:"state"`
	Action Action    `json:"action"`
	At     time.Time `json:"at"`
	Err    string    `json:"error,omitempty"`
}

// LoginAttempt is the ephemeral record of a single acquisition run, kept for
// diagnostics and retry bookkeeping only. It is never persisted.
type LoginAttempt struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Steps     []AttemptStep `json:"steps"`
	Retries   int           `json:"retries"`
	Outcome   FlowState     `json:"outcome"`
}

// NewLoginAttempt starts a fresh attempt record.
func NewLoginAttempt() *LoginAttempt {
	return &LoginAttempt{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
}

// Record appends a step to the trace.
func (a *LoginAttempt) Record(state FlowState, action Action, err error) {
	step := AttemptStep{State: state, Action: action, At: time.Now().UTC()}
	if err != nil {
		step.Err = err.Error()
	}
	a.Steps = append(a.Steps, step)
}

// LastState returns the most recently observed FlowState, or StateFailed if
// nothing was recorded yet.
func (a *LoginAttempt) LastState() FlowState {
	if len(a.Steps) == 0 {
		return StateFailed
	}
	return a.Steps[len(a.Steps)-1].State
}

// -- Outcome --

// Outcome is the single structured result handed back to the calling
// harness: AUTHENTICATED with a Session, or FAILED with a failure class and
// the full attempt trace for diagnosis.
type Outcome struct {
	State        FlowState     `json:"state"`
	Reused       bool          `json:"reused"`
	Session      *Session      `json:"session,omitempty"`
	FailureClass string        `json:"failureClass,omitempty"`
	FinalURL     string        `json:"finalUrl,omitempty"`
	FinalTitle   string        `json:"finalTitle,omitempty"`
	Attempt      *LoginAttempt `json:"attempt,omitempty"`
}

// Authenticated reports whether the outcome satisfies the process exit-code
// contract (exit 0).
func (o *Outcome) Authenticated() bool {
	return o != nil && o.State == StateAuthenticated
}
