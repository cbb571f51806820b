package schemas

import "context"

// -- Page Interfaces --

// PageDriver is the minimal set of page primitives the engine needs. The
// production implementation drives a real browser tab over CDP; tests
// substitute fakes.
type PageDriver interface {
	// Navigate loads the URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Probe gathers the login-relevant signals in one read. It must be
	// side-effect free and safely callable repeatedly.
	Probe(ctx context.Context) (PageProbe, error)
	// FillFirst clears and fills the first matching, interactable candidate.
	// Returns ErrElementNotFound or ErrActionRejected on failure.
	FillFirst(ctx context.Context, candidates []string, value string) error
	// ClickFirst activates the first matching, interactable candidate.
	ClickFirst(ctx context.Context, candidates []string) error
	// PressEnter sends an Enter key event to the focused element. Used as
	// the submit fallback when no submit control matches.
	PressEnter(ctx context.Context) error
	// Cookies returns all cookies visible to the current browser context.
	Cookies(ctx context.Context) ([]Cookie, error)
	// SetCookies installs cookies before navigation, replaying a session.
	SetCookies(ctx context.Context, cookies []Cookie) error
	// Close releases the underlying tab. Safe to call more than once.
	Close(ctx context.Context) error
}

// PageFactory produces isolated pages. Each LoginAttempt and each validation
// probe runs in its own page so state never bleeds between them.
type PageFactory interface {
	NewPage(ctx context.Context) (PageDriver, error)
}

// -- Session Interfaces --

// SessionStore persists one Session per target domain.
type SessionStore interface {
	// Save atomically replaces the stored record for the session's domain.
	Save(session *Session) error
	// Load returns the stored session for the domain, or nil when no record
	// exists or the record fails structural validation. Structural validity
	// is distinct from authentication validity, which is the validator's
	// concern.
	Load(targetDomain string) (*Session, error)
}

// SessionValidator decides whether a candidate session still grants access
// to a protected resource. It is the single source of truth for "is
// re-authentication needed"; cookie metadata is never used as a substitute.
type SessionValidator interface {
	// Validate must not mutate the candidate session. It returns false for
	// a session scoped to a different domain than the probe URL.
	Validate(ctx context.Context, session *Session, probeURL string) (bool, error)
}
