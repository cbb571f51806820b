// File: internal/flow/detector.go
package flow

import (
	"fmt"
	"net/url"

	"github.com/xkilldash9x/authgate/api/schemas"
)

// Detector classifies a PageProbe into exactly one FlowState. It holds no
// page handle and performs no I/O: classification is a pure function over
// the probe, so it is idempotent and trivially repeatable.
type Detector struct {
	targetOrigin *url.URL
}

// NewDetector builds a detector anchored to the original target origin.
// Off-origin navigation relative to this anchor is what signals a delegated
// SSO step.
func NewDetector(targetURL string) (*Detector, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", targetURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("target URL must be absolute: %q", targetURL)
	}
	return &Detector{targetOrigin: u}, nil
}

// Classify resolves the active FlowState for a probe. Multiple signals can
// coexist transiently (a modal rendered on top of a credentials form), so
// precedence is fixed: consent modal > 2FA prompt > credentials form >
// off-origin redirect > authenticated > landing.
//
// A credentials form wins over an off-origin URL on purpose: delegated IdP
// login pages are still credential forms the executor can fill.
func (d *Detector) Classify(probe schemas.PageProbe) schemas.FlowState {
	switch {
	case probe.HasConsentModal:
		return schemas.StateConsentModal

	// A 2FA prompt is a short code input with no visible password field;
	// a password field beside it means we are on an ordinary login form.
	case probe.HasTwoFactorInput && !probe.HasPasswordField:
		return schemas.StateTwoFactorPrompt

	case probe.HasUsernameField || probe.HasPasswordField:
		return schemas.StateCredentialsForm

	case !d.sameOrigin(probe.URL):
		return schemas.StateSSORedirect

	// Authenticated requires the conjunction: the marker is present AND no
	// login affordance remains visible.
	case probe.HasAuthMarker && !probe.HasLoginAffordance:
		return schemas.StateAuthenticated

	default:
		return schemas.StateUnauthenticatedLanding
	}
}

// Settled is the waiter predicate for delegated steps: control has returned
// to the target origin and the page classifies as authenticated.
func (d *Detector) Settled(probe schemas.PageProbe) bool {
	return d.sameOrigin(probe.URL) && d.Classify(probe) == schemas.StateAuthenticated
}

func (d *Detector) sameOrigin(rawURL string) bool {
	if rawURL == "" {
		// No URL yet (blank tab); not evidence of an off-origin redirect.
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == d.targetOrigin.Scheme && u.Host == d.targetOrigin.Host
}
