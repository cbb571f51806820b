package schemas

import "errors"

// -- Error Taxonomy --

// The engine surfaces failures through a small, closed set of sentinel
// errors. Callers classify with errors.Is; everything else wraps one of
// these with fmt.Errorf("...: %w", err).
var (
	// ErrElementNotFound means no selector candidate matched within the
	// bounded lookup window. Usually a flow-variant mismatch.
	ErrElementNotFound = errors.New("element not found")

	// ErrActionRejected means a control was present but not interactable
	// (disabled, hidden, or the page refused the fill/click).
	ErrActionRejected = errors.New("action rejected")

	// ErrInteractiveTimeout means an externally-completed step (2FA, manual
	// SSO) never resolved within its timeout class.
	ErrInteractiveTimeout = errors.New("interactive step timed out")

	// ErrCredentialsRejected means the page showed an explicit
	// authentication-failure indicator. Never retried with the same
	// credentials, to avoid account lockout.
	ErrCredentialsRejected = errors.New("credentials rejected")

	// ErrLoopBoundExceeded means the detect-act loop exhausted its iteration
	// budget, typically due to state oscillation.
	ErrLoopBoundExceeded = errors.New("detect-act loop bound exceeded")

	// ErrSessionInvalid marks a stored session that failed validation. Not
	// an error in itself; it is the normal trigger for re-acquisition.
	ErrSessionInvalid = errors.New("stored session invalid")
)

// FailureClass maps an error to its taxonomy name for structured outcomes.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrElementNotFound):
		return "ElementNotFound"
	case errors.Is(err, ErrActionRejected):
		return "ActionRejected"
	case errors.Is(err, ErrInteractiveTimeout):
		return "InteractiveTimeout"
	case errors.Is(err, ErrCredentialsRejected):
		return "CredentialsRejected"
	case errors.Is(err, ErrLoopBoundExceeded):
		return "LoopBoundExceeded"
	case errors.Is(err, ErrSessionInvalid):
		return "SessionInvalid"
	default:
		return "Internal"
	}
}

// Retryable reports whether a single step that failed with err may be tried
// once more within the same attempt (the page may still be settling).
func Retryable(err error) bool {
	return errors.Is(err, ErrElementNotFound) || errors.Is(err, ErrActionRejected)
}
