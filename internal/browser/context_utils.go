// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext derives a context from primary (which carries the CDP
// target for this tab) that is additionally canceled when secondary is
// canceled. chromedp operations must run on a descendant of the tab context
// to reach the right target, while still honoring the caller's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
