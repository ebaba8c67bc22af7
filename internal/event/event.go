// Package event defines the record the async I/O bridge hands to the
// container's dispatcher: an application name plus a callback closure
// that re-enters the named guest once the dispatcher has looked it up.
// Keeping Event free of any dependency on the application package itself
// avoids an import cycle between the goroutines that produce completions
// (internal/app) and the single goroutine that serializes guest re-entry
// (internal/manager).
package event

import "context"

// Target is the subset of Application behavior the dispatcher needs to
// deliver an Event: a name for routing and the three invocation thunks
// every async namespace uses to report completion.
type Target interface {
	Name() string
	Invoke1(ctx context.Context, target, d0 int32) (int32, error)
	Invoke2(ctx context.Context, target, d0, d1 int32) (int32, error)
	Invoke3(ctx context.Context, target, d0, d1, d2 int32) (int32, error)
}

// Event carries an application name plus a callback to reinvoke. AppName
// lets the dispatcher route the event to the right Target without the
// producer goroutine needing a reference to the manager's application
// map; Notify performs the actual re-entry once that lookup succeeds.
type Event struct {
	AppName string
	Notify  func(ctx context.Context, target Target) error
}

// Timeout builds the one concrete event kind used today: a
// timer.set_timeout firing that invokes a single-argument callback.
// (timer.set_immediate callbacks are run by the Application itself and
// do not pass through an Event.)
func Timeout(appName string, cbTarget, cbData int32) Event {
	return Event{
		AppName: appName,
		Notify: func(ctx context.Context, target Target) error {
			_, err := target.Invoke1(ctx, cbTarget, cbData)
			return err
		},
	}
}
