// Package notifier pushes operational alerts (halts, fatal errors,
// forced closes) to an external channel. Components depend on the
// small Notifier interface, never on a concrete transport.
package notifier

// Notifier delivers a plain-text alert. Implementations must not
// block the caller for long; delivery is best effort.
type Notifier interface {
	Notify(text string) error
}

// Noop discards every alert. Used in backtests.
type Noop struct{}

func (Noop) Notify(string) error { return nil }
