// Package meshlog centralizes structured logging for the engine. Every
// component logs through a *logrus.Entry scoped to its own "component"
// field instead of ad-hoc fmt.Printf calls.
package meshlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the global log level (e.g. from config.Debug).
func SetLevel(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetLevel(logrus.InfoLevel)
}

// SetOutput redirects logging, primarily for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// For returns a logger scoped to the named component, e.g. "orchestrator".
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
