// Package logging holds the process-wide structured logger. Packages
// log through Entry/WithError rather than importing logrus directly so
// the sink and level are configured in one place.
package logging

import "github.com/sirupsen/logrus"

type Fields = logrus.Fields

var base = logrus.NewEntry(logrus.New())

// SetLevel adjusts the global verbosity; the CLI raises it to debug
// under --verbose.
func SetLevel(l logrus.Level) {
	base.Logger.SetLevel(l)
}

func Entry() *logrus.Entry {
	return base
}

func WithError(err error) *logrus.Entry {
	return base.WithError(err)
}

func Error(args ...interface{}) {
	base.Error(args...)
}
