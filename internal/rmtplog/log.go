// Package rmtplog wraps github.com/charmbracelet/log, the logger the
// teacher corpus's newest subsystems standardize on (client2/arq.go,
// client2/connection.go both build a `log.NewWithOptions(w, log.Options{
// ReportTimestamp: true, Prefix: ...})` sub-logger per component). RMTP
// does the same: one Prefix-scoped logger per engine instance.
package rmtplog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger prefixed for one engine instance, writing to w (or
// os.Stderr if w is nil).
func New(w io.Writer, prefix string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	})
}
