package mediasoup

import (
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// zlog is the zerolog sink every component logger is derived from. The
// teacher's stack logs to stderr with console formatting in non-DEBUG_COLORS
// environments switched off; we keep the same knob so tests can disable
// color codes in captured output.
var zlog = func() zerolog.Logger {
	var writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if os.Getenv("DEBUG_COLORS") == "false" {
		writer.NoColor = true
	}
	zerologr.SetMaxV(1)
	return zerolog.New(writer).With().Timestamp().Logger()
}()

// logger is the package-level logger used by code that has no more
// specific component name to attach, e.g. the event emitter's
// safeEmit failure reporting.
var logger = NewLogger("mediasoup")

// NewLogger returns a logr.Logger scoped to the given component name,
// the same pattern the teacher uses throughout (one Logger per Worker,
// Router, Transport, Producer, Consumer, ...).
func NewLogger(name string) logr.Logger {
	return zerologr.New(&zlog).WithName(name)
}
