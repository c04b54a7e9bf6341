// Package logging is a thin leveled wrapper around the standard library's
// log.Logger, matching the teacher's unadorned log.Printf style rather than
// a structured logging library (none appears anywhere in the example
// corpus).
package logging

import (
	"log"
	"os"
)

// Level identifies the severity of a log line.
type Level int

const (
	Info Level = iota
	Warning
	Error
	// Authentication is always emitted regardless of verbosity, since auth
	// failures and bans are operationally significant even in quiet mode.
	Authentication
)

func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Warning:
		return "WARN"
	case Error:
		return "ERROR"
	case Authentication:
		return "AUTH"
	default:
		return "UNKNOWN"
	}
}

// Log is the logging interface consumed by the rest of the server.
type Log interface {
	WriteLine(level Level, format string, args ...interface{})
}

// StdLog implements Log on top of a standard library *log.Logger. Verbose
// controls whether Info/Warning lines are written; Error and
// Authentication are always written.
type StdLog struct {
	logger  *log.Logger
	Verbose bool
}

// New returns a StdLog writing to os.Stderr with the standard date/time
// prefix, matching the teacher's default logger construction.
func New(verbose bool) *StdLog {
	return &StdLog{
		logger:  log.New(os.Stderr, "", log.LstdFlags),
		Verbose: verbose,
	}
}

// WriteLine writes one formatted log line prefixed with the level name.
func (s *StdLog) WriteLine(level Level, format string, args ...interface{}) {
	if !s.Verbose && (level == Info || level == Warning) {
		return
	}
	s.logger.Printf("[%s] "+format, append([]interface{}{level}, args...)...)
}
