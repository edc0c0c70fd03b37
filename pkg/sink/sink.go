package sink

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Severity is the ordinal importance of an event. It is kept on every event
// but not rendered in the log line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Level maps the severity onto the zerolog level used for the mirror log.
func (s Severity) Level() zerolog.Level {
	switch s {
	case SeverityInfo:
		return zerolog.InfoLevel
	case SeverityWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Event categories written to the log.
const (
	TagInit   = "INIT"
	TagStats  = "STATS"
	TagDetect = "DETECT"
)

// TimeLayout is the timestamp format of a log line.
const TimeLayout = "2006-01-02 15:04:05"

// Event is one log record.
type Event struct {
	Time     time.Time
	Severity Severity
	Tag      string
	Message  string
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Line renders the event as a single log line, newline terminated. Line
// breaks inside the tag or message are folded to spaces so an event is always
// exactly one line.
func (e Event) Line() string {
	return fmt.Sprintf("[%s] [%s] %s\n",
		e.Time.Format(TimeLayout),
		lineBreaks.Replace(e.Tag),
		lineBreaks.Replace(e.Message))
}

// Sink is the single append point for log events. Implementations serialize
// concurrent callers so that events never interleave.
type Sink interface {
	Append(sev Severity, tag, message string) error
}
