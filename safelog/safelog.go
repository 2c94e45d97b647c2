// Package safelog wraps logrus with a PII-redaction hook and a narrow
// interface of event names plus logrus.Fields. Field values are untyped,
// so the compiler does not refuse structs or payloads; the hook masks
// sensitive keys and long digit runs in string values only. Every
// component that might otherwise be tempted to log a claims body or
// session response is expected to go through this package instead of
// holding a *logrus.Logger directly.
package safelog

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var tenDigitRun = regexp.MustCompile(`\b\d{10,}\b`)

var sensitiveKeys = regexp.MustCompile(`(?i)^(nationalid|dateofbirth)$`)

const redacted = "[REDACTED]"

// RedactionHook scans every field value logged through logrus and masks
// 10-digit runs (national identifiers, phone numbers) plus any field
// whose key names a directly-identifying attribute.
type RedactionHook struct{}

func (RedactionHook) Levels() []logrus.Level { return logrus.AllLevels }

func (RedactionHook) Fire(entry *logrus.Entry) error {
	for k, v := range entry.Data {
		if sensitiveKeys.MatchString(k) {
			entry.Data[k] = redacted
			continue
		}
		if s, ok := v.(string); ok {
			entry.Data[k] = redactString(s)
		}
	}
	entry.Message = redactString(entry.Message)
	return nil
}

func redactString(s string) string {
	if !tenDigitRun.MatchString(s) {
		return s
	}
	return tenDigitRun.ReplaceAllString(s, redacted)
}

// Logger is the narrow logging surface. It accepts logrus.Fields
// (string-keyed maps whose values are not type-checked) and, in Error,
// an error value of which only the first line of its message is logged.
type Logger struct {
	base *logrus.Logger
}

// New builds a Logger with the redaction hook installed. jsonFormat
// selects structured JSON output (production) vs the text formatter
// (local development), mirroring the teacher's environment-driven
// logging config.
func New(level logrus.Level, jsonFormat bool) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	if jsonFormat {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.AddHook(RedactionHook{})
	return &Logger{base: l}
}

func (l *Logger) Info(event string, fields logrus.Fields) {
	l.base.WithFields(fields).Info(event)
}

func (l *Logger) Warn(event string, fields logrus.Fields) {
	l.base.WithFields(fields).Warn(event)
}

// Error logs an event with a message-only error summary — never the
// error's %+v form, which might embed request/claim context.
func (l *Logger) Error(event string, err error, fields logrus.Fields) {
	f := logrus.Fields{}
	for k, v := range fields {
		f[k] = v
	}
	if err != nil {
		f["error"] = redactString(shallowMessage(err))
	}
	l.base.WithFields(f).Error(event)
}

func shallowMessage(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
