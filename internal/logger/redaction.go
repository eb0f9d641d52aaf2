package logger

import (
	"io"
	"regexp"
)

// Redactor strips credentials before log lines reach disk. The client
// logs request metadata liberally, and the backend API key must never
// ride along.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with default patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Bearer auth headers
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// API key fields in serialized config or URLs
			regexp.MustCompile(`api[_-]?key["\s:=]+[a-zA-Z0-9._-]{8,}`),

			// Provider-style secret keys
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Generic token/secret assignments
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces matches with a placeholder.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap returns a writer that redacts everything passing through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the original length so zerolog does not see short writes
	// when redaction shrinks the line.
	return len(p), nil
}
