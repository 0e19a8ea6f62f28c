package logger

import (
	"io"
	"regexp"
)

// defaultSecretPatterns match the secrets this daemon handles: provider
// API keys, bearer tokens, and vault passwords.
var defaultSecretPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`password["\s:=]+[^\s"]+`,
	`passphrase["\s:=]+[^\s"]+`,
	`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	`secret["\s:=]+[^\s"]+`,
}

// Redactor scrubs sensitive values from log output. Vault passwords and
// provider API keys must never reach disk in the clear.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor builds a redactor with the default secret patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range defaultSecretPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern registers an additional redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every pattern match with a placeholder.
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap returns a writer that redacts before forwarding to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{out: w, redactor: r}
}

type redactingWriter struct {
	out      io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	return w.out.Write([]byte(w.redactor.Redact(string(p))))
}
