package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates the severity label from the message text on the wire.
const Delimiter = ';'

// ErrInvalidSeverity is returned for any label outside the fixed severity set.
var ErrInvalidSeverity = errors.New("invalid log level")

// Severity is one of the labels the logging server accepts.
type Severity string

const (
	Debug    Severity = "DEBUG"
	Info     Severity = "INFO"
	Warning  Severity = "WARNING"
	Error    Severity = "ERROR"
	Critical Severity = "CRITICAL"
)

var severities = []Severity{Debug, Info, Warning, Error, Critical}

// Severities returns the severity set in its defined order.
func Severities() []Severity {
	return append([]Severity(nil), severities...)
}

// ParseSeverity validates s case-insensitively and returns it in upper case.
// Surrounding whitespace is not trimmed.
func ParseSeverity(s string) (Severity, error) {
	up := Severity(strings.ToUpper(s))
	for _, sev := range severities {
		if sev == up {
			return sev, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
}

// Valid reports whether s is a member of the severity set.
func (s Severity) Valid() bool {
	for _, sev := range severities {
		if sev == s {
			return true
		}
	}
	return false
}

func (s Severity) String() string { return string(s) }

// Encode builds the wire payload "<SEVERITY>;<text>". There is no terminator
// and no escaping: a ';' inside text is sent as is, so a receiver must split
// on the first delimiter only. Characters outside ASCII become '?'.
func Encode(sev Severity, text string) []byte {
	b := make([]byte, 0, len(sev)+1+len(text))
	b = appendASCII(b, string(sev))
	b = append(b, Delimiter)
	return appendASCII(b, text)
}

// Decode splits a payload on its first delimiter. ok is false when the
// payload carries no delimiter at all.
func Decode(p []byte) (label, text string, ok bool) {
	s := string(p)
	i := strings.IndexByte(s, Delimiter)
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+1:], true
}

func appendASCII(b []byte, s string) []byte {
	for _, r := range s {
		if r > 0x7f {
			b = append(b, '?')
			continue
		}
		b = append(b, byte(r))
	}
	return b
}
