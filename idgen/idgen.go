// Package idgen generates identifiers for measurements and requests.
//
// IDs are UUIDv7 strings, so they sort by creation time, optionally behind a
// short type prefix ("msr_", "trc_").
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Prefixes in use.
const (
	MeasurementPrefix = "msr_"
	TracePrefix       = "trc_"
)

var (
	// Measurement names one loading episode in the journal.
	Measurement Generator = Prefixed(MeasurementPrefix, UUIDv7())
	// Trace names one inbound request.
	Trace Generator = Prefixed(TracePrefix, UUIDv7())
)

// Parse validates a UUID string, optionally behind prefix, and returns it
// normalized.
func Parse(prefix, s string) (string, error) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", fmt.Errorf("idgen: %q lacks prefix %q", s, prefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return prefix + u.String(), nil
}
