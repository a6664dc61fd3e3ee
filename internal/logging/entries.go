// pattern: Functional Core

package logging

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one structured diagnostic record. The broker intentionally
// drops several event classes without any protocol-level feedback
// (unknown rooms, permission-denied code changes); entries on the
// diagnostic channel are where those drops stay observable.
type Entry struct {
	Timestamp time.Time      // When the record was created
	Level     string         // DEBUG, INFO, WARN, ERROR
	Scope     string         // Component scope (e.g., "broker", "term.ab12")
	Message   string         // Log message
	Fields    map[string]any // Additional structured fields
}

// String returns a human-readable representation of the entry.
func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(e.Level)
	sb.WriteString(" [")
	sb.WriteString(e.Scope)
	sb.WriteString("] ")
	sb.WriteString(e.Message)

	for k, v := range e.Fields {
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}

	return sb.String()
}

// MatchesScope reports whether the entry's scope starts with the given
// prefix. An empty prefix matches all entries.
func (e Entry) MatchesScope(prefix string) bool {
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(e.Scope, prefix)
}

// ParseLevel normalizes a log level string to uppercase.
// Returns "INFO" for unknown levels.
func ParseLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}
