// Package validate checks caller input before it reaches the triage
// service. The HTTP API and the CLI share these rules.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/tflow/internal/triage"
)

const (
	MinSymptomsLen = 5
	MaxSymptomsLen = 2000

	DefaultLimit = 10
	MaxLimit     = 100
)

// piiIndicators are phrases suggesting the symptom text carries
// identifying data that must not be stored or sent to the AI provider.
var piiIndicators = []string{"ssn", "social security", "credit card", "phone number"}

// Accepted vitals input ranges. These bound plausible measurements and are
// wider than the clinical flag thresholds.
var (
	pulseRange     = [2]int{30, 250}
	systolicRange  = [2]int{60, 300}
	diastolicRange = [2]int{30, 200}
)

// Error is a rejected input field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Symptoms trims the text and enforces length and PII rules.
func Symptoms(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalid("symptoms", "must not be empty")
	}
	n := utf8.RuneCountInString(s)
	if n < MinSymptomsLen || n > MaxSymptomsLen {
		return "", invalid("symptoms", "length must be between %d and %d characters, got %d", MinSymptomsLen, MaxSymptomsLen, n)
	}
	lower := strings.ToLower(s)
	for _, p := range piiIndicators {
		if strings.Contains(lower, p) {
			return "", invalid("symptoms", "appears to contain sensitive information")
		}
	}
	return s, nil
}

// Vitals checks ranges for the readings present. With requireAll
// every reading must be supplied.
func Vitals(v *triage.Vitals, requireAll bool) error {
	checks := []struct {
		field string
		val   *int
		rng   [2]int
	}{
		{"pulse", v.Pulse, pulseRange},
		{"systolicBP", v.SystolicBP, systolicRange},
		{"diastolicBP", v.DiastolicBP, diastolicRange},
	}
	for _, c := range checks {
		if c.val == nil {
			if requireAll {
				return invalid(c.field, "is required")
			}
			continue
		}
		if *c.val < c.rng[0] || *c.val > c.rng[1] {
			return invalid(c.field, "must be between %d and %d, got %d", c.rng[0], c.rng[1], *c.val)
		}
	}
	if v.SystolicBP != nil && v.DiastolicBP != nil && *v.DiastolicBP >= *v.SystolicBP {
		return invalid("diastolicBP", "must be lower than systolicBP")
	}
	return nil
}

// Limit parses a list limit: default 10, allowed 1..100.
func Limit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxLimit {
		return 0, invalid("limit", "must be between 1 and %d", MaxLimit)
	}
	return n, nil
}
