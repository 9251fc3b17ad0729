package triage

import (
	"fmt"
	"strings"
	"time"
)

// Level is an urgency tier. Levels are totally ordered, Critical highest.
type Level string

const (
	LevelCritical Level = "Critical"
	LevelUrgent   Level = "Urgent"
	LevelModerate Level = "Moderate"
	LevelLow      Level = "Low"
)

// Levels returns all urgency levels in priority order, most urgent first.
func Levels() []Level {
	return []Level{LevelCritical, LevelUrgent, LevelModerate, LevelLow}
}

// Rank orders levels for tie-breaks. Higher is more urgent; unknown levels rank 0.
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelUrgent:
		return 3
	case LevelModerate:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether l is one of the four canonical labels.
func (l Level) Valid() bool {
	return l.Rank() > 0
}

// ParseLevel accepts only the four canonical labels, exact case.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("invalid urgency level %q (valid: Critical, Urgent, Moderate, Low)", s)
	}
	return l, nil
}

// canonicalize applies the label capitalization used for model output:
// first letter upper, rest lower.
func canonicalize(word string) string {
	if word == "" {
		return ""
	}
	lower := strings.ToLower(word)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// Source records which classification path actually produced a level.
type Source string

const (
	SourceAI    Source = "ai"
	SourceRules Source = "rules"
)

// PatientInfo is opaque demographic context, stored unmodified.
type PatientInfo map[string]any

// Vitals holds optional vital-sign readings. A nil field was not measured.
type Vitals struct {
	Pulse       *int `json:"pulse,omitempty"`
	SystolicBP  *int `json:"systolicBP,omitempty"`
	DiastolicBP *int `json:"diastolicBP,omitempty"`
}

// Present reports whether any reading is set.
func (v Vitals) Present() bool {
	return v.Pulse != nil || v.SystolicBP != nil || v.DiastolicBP != nil
}

// VitalsFlags marks readings outside their normal range.
type VitalsFlags struct {
	PulseFlag     bool `json:"pulse_flag"`
	SystolicFlag  bool `json:"systolic_flag"`
	DiastolicFlag bool `json:"diastolic_flag"`
	AnyFlag       bool `json:"any_flag"`
}

// Classification is the outcome of the classify step, carrying provenance.
type Classification struct {
	Level          Level
	Source         Source
	FallbackReason string
}

// Record is a persisted triage assessment. Immutable after creation.
type Record struct {
	ID             string       `json:"id"`
	Symptoms       string       `json:"symptoms"`
	Level          Level        `json:"triage_level"`
	PatientInfo    PatientInfo  `json:"patient_info"`
	UsedAI         bool         `json:"use_ai"`
	RequestedAI    bool         `json:"requested_ai"`
	Vitals         *Vitals      `json:"vitals_data,omitempty"`
	VitalsFlags    *VitalsFlags `json:"vitals_flags,omitempty"`
	VitalsRecordID string       `json:"vitals_record_id,omitempty"`
	Model          string       `json:"model,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// VitalsRecord is a persisted standalone vitals check.
type VitalsRecord struct {
	ID          string      `json:"id"`
	Vitals      Vitals      `json:"vitals"`
	Flags       VitalsFlags `json:"flags"`
	PatientInfo PatientInfo `json:"patient_info"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Stats aggregates stored assessments and vitals checks.
type Stats struct {
	TotalAssessments int           `json:"total_assessments"`
	Levels           map[Level]int `json:"levels_breakdown"`
	TotalVitals      int           `json:"total_checks"`
	FlaggedVitals    int           `json:"flagged_cases"`
	UnflaggedVitals  int           `json:"unflagged_cases"`
}

// NewStats returns Stats with every level present at zero.
func NewStats() *Stats {
	s := &Stats{Levels: make(map[Level]int, 4)}
	for _, l := range Levels() {
		s.Levels[l] = 0
	}
	return s
}

// FlagPercentage is the share of flagged vitals checks, rounded to two decimals.
func (s *Stats) FlagPercentage() float64 {
	if s.TotalVitals == 0 {
		return 0
	}
	pct := float64(s.FlaggedVitals) / float64(s.TotalVitals) * 100
	return float64(int64(pct*100+0.5)) / 100
}
