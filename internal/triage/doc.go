// Package triage provides the business boundary for tflow's symptom triage.
// It defines the Service (assessment lifecycle, persistence, notification),
// Engine (AI classification with rule-based fallback), the pure vitals and
// keyword classifiers, the Store interface, and domain models.
package triage
