package triage

import "context"

// Store is the persistence interface for assessments and vitals checks.
// Implementations assign record IDs and must be safe for concurrent use.
type Store interface {
	SaveAssessment(ctx context.Context, r *Record) (string, error)
	SaveVitals(ctx context.Context, v *VitalsRecord) (string, error)
	Get(ctx context.Context, id string) (*Record, bool, error)
	// ListRecent returns up to limit assessments, most recent first.
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
	// ListRecentVitals returns up to limit vitals checks, most recent first.
	ListRecentVitals(ctx context.Context, limit int) ([]*VitalsRecord, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Notifier delivers assessments that need human attention.
type Notifier interface {
	Send(ctx context.Context, r *Record) error
}
