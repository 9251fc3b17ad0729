// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/tflow/internal/triage"
)

// Store holds assessments and vitals checks in memory. Suitable for dev/testing.
type Store struct {
	mu          sync.RWMutex
	records     map[string]*triage.Record
	order       []string // assessment IDs in insertion order
	vitals      map[string]*triage.VitalsRecord
	vitalsOrder []string
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records: make(map[string]*triage.Record),
		vitals:  make(map[string]*triage.VitalsRecord),
	}
}

// SaveAssessment stores a copy of the record under a new ID.
func (s *Store) SaveAssessment(_ context.Context, r *triage.Record) (string, error) {
	id := ulid.Make().String()
	cp := copyRecord(r)
	cp.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = cp
	s.order = append(s.order, id)
	return id, nil
}

// SaveVitals stores a copy of the vitals check under a new ID.
func (s *Store) SaveVitals(_ context.Context, v *triage.VitalsRecord) (string, error) {
	id := ulid.Make().String()
	cp := copyVitalsRecord(v)
	cp.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vitals[id] = cp
	s.vitalsOrder = append(s.vitalsOrder, id)
	return id, nil
}

// Get retrieves an assessment by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return copyRecord(r), true, nil
}

// ListRecent returns up to limit assessments, most recent first.
func (s *Store) ListRecent(_ context.Context, limit int) ([]*triage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*triage.Record, 0, min(max(limit, 0), len(s.order)))
	for _, id := range newestFirst(s.order, func(id string) int64 { return s.records[id].CreatedAt.UnixNano() }) {
		if len(out) >= limit {
			break
		}
		out = append(out, copyRecord(s.records[id]))
	}
	return out, nil
}

// ListRecentVitals returns up to limit vitals checks, most recent first.
func (s *Store) ListRecentVitals(_ context.Context, limit int) ([]*triage.VitalsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*triage.VitalsRecord, 0, min(max(limit, 0), len(s.vitalsOrder)))
	for _, id := range newestFirst(s.vitalsOrder, func(id string) int64 { return s.vitals[id].CreatedAt.UnixNano() }) {
		if len(out) >= limit {
			break
		}
		out = append(out, copyVitalsRecord(s.vitals[id]))
	}
	return out, nil
}

// Stats counts assessments per level and flagged vitals checks.
func (s *Store) Stats(_ context.Context) (*triage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := triage.NewStats()
	for _, r := range s.records {
		st.TotalAssessments++
		st.Levels[r.Level]++
	}
	for _, v := range s.vitals {
		st.TotalVitals++
		if v.Flags.AnyFlag {
			st.FlaggedVitals++
		} else {
			st.UnflaggedVitals++
		}
	}
	return st, nil
}

// newestFirst orders ids by timestamp descending. Equal timestamps keep
// the later insertion first.
func newestFirst(ids []string, ts func(string) int64) []string {
	out := slices.Clone(ids)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b string) int {
		ta, tb := ts(a), ts(b)
		switch {
		case ta > tb:
			return -1
		case ta < tb:
			return 1
		default:
			return 0
		}
	})
	return out
}

func copyRecord(r *triage.Record) *triage.Record {
	cp := *r
	cp.PatientInfo = maps.Clone(r.PatientInfo)
	if r.Vitals != nil {
		v := copyVitals(*r.Vitals)
		cp.Vitals = &v
	}
	if r.VitalsFlags != nil {
		f := *r.VitalsFlags
		cp.VitalsFlags = &f
	}
	return &cp
}

func copyVitalsRecord(v *triage.VitalsRecord) *triage.VitalsRecord {
	cp := *v
	cp.Vitals = copyVitals(v.Vitals)
	cp.PatientInfo = maps.Clone(v.PatientInfo)
	return &cp
}

func copyVitals(v triage.Vitals) triage.Vitals {
	return triage.Vitals{
		Pulse:       copyInt(v.Pulse),
		SystolicBP:  copyInt(v.SystolicBP),
		DiastolicBP: copyInt(v.DiastolicBP),
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	n := *p
	return &n
}
