// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/tflow/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/tflow/internal/triage/pgstore")

// maxPrealloc caps the slice capacity reserved for a list query.
const maxPrealloc = 100

//go:embed schema.sql
var schema string

// Store persists assessments and vitals checks in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SaveAssessment inserts the record under a new ID. Vitals are stored
// inline so the record reads back complete even when its linked vitals
// check was not saved.
func (s *Store) SaveAssessment(ctx context.Context, r *triage.Record) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.SaveAssessment", "INSERT")
	defer span.End()

	patientJSON, err := marshalPatient(r.PatientInfo)
	if err != nil {
		fail(span, err)
		return "", err
	}

	var v triage.Vitals
	if r.Vitals != nil {
		v = *r.Vitals
	}
	var vitalsID *string
	if r.VitalsRecordID != "" {
		vitalsID = &r.VitalsRecordID
	}

	id := ulid.Make().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO assessments (
			id, symptoms, urgency_level, patient_info, used_ai, requested_ai, model,
			pulse, systolic_bp, diastolic_bp, vitals_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id, r.Symptoms, string(r.Level), patientJSON, r.UsedAI, r.RequestedAI, r.Model,
		v.Pulse, v.SystolicBP, v.DiastolicBP, vitalsID, r.CreatedAt,
	)
	if err != nil {
		err = fmt.Errorf("insert assessment: %w", err)
		fail(span, err)
		return "", err
	}
	span.SetAttributes(attribute.String("tflow.record.id", id))
	return id, nil
}

// SaveVitals inserts a vitals check under a new ID.
func (s *Store) SaveVitals(ctx context.Context, vr *triage.VitalsRecord) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.SaveVitals", "INSERT")
	defer span.End()

	patientJSON, err := marshalPatient(vr.PatientInfo)
	if err != nil {
		fail(span, err)
		return "", err
	}

	id := ulid.Make().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vitals_checks (
			id, pulse, systolic_bp, diastolic_bp,
			pulse_flag, systolic_flag, diastolic_flag, any_flag,
			patient_info, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		id, vr.Vitals.Pulse, vr.Vitals.SystolicBP, vr.Vitals.DiastolicBP,
		vr.Flags.PulseFlag, vr.Flags.SystolicFlag, vr.Flags.DiastolicFlag, vr.Flags.AnyFlag,
		patientJSON, vr.CreatedAt,
	)
	if err != nil {
		err = fmt.Errorf("insert vitals check: %w", err)
		fail(span, err)
		return "", err
	}
	return id, nil
}

const assessmentColumns = `id, symptoms, urgency_level, patient_info, used_ai, requested_ai, model,
	pulse, systolic_bp, diastolic_bp, vitals_id, created_at`

// Get retrieves an assessment by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	r, err := scanAssessment(s.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		fail(span, err)
		return nil, false, err
	}
	return r, true, nil
}

// ListRecent returns up to limit assessments, most recent first. A limit
// below 1 yields an empty list.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*triage.Record, error) {
	if limit < 1 {
		return []*triage.Record{}, nil
	}

	ctx, span := startSpan(ctx, "pgstore.ListRecent", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.Int("db.limit", limit))

	rows, err := s.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		err = fmt.Errorf("query assessments: %w", err)
		fail(span, err)
		return nil, err
	}
	defer rows.Close()

	out := make([]*triage.Record, 0, min(limit, maxPrealloc))
	for rows.Next() {
		r, err := scanAssessment(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("iterate assessments: %w", err)
		fail(span, err)
		return nil, err
	}
	return out, nil
}

// ListRecentVitals returns up to limit vitals checks, most recent first.
// A limit below 1 yields an empty list.
func (s *Store) ListRecentVitals(ctx context.Context, limit int) ([]*triage.VitalsRecord, error) {
	if limit < 1 {
		return []*triage.VitalsRecord{}, nil
	}

	ctx, span := startSpan(ctx, "pgstore.ListRecentVitals", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.Int("db.limit", limit))

	rows, err := s.pool.Query(ctx,
		`SELECT id, pulse, systolic_bp, diastolic_bp,
			pulse_flag, systolic_flag, diastolic_flag, any_flag,
			patient_info, created_at
		 FROM vitals_checks ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		err = fmt.Errorf("query vitals checks: %w", err)
		fail(span, err)
		return nil, err
	}
	defer rows.Close()

	out := make([]*triage.VitalsRecord, 0, min(limit, maxPrealloc))
	for rows.Next() {
		var (
			vr          triage.VitalsRecord
			patientJSON []byte
		)
		if err := rows.Scan(
			&vr.ID, &vr.Vitals.Pulse, &vr.Vitals.SystolicBP, &vr.Vitals.DiastolicBP,
			&vr.Flags.PulseFlag, &vr.Flags.SystolicFlag, &vr.Flags.DiastolicFlag, &vr.Flags.AnyFlag,
			&patientJSON, &vr.CreatedAt,
		); err != nil {
			err = fmt.Errorf("scan vitals check: %w", err)
			fail(span, err)
			return nil, err
		}
		vr.CreatedAt = vr.CreatedAt.UTC()
		if vr.PatientInfo, err = unmarshalPatient(patientJSON); err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, &vr)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("iterate vitals checks: %w", err)
		fail(span, err)
		return nil, err
	}
	return out, nil
}

// Stats aggregates assessment counts per level and vitals flag counts.
func (s *Store) Stats(ctx context.Context) (*triage.Stats, error) {
	ctx, span := startSpan(ctx, "pgstore.Stats", "SELECT")
	defer span.End()

	st := triage.NewStats()

	rows, err := s.pool.Query(ctx,
		`SELECT urgency_level, count(*) FROM assessments GROUP BY urgency_level`)
	if err != nil {
		err = fmt.Errorf("query level counts: %w", err)
		fail(span, err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			level string
			n     int
		)
		if err := rows.Scan(&level, &n); err != nil {
			err = fmt.Errorf("scan level count: %w", err)
			fail(span, err)
			return nil, err
		}
		st.Levels[triage.Level(level)] = n
		st.TotalAssessments += n
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("iterate level counts: %w", err)
		fail(span, err)
		return nil, err
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE any_flag) FROM vitals_checks`,
	).Scan(&st.TotalVitals, &st.FlaggedVitals)
	if err != nil {
		err = fmt.Errorf("query vitals counts: %w", err)
		fail(span, err)
		return nil, err
	}
	st.UnflaggedVitals = st.TotalVitals - st.FlaggedVitals

	return st, nil
}

// scanAssessment scans one assessments row. Flags are recomputed from the
// stored readings rather than persisted, so they always agree with them.
func scanAssessment(row pgx.Row) (*triage.Record, error) {
	var (
		r           triage.Record
		level       string
		patientJSON []byte
		v           triage.Vitals
		vitalsID    *string
	)

	err := row.Scan(
		&r.ID, &r.Symptoms, &level, &patientJSON, &r.UsedAI, &r.RequestedAI, &r.Model,
		&v.Pulse, &v.SystolicBP, &v.DiastolicBP, &vitalsID, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan assessment: %w", err)
	}

	r.Level = triage.Level(level)
	r.CreatedAt = r.CreatedAt.UTC()
	if vitalsID != nil {
		r.VitalsRecordID = *vitalsID
	}
	if v.Present() {
		flags := triage.EvaluateVitals(v)
		r.Vitals = &v
		r.VitalsFlags = &flags
	}
	if r.PatientInfo, err = unmarshalPatient(patientJSON); err != nil {
		return nil, err
	}
	return &r, nil
}

func marshalPatient(p triage.PatientInfo) ([]byte, error) {
	if p == nil {
		p = triage.PatientInfo{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal patient_info: %w", err)
	}
	return b, nil
}

func unmarshalPatient(b []byte) (triage.PatientInfo, error) {
	p := triage.PatientInfo{}
	if len(b) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal patient_info: %w", err)
	}
	return p, nil
}
