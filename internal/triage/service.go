package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/linnemanlabs/tflow/internal/triage"

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name)
}

// AssessRequest is a validated assessment input. Bounds checking is the
// caller's job; the service assumes Symptoms is non-empty.
type AssessRequest struct {
	Symptoms    string
	PatientInfo PatientInfo
	Vitals      *Vitals
	UseAI       bool
}

// Assessment is the outcome of Assess. Record is always populated;
// StorageErr is non-nil when persistence failed and the record may not be
// retrievable later.
type Assessment struct {
	Record     *Record
	Source     Source
	StorageErr error
}

// VitalsAssessment is the outcome of CheckVitals.
type VitalsAssessment struct {
	Record     *VitalsRecord
	StorageErr error
}

// Service is the business boundary for triage operations.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	now      func() time.Time
}

// NewService creates a new triage service. metrics and notifier may be nil.
func NewService(store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		now:      time.Now,
	}
}

// Assess classifies the symptoms, flags vitals when present, and persists
// the result. A storage failure does not discard the classification.
func (s *Service) Assess(ctx context.Context, req AssessRequest) *Assessment {
	ctx, span := startSpan(ctx, "triage.Assess")
	defer span.End()

	cr := s.engine.Classify(ctx, req.Symptoms, req.UseAI)

	patient := req.PatientInfo
	if patient == nil {
		patient = PatientInfo{}
	}

	rec := &Record{
		Symptoms:    req.Symptoms,
		Level:       cr.Level,
		PatientInfo: patient,
		UsedAI:      cr.Source == SourceAI,
		RequestedAI: req.UseAI,
		Model:       cr.Model,
		CreatedAt:   s.now().UTC(),
	}

	var storageErrs []error

	if req.Vitals != nil && req.Vitals.Present() {
		v := req.Vitals.clone()
		flags := EvaluateVitals(v)
		rec.Vitals = &v
		rec.VitalsFlags = &flags

		vid, err := s.store.SaveVitals(ctx, &VitalsRecord{
			Vitals:      v,
			Flags:       flags,
			PatientInfo: patient,
			CreatedAt:   rec.CreatedAt,
		})
		if err != nil {
			storageErrs = append(storageErrs, &StorageError{Op: "save_vitals", Err: err})
		} else {
			rec.VitalsRecordID = vid
		}
		s.metrics.observeVitals(flags.AnyFlag)
	}

	id, err := s.store.SaveAssessment(ctx, rec)
	if err != nil {
		storageErrs = append(storageErrs, &StorageError{Op: "save_assessment", Err: err})
	} else {
		rec.ID = id
	}

	out := &Assessment{Record: rec, Source: cr.Source, StorageErr: errors.Join(storageErrs...)}

	span.SetAttributes(
		attribute.String("tflow.record.id", rec.ID),
		attribute.String("tflow.level", string(rec.Level)),
		attribute.Bool("tflow.ai.used", rec.UsedAI),
	)
	s.metrics.observeAssessment(rec.Level, cr.Source)

	L := s.logger.With("record_id", rec.ID, "level", rec.Level, "source", cr.Source)
	if out.StorageErr != nil {
		s.metrics.observeStorageErrors(storageErrs)
		span.RecordError(out.StorageErr)
		span.SetStatus(codes.Error, "persistence failed")
		L.Error(ctx, out.StorageErr, "assessment classified but not persisted")
	} else {
		L.Info(ctx, "assessment complete",
			"requested_ai", req.UseAI,
			"vitals_flagged", rec.VitalsFlags != nil && rec.VitalsFlags.AnyFlag,
		)
	}

	s.maybeNotify(ctx, rec)
	return out
}

// CheckVitals flags a standalone set of readings and persists the check.
func (s *Service) CheckVitals(ctx context.Context, v Vitals, patient PatientInfo) *VitalsAssessment {
	ctx, span := startSpan(ctx, "triage.CheckVitals")
	defer span.End()

	if patient == nil {
		patient = PatientInfo{}
	}

	v = v.clone()
	rec := &VitalsRecord{
		Vitals:      v,
		Flags:       EvaluateVitals(v),
		PatientInfo: patient,
		CreatedAt:   s.now().UTC(),
	}
	s.metrics.observeVitals(rec.Flags.AnyFlag)

	out := &VitalsAssessment{Record: rec}
	id, err := s.store.SaveVitals(ctx, rec)
	if err != nil {
		serr := &StorageError{Op: "save_vitals", Err: err}
		out.StorageErr = serr
		s.metrics.observeStorageErrors([]error{serr})
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		s.logger.Error(ctx, err, "vitals check not persisted", "any_flag", rec.Flags.AnyFlag)
		return out
	}
	rec.ID = id
	return out
}

// Get retrieves an assessment by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, bool, error) {
	r, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, &StorageError{Op: "get", Err: err}
	}
	return r, ok, nil
}

// Recent returns the latest assessments, most recent first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*Record, error) {
	rs, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, &StorageError{Op: "list_recent", Err: err}
	}
	return rs, nil
}

// RecentVitals returns the latest vitals checks, most recent first.
func (s *Service) RecentVitals(ctx context.Context, limit int) ([]*VitalsRecord, error) {
	rs, err := s.store.ListRecentVitals(ctx, limit)
	if err != nil {
		return nil, &StorageError{Op: "list_recent_vitals", Err: err}
	}
	return rs, nil
}

// Stats aggregates stored assessments and vitals checks.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}
	return st, nil
}

// maybeNotify hands critical or vitals-flagged assessments to the notifier
// without blocking the caller.
func (s *Service) maybeNotify(ctx context.Context, rec *Record) {
	if s.notifier == nil {
		return
	}
	flagged := rec.VitalsFlags != nil && rec.VitalsFlags.AnyFlag
	if rec.Level != LevelCritical && !flagged {
		return
	}

	cp := *rec
	go func(ctx context.Context) {
		if err := s.notifier.Send(ctx, &cp); err != nil {
			s.logger.Error(ctx, err, "notification failed", "record_id", cp.ID)
		}
	}(context.WithoutCancel(ctx))
}

func (v Vitals) clone() Vitals {
	return Vitals{
		Pulse:       cloneInt(v.Pulse),
		SystolicBP:  cloneInt(v.SystolicBP),
		DiastolicBP: cloneInt(v.DiastolicBP),
	}
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	n := *p
	return &n
}
