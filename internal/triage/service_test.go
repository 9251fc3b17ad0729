package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu         sync.Mutex
	seq        int
	records    map[string]*Record
	vitals     map[string]*VitalsRecord
	saveErr    error
	vitalsErr  error
	readErr    error
	lastRecent int
}

func newMockStore() *mockStore {
	return &mockStore{
		records: make(map[string]*Record),
		vitals:  make(map[string]*VitalsRecord),
	}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *mockStore) SaveAssessment(_ context.Context, r *Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	id := m.nextID("rec")
	cp := *r
	cp.ID = id
	m.records[id] = &cp
	return id, nil
}

func (m *mockStore) SaveVitals(_ context.Context, v *VitalsRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vitalsErr != nil {
		return "", m.vitalsErr
	}
	id := m.nextID("vit")
	cp := *v
	cp.ID = id
	m.vitals[id] = &cp
	return id, nil
}

func (m *mockStore) Get(_ context.Context, id string) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (m *mockStore) ListRecent(_ context.Context, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRecent = limit
	if m.readErr != nil {
		return nil, m.readErr
	}
	return nil, nil
}

func (m *mockStore) ListRecentVitals(_ context.Context, _ int) ([]*VitalsRecord, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return nil, nil
}

func (m *mockStore) Stats(_ context.Context) (*Stats, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return NewStats(), nil
}

// chanNotifier delivers sent records on a channel.
type chanNotifier struct {
	ch  chan *Record
	err error
}

func (n *chanNotifier) Send(_ context.Context, r *Record) error {
	n.ch <- r
	return n.err
}

func rulesOnlyService(store Store, m *Metrics, n Notifier) *Service {
	return NewService(store, NewEngine(nil, nil, 0, log.Nop(), EngineHooks{}), log.Nop(), m, n)
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestAssess_RulesPathPersists(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := rulesOnlyService(store, nil, nil)
	svc.now = fixedNow

	out := svc.Assess(context.Background(), AssessRequest{
		Symptoms:    "Patient has mild headache and feels tired",
		PatientInfo: PatientInfo{"age": 40},
	})

	if out.StorageErr != nil {
		t.Fatalf("StorageErr: %v", out.StorageErr)
	}
	want := &Record{
		ID:          "rec-1",
		Symptoms:    "Patient has mild headache and feels tired",
		Level:       LevelModerate,
		PatientInfo: PatientInfo{"age": 40},
		CreatedAt:   fixedNow(),
	}
	if diff := cmp.Diff(want, out.Record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	stored, ok, err := svc.Get(context.Background(), "rec-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestAssess_UsedAIFalseOnFallback(t *testing.T) {
	t.Parallel()

	ai := NewAIClassifier(&mockCompleter{err: errors.New("503")}, "")
	svc := NewService(newMockStore(), NewEngine(ai, nil, 0, log.Nop(), EngineHooks{}), log.Nop(), nil, nil)

	out := svc.Assess(context.Background(), AssessRequest{Symptoms: "blurred vision", UseAI: true})
	if out.Record.UsedAI {
		t.Error("UsedAI = true after fallback")
	}
	if !out.Record.RequestedAI {
		t.Error("RequestedAI = false, want true")
	}
	if out.Source != SourceRules {
		t.Errorf("source = %q, want rules", out.Source)
	}
	if out.Record.Level != LevelUrgent {
		t.Errorf("level = %q, want Urgent", out.Record.Level)
	}
}

func TestAssess_AIPath(t *testing.T) {
	t.Parallel()

	ai := NewAIClassifier(&mockCompleter{text: "Critical", model: "m-2"}, "")
	svc := NewService(newMockStore(), NewEngine(ai, nil, 0, log.Nop(), EngineHooks{}), log.Nop(), nil, nil)

	out := svc.Assess(context.Background(), AssessRequest{Symptoms: "mild pain", UseAI: true})
	if !out.Record.UsedAI {
		t.Error("UsedAI = false, want true")
	}
	if out.Record.Level != LevelCritical {
		t.Errorf("level = %q, want Critical", out.Record.Level)
	}
	if out.Record.Model != "m-2" {
		t.Errorf("model = %q, want m-2", out.Record.Model)
	}
}

func TestAssess_VitalsFlaggedAndLinked(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := rulesOnlyService(store, nil, nil)

	in := &Vitals{Pulse: intp(55), SystolicBP: intp(120), DiastolicBP: intp(80)}
	out := svc.Assess(context.Background(), AssessRequest{Symptoms: "dizziness", Vitals: in})

	if out.StorageErr != nil {
		t.Fatalf("StorageErr: %v", out.StorageErr)
	}
	rec := out.Record
	if rec.VitalsFlags == nil {
		t.Fatal("VitalsFlags nil with vitals present")
	}
	if diff := cmp.Diff(VitalsFlags{PulseFlag: true, AnyFlag: true}, *rec.VitalsFlags); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
	if rec.VitalsRecordID == "" {
		t.Error("VitalsRecordID empty, want linked vitals record")
	}
	if _, ok := store.vitals[rec.VitalsRecordID]; !ok {
		t.Errorf("vitals record %q not stored", rec.VitalsRecordID)
	}

	// the stored record must not alias caller memory
	*in.Pulse = 200
	if *rec.Vitals.Pulse != 55 {
		t.Errorf("record pulse changed to %d after caller mutation", *rec.Vitals.Pulse)
	}
}

func TestAssess_NoVitalsNoFlags(t *testing.T) {
	t.Parallel()

	svc := rulesOnlyService(newMockStore(), nil, nil)
	out := svc.Assess(context.Background(), AssessRequest{Symptoms: "neck pain", Vitals: &Vitals{}})
	if out.Record.Vitals != nil || out.Record.VitalsFlags != nil {
		t.Errorf("expected no vitals on record, got %+v / %+v", out.Record.Vitals, out.Record.VitalsFlags)
	}
	if out.Record.VitalsRecordID != "" {
		t.Errorf("VitalsRecordID = %q, want empty", out.Record.VitalsRecordID)
	}
}

func TestAssess_StorageFailureKeepsClassification(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.saveErr = errors.New("disk full")
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	svc := rulesOnlyService(store, m, nil)

	out := svc.Assess(context.Background(), AssessRequest{Symptoms: "Patient is having a seizure"})

	if out.StorageErr == nil {
		t.Fatal("expected StorageErr")
	}
	if !errors.Is(out.StorageErr, ErrStorage) {
		t.Errorf("errors.Is(StorageErr, ErrStorage) = false: %v", out.StorageErr)
	}
	if out.Record.Level != LevelCritical {
		t.Errorf("level = %q, want Critical", out.Record.Level)
	}
	if out.Record.ID != "" {
		t.Errorf("ID = %q, want empty after failed save", out.Record.ID)
	}
	if got := testutil.ToFloat64(m.StorageErrorsTotal.WithLabelValues("save_assessment")); got != 1 {
		t.Errorf("storage errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AssessmentsTotal.WithLabelValues("Critical", "rules")); got != 1 {
		t.Errorf("assessments = %v, want 1", got)
	}
}

func TestAssess_VitalsStorageFailure(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.vitalsErr = errors.New("constraint")
	svc := rulesOnlyService(store, nil, nil)

	out := svc.Assess(context.Background(), AssessRequest{
		Symptoms: "tiredness",
		Vitals:   &Vitals{Pulse: intp(80), SystolicBP: intp(170), DiastolicBP: intp(90)},
	})

	if !errors.Is(out.StorageErr, ErrStorage) {
		t.Fatalf("StorageErr = %v, want ErrStorage", out.StorageErr)
	}
	var se *StorageError
	if !errors.As(out.StorageErr, &se) || se.Op != "save_vitals" {
		t.Errorf("expected save_vitals StorageError, got %v", out.StorageErr)
	}
	if out.Record.ID == "" {
		t.Error("assessment should still be saved when only the vitals save failed")
	}
	if out.Record.VitalsRecordID != "" {
		t.Errorf("VitalsRecordID = %q, want empty", out.Record.VitalsRecordID)
	}
	if !out.Record.VitalsFlags.SystolicFlag {
		t.Error("systolic flag lost after vitals save failure")
	}
}

func TestCheckVitals(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	svc := rulesOnlyService(store, m, nil)

	out := svc.CheckVitals(context.Background(), Vitals{Pulse: intp(80), SystolicBP: intp(120), DiastolicBP: intp(80)}, nil)
	if out.StorageErr != nil {
		t.Fatalf("StorageErr: %v", out.StorageErr)
	}
	if out.Record.ID == "" {
		t.Error("ID empty after successful save")
	}
	if out.Record.Flags.AnyFlag {
		t.Error("normal vitals flagged")
	}
	if out.Record.PatientInfo == nil {
		t.Error("PatientInfo nil, want empty map")
	}
	if got := testutil.ToFloat64(m.VitalsChecksTotal.WithLabelValues("false")); got != 1 {
		t.Errorf("vitals checks = %v, want 1", got)
	}

	store.vitalsErr = errors.New("down")
	out = svc.CheckVitals(context.Background(), Vitals{Pulse: intp(45)}, nil)
	if !errors.Is(out.StorageErr, ErrStorage) {
		t.Errorf("StorageErr = %v, want ErrStorage", out.StorageErr)
	}
	if !out.Record.Flags.PulseFlag || out.Record.ID != "" {
		t.Errorf("got flags %+v id %q", out.Record.Flags, out.Record.ID)
	}
}

func TestReadSide_WrapsStorageErrors(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.readErr = errors.New("conn reset")
	svc := rulesOnlyService(store, nil, nil)
	ctx := context.Background()

	if _, _, err := svc.Get(ctx, "x"); !errors.Is(err, ErrStorage) {
		t.Errorf("Get err = %v", err)
	}
	if _, err := svc.Recent(ctx, 10); !errors.Is(err, ErrStorage) {
		t.Errorf("Recent err = %v", err)
	}
	if _, err := svc.RecentVitals(ctx, 10); !errors.Is(err, ErrStorage) {
		t.Errorf("RecentVitals err = %v", err)
	}
	if _, err := svc.Stats(ctx); !errors.Is(err, ErrStorage) {
		t.Errorf("Stats err = %v", err)
	}
	if store.lastRecent != 10 {
		t.Errorf("limit passed = %d, want 10", store.lastRecent)
	}
}

func TestAssess_NotifiesCriticalAndFlagged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		req      AssessRequest
		wantSent bool
	}{
		{"critical", AssessRequest{Symptoms: "seizure"}, true},
		{"flagged vitals", AssessRequest{Symptoms: "tiredness", Vitals: &Vitals{Pulse: intp(130)}}, true},
		{"low without flags", AssessRequest{Symptoms: "tiredness"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := &chanNotifier{ch: make(chan *Record, 1), err: errors.New("webhook down")}
			svc := rulesOnlyService(newMockStore(), nil, n)
			out := svc.Assess(context.Background(), tt.req)

			select {
			case r := <-n.ch:
				if !tt.wantSent {
					t.Fatalf("unexpected notification for %q", r.Level)
				}
				if r.ID != out.Record.ID {
					t.Errorf("notified ID = %q, want %q", r.ID, out.Record.ID)
				}
			case <-time.After(200 * time.Millisecond):
				if tt.wantSent {
					t.Fatal("notification not sent")
				}
			}
		})
	}
}

func TestAssess_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	svc := rulesOnlyService(newMockStore(), nil, nil)
	out := svc.Assess(context.Background(), AssessRequest{Symptoms: "vomiting"})

	spans := exporter.GetSpans()
	byName := make(map[string]tracetest.SpanStub)
	for _, s := range spans {
		byName[s.Name] = s
	}

	assess, ok := byName["triage.Assess"]
	if !ok {
		t.Fatal("missing triage.Assess span")
	}
	classify, ok := byName["triage.Classify"]
	if !ok {
		t.Fatal("missing triage.Classify span")
	}
	if classify.Parent.SpanID() != assess.SpanContext.SpanID() {
		t.Error("triage.Classify is not a child of triage.Assess")
	}

	attrs := make(map[string]any)
	for _, a := range assess.Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if attrs["tflow.record.id"] != out.Record.ID {
		t.Errorf("tflow.record.id = %v, want %q", attrs["tflow.record.id"], out.Record.ID)
	}
	if attrs["tflow.level"] != "Urgent" {
		t.Errorf("tflow.level = %v, want Urgent", attrs["tflow.level"])
	}
}

func TestStats_FlagPercentage(t *testing.T) {
	t.Parallel()

	s := NewStats()
	if s.FlagPercentage() != 0 {
		t.Errorf("empty FlagPercentage = %v, want 0", s.FlagPercentage())
	}
	s.TotalVitals, s.FlaggedVitals = 3, 1
	if got := s.FlagPercentage(); got != 33.33 {
		t.Errorf("FlagPercentage = %v, want 33.33", got)
	}
	if len(s.Levels) != 4 {
		t.Errorf("levels = %d, want 4 keys", len(s.Levels))
	}
}
