package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"kittyledger/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type logCall struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	calls []logCall
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) add(level, msg string, args []any) {
	l.calls = append(l.calls, logCall{level: level, msg: msg, args: args})
}

func (l *captureLogger) count(level string) int {
	n := 0
	for _, c := range l.calls {
		if c.level == level {
			n++
		}
	}
	return n
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestServiceObservabilityHooks(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Millisecond}
	f := newLedgerFixture(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
		WithClock(clock),
	)
	ctx := context.Background()

	id := mustCreate(t, f.svc, 1)
	if _, err := f.svc.Create(ctx, domain.Signed(7)); err == nil {
		t.Fatalf("expected stake failure")
	}
	if err := f.svc.Transfer(ctx, domain.Signed(1), 2, id); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if !audit.has(OpCreate, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == "0" && e.Actor == 1 && e.Entity == domain.EntityKitty && e.ID != "" && e.Duration > 0
	}) {
		t.Fatalf("missing successful create audit entry: %+v", audit.entries)
	}
	if !audit.has(OpCreate, AuditStatusError, func(e AuditEntry) bool {
		return e.Actor == 7 && strings.Contains(e.Error, "insufficient")
	}) {
		t.Fatalf("missing failed create audit entry: %+v", audit.entries)
	}
	if !audit.has(OpTransfer, AuditStatusSuccess, func(e AuditEntry) bool { return e.Action == domain.ActionUpdate }) {
		t.Fatalf("missing transfer audit entry")
	}
	if audit.entries[0].ID == audit.entries[1].ID {
		t.Fatalf("expected unique audit ids")
	}
	if !metrics.has(OpCreate, true) || !metrics.has(OpCreate, false) || !metrics.has(OpTransfer, true) {
		t.Fatalf("unexpected metrics calls %+v", metrics.calls)
	}
	if !tracer.has(OpCreate, true) || !tracer.has(OpCreate, false) || len(tracer.started) != 3 {
		t.Fatalf("unexpected spans %+v", tracer.ended)
	}
	if logger.count("debug") != 2 || logger.count("error") != 1 {
		t.Fatalf("unexpected log calls %+v", logger.calls)
	}
}

func TestServiceLogsRuleViolations(t *testing.T) {
	logger := &captureLogger{}
	engine := NewDefaultRulesEngine()
	engine.Register(blockEverythingRule{})
	svc := NewInMemoryService(engine, newLedgerFixture(t).ledger, WithLogger(logger))
	_, err := svc.Create(context.Background(), domain.Signed(2))
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if logger.count("warn") != 1 {
		t.Fatalf("expected one warn per violation, got %+v", logger.calls)
	}
}

type blockEverythingRule struct{}

func (blockEverythingRule) Name() string { return "block_everything" }

func (blockEverythingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block_everything", Severity: domain.SeverityBlock, Message: "no"}}}, nil
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "kittyledger_operations_") {
		t.Fatalf("unexpected expvar name %s", rec.Name())
	}
	rec.Observe(context.Background(), OpCreate, true, 2*time.Millisecond)
	rec.Observe(context.Background(), OpCreate, false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)
	snap := rec.Snapshot()
	want := OperationStats{Calls: 2, Failures: 1, TotalMS: 3, MaxMS: 2}
	if got := snap.Operations[OpCreate]; got != want {
		t.Fatalf("unexpected stats %+v", got)
	}
	if len(snap.Operations) != 1 {
		t.Fatalf("empty operation should be ignored: %+v", snap.Operations)
	}
	if v := expvar.Get(rec.Name()); v == nil || !strings.Contains(v.String(), OpCreate) {
		t.Fatalf("expected expvar export")
	}
}

func TestJSONTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	f := newLedgerFixture(t, WithTracer(tracer))
	mustCreate(t, f.svc, 1)
	if _, err := f.svc.Breed(context.Background(), domain.Signed(1), 0, 0); err == nil {
		t.Fatalf("expected identical parents")
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected span statuses %+v", entries)
	}
	if entries[0].SpanID == "" || entries[0].SpanID == entries[1].SpanID {
		t.Fatalf("expected unique span ids")
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %q", buf.String())
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil || decoded.Operation != OpBreed {
		t.Fatalf("decode span line: %v %+v", err, decoded)
	}
}

func TestJSONTracerNestsSpans(t *testing.T) {
	tracer := NewJSONTracer(nil)
	ctx, outer := tracer.Start(context.Background(), "outer")
	_, inner := tracer.Start(ctx, "inner")
	inner.End(nil)
	outer.End(nil)
	entries := tracer.Entries()
	if entries[0].ParentID != entries[1].SpanID || entries[1].ParentID != "" {
		t.Fatalf("unexpected parentage %+v", entries)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f := newLedgerFixture(t, WithMetricsRecorder(rec))
	mustCreate(t, f.svc, 1)
	_, _ = f.svc.Create(context.Background(), domain.Signed(9))

	if got := testutil.ToFloat64(rec.operations.WithLabelValues(OpCreate, "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues(OpCreate, "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.latency); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestZapLoggerLevels(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewZapLogger("not-a-level", format)
		if err != nil {
			t.Fatalf("build %s logger: %v", format, err)
		}
		logger.Debug("debug", "k", 1)
		logger.Info("info", "k", 2)
		logger.Warn("warn")
		logger.Error("error", "err", errors.New("boom"))
	}
	NewZapLoggerFrom(nil).Info("discarded")
}
