package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p := NewProvider(Config{
		ServiceName: "assessly-test",
		Environment: "test",
	}, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestEmit_CountsEvents(t *testing.T) {
	p := newTestProvider(t)

	p.Emit(Event{Name: "assessment_completed", FunnelSlug: "cardio-age"})
	p.Emit(Event{Name: "assessment_completed", FunnelSlug: "cardio-age"})
	p.Emit(Event{Name: "assessment_completed", FunnelSlug: "sleep-apnea"})

	if got := p.GetCounter("pipeline.event.count", "assessment_completed", "cardio-age"); got != 2 {
		t.Errorf("cardio-age event count = %d, want 2", got)
	}
	if got := p.GetCounter("pipeline.event.count", "assessment_completed", "sleep-apnea"); got != 1 {
		t.Errorf("sleep-apnea event count = %d, want 1", got)
	}
}

func TestEmit_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	// Provider is constructed by hand so the drain loop never starts and
	// the buffer can actually fill.
	cfg := Config{EventBuffer: 2}
	cfg.applyDefaults()
	p := &Provider{
		cfg:               cfg,
		logger:            zerolog.Nop(),
		histograms:        make(map[string]*histogram),
		labeledHistograms: make(map[string]*labeledHistogramStore),
		counters:          newCounterStore(),
		gauges:            newGaugeStore(),
		events:            make(chan Event, 2),
		done:              make(chan struct{}),
		drained:           make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			p.Emit(Event{Name: "assessment_completed", FunnelSlug: "cardio-age"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	if got := p.GetCounter("pipeline.event.dropped", "assessment_completed", "cardio-age"); got != 3 {
		t.Errorf("dropped count = %d, want 3", got)
	}
	if got := p.GetCounter("pipeline.event.count", "assessment_completed", "cardio-age"); got != 5 {
		t.Errorf("event count = %d, want 5 (drops still count emissions)", got)
	}
}

func TestObserveCompletionDuration(t *testing.T) {
	p := newTestProvider(t)

	p.ObserveCompletionDuration("cardio-age", 5*time.Minute)
	p.ObserveCompletionDuration("cardio-age", 10*time.Minute)

	h := p.GetLabeledHistogram("assessment.completion.duration", "cardio-age")
	if h == nil {
		t.Fatal("expected a histogram for cardio-age")
	}
	if h.Count() != 2 {
		t.Errorf("count = %d, want 2", h.Count())
	}
	if h.Sum() != 900 {
		t.Errorf("sum = %g seconds, want 900", h.Sum())
	}
}

func TestObserveCompletionDuration_SkipsNonPositive(t *testing.T) {
	p := newTestProvider(t)

	p.ObserveCompletionDuration("cardio-age", 0)
	p.ObserveCompletionDuration("cardio-age", -time.Minute)

	if h := p.GetLabeledHistogram("assessment.completion.duration", "cardio-age"); h != nil {
		t.Error("non-positive durations must not create observations")
	}
	if got := p.GetCounter("assessment.completion.duration.skipped", "cardio-age"); got != 2 {
		t.Errorf("skipped count = %d, want 2", got)
	}
}

func TestShutdown_FlushesAndReturns(t *testing.T) {
	p := NewProvider(Config{}, zerolog.Nop())
	p.Emit(Event{Name: "assessment_completed"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	// A second shutdown is a no-op, not a double close.
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("repeat shutdown: %v", err)
	}
}

func TestMetricsMiddleware_RecordsPerRoute(t *testing.T) {
	p := newTestProvider(t)

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/assessments/:assessmentId", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/assessments/a1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	h := p.GetLabeledHistogram("http.server.request.duration",
		LabelsKey(http.MethodGet, "/assessments/:assessmentId", "200"))
	if h == nil {
		t.Fatal("expected a labeled duration histogram for the route")
	}
	if h.Count() != 1 {
		t.Errorf("count = %d, want 1", h.Count())
	}
	if got := p.GetGauge("http.server.active_requests"); got != 0 {
		t.Errorf("active requests gauge = %d, want 0 after completion", got)
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	p := NewProvider(Config{MetricsEnabled: BoolPtr(false)}, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/assessments", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/assessments", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if h := p.GetLabeledHistogram("http.server.request.duration",
		LabelsKey(http.MethodGet, "/assessments", "200")); h != nil {
		t.Error("disabled metrics must not record")
	}
}

func TestPrometheusHandler_Exposition(t *testing.T) {
	p := newTestProvider(t)

	p.Emit(Event{Name: "assessment_completed", FunnelSlug: "cardio-age"})
	p.ObserveCompletionDuration("cardio-age", 5*time.Minute)
	p.HealthMetrics().SetDBPoolActive(3)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := p.PrometheusHandler()(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"# TYPE http_server_request_duration_seconds histogram",
		"# TYPE assessment_completion_duration_seconds histogram",
		`assessment_completion_duration_seconds_count{funnel="cardio-age"} 1`,
		`pipeline_event_count{event="assessment_completed",funnel="cardio-age"} 1`,
		"db_pool_active_connections 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}
