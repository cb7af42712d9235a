// Package telemetry provides observability for the assessment platform
// using only standard library constructs: a best-effort domain event sink,
// counters, gauges, histograms, and a Prometheus text exposition endpoint,
// all without importing the go.opentelemetry.io SDK.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Config holds configuration for the telemetry provider.
type Config struct {
	ServiceName    string        `json:"service_name"`
	ServiceVersion string        `json:"service_version"`
	Environment    string        `json:"environment"`
	MetricsEnabled *bool         `json:"metrics_enabled"` // nil = true
	EventBuffer    int           `json:"event_buffer"`
	DrainTimeout   time.Duration `json:"drain_timeout"`
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "assessly-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 256
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Event is one domain-level occurrence emitted by the pipeline. Events are
// recorded best-effort: a full buffer drops the event and counts the drop,
// it never blocks or fails the emitting request.
type Event struct {
	Name       string            `json:"name"`
	FunnelSlug string            `json:"funnel_slug,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// defaultDurationBuckets are histogram boundaries in seconds for HTTP
// request duration.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// completionDurationBuckets are histogram boundaries in seconds for the
// assessment completion KPI. Assessments run minutes, not milliseconds.
var completionDurationBuckets = []float64{
	30, 60, 120, 300, 600, 1200, 1800, 3600, 7200,
}

// Provider manages all observability state.
type Provider struct {
	cfg    Config
	logger zerolog.Logger

	histograms        map[string]*histogram
	labeledHistograms map[string]*labeledHistogramStore
	histMu            sync.RWMutex

	counters *counterStore
	gauges   *gaugeStore

	events chan Event

	shutdownOnce sync.Once
	done         chan struct{}
	drained      chan struct{}
}

// NewProvider creates the telemetry provider and starts its event drain
// loop.
func NewProvider(cfg Config, logger zerolog.Logger) *Provider {
	cfg.applyDefaults()

	p := &Provider{
		cfg:               cfg,
		logger:            logger.With().Str("component", "telemetry").Logger(),
		histograms:        make(map[string]*histogram),
		labeledHistograms: make(map[string]*labeledHistogramStore),
		counters:          newCounterStore(),
		gauges:            newGaugeStore(),
		events:            make(chan Event, cfg.EventBuffer),
		done:              make(chan struct{}),
		drained:           make(chan struct{}),
	}
	go p.drainEvents()
	return p
}

// Shutdown stops the event drain loop, flushing buffered events first.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		close(p.done)
	})
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.DrainTimeout):
		return fmt.Errorf("telemetry: drain timed out after %s", p.cfg.DrainTimeout)
	}
}

// Resource returns the service's identity attributes.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// Emit queues a domain event. Never blocks; a full buffer drops the event.
func (p *Provider) Emit(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	p.counters.inc(LabelsKey("pipeline.event.count", ev.Name, ev.FunnelSlug))
	select {
	case p.events <- ev:
	default:
		p.counters.inc(LabelsKey("pipeline.event.dropped", ev.Name, ev.FunnelSlug))
	}
}

func (p *Provider) drainEvents() {
	defer close(p.drained)
	for {
		select {
		case ev := <-p.events:
			p.logEvent(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.events:
					p.logEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Provider) logEvent(ev Event) {
	e := p.logger.Info().
		Str("event", ev.Name).
		Time("occurred_at", ev.OccurredAt)
	if ev.FunnelSlug != "" {
		e = e.Str("funnel_slug", ev.FunnelSlug)
	}
	if ev.Subject != "" {
		e = e.Str("subject", ev.Subject)
	}
	for k, v := range ev.Attributes {
		e = e.Str(k, v)
	}
	e.Msg("pipeline event")
}

// ObserveCompletionDuration records the started-to-completed duration KPI
// for a funnel. Non-positive durations are not observed; a missing or
// skewed start timestamp must never poison the histogram.
func (p *Provider) ObserveCompletionDuration(funnelSlug string, d time.Duration) {
	if d <= 0 {
		p.counters.inc(LabelsKey("assessment.completion.duration.skipped", funnelSlug))
		return
	}
	store := p.getOrCreateLabeledStore("assessment.completion.duration")
	store.getOrCreate(funnelSlug, completionDurationBuckets).Observe(d.Seconds())
}

// PipelineCounter increments the named pipeline counter for a funnel.
func (p *Provider) PipelineCounter(name, funnelSlug string) {
	p.counters.inc(LabelsKey(name, funnelSlug))
}

// GetCounter returns the current value of a counter by its label tuple.
func (p *Provider) GetCounter(parts ...string) int64 {
	return p.counters.get(LabelsKey(parts...))
}

// GetGauge returns the current value of the named gauge.
func (p *Provider) GetGauge(name string) int64 {
	return p.gauges.get(name)
}

// GetLabeledHistogram returns a specific labeled histogram, or nil.
func (p *Provider) GetLabeledHistogram(name, key string) *histogram {
	p.histMu.RLock()
	s, ok := p.labeledHistograms[name]
	p.histMu.RUnlock()
	if !ok {
		return nil
	}
	s.mu.RLock()
	h := s.items[key]
	s.mu.RUnlock()
	return h
}

func (p *Provider) getOrCreateHistogram(name string, boundaries []float64) *histogram {
	p.histMu.RLock()
	h, ok := p.histograms[name]
	p.histMu.RUnlock()
	if ok {
		return h
	}
	p.histMu.Lock()
	h, ok = p.histograms[name]
	if !ok {
		h = newHistogram(boundaries)
		p.histograms[name] = h
	}
	p.histMu.Unlock()
	return h
}

func (p *Provider) getOrCreateLabeledStore(name string) *labeledHistogramStore {
	p.histMu.RLock()
	s, ok := p.labeledHistograms[name]
	p.histMu.RUnlock()
	if ok {
		return s
	}
	p.histMu.Lock()
	s, ok = p.labeledHistograms[name]
	if !ok {
		s = newLabeledHistogramStore()
		p.labeledHistograms[name] = s
	}
	p.histMu.Unlock()
	return s
}

// HealthMetricsRecorder updates health-related gauges.
type HealthMetricsRecorder struct {
	p *Provider
}

// HealthMetrics returns a recorder for health-related metrics.
func (p *Provider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{p: p}
}

// SetDBPoolActive sets the db.pool.active_connections gauge.
func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.p.gauges.set("db.pool.active_connections", n)
}

// SetDBPoolIdle sets the db.pool.idle_connections gauge.
func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.p.gauges.set("db.pool.idle_connections", n)
}

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics per route pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			p.gauges.add("http.server.active_requests", 1)
			start := time.Now()
			req := c.Request()

			err := next(c)

			duration := time.Since(start).Seconds()
			p.gauges.add("http.server.active_requests", -1)

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			statusStr := fmt.Sprintf("%d", c.Response().Status)

			p.getOrCreateHistogram("http.server.request.duration", defaultDurationBuckets).Observe(duration)

			store := p.getOrCreateLabeledStore("http.server.request.duration")
			store.getOrCreate(LabelsKey(req.Method, route, statusStr), defaultDurationBuckets).Observe(duration)

			return err
		}
	}
}

// PrometheusHandler serves metrics in Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		p.histMu.RLock()
		durationStore := p.labeledHistograms["http.server.request.duration"]
		completionStore := p.labeledHistograms["assessment.completion.duration"]
		p.histMu.RUnlock()

		writeRouteHistogram(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", durationStore, defaultDurationBuckets)

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n", p.gauges.get("http.server.active_requests"))
		b.WriteByte('\n')

		b.WriteString("# HELP assessment_completion_duration_seconds Started-to-completed duration of assessments.\n")
		b.WriteString("# TYPE assessment_completion_duration_seconds histogram\n")
		if completionStore != nil {
			for slug, h := range completionStore.snapshot() {
				labels := fmt.Sprintf("funnel=%q", slug)
				writeSingleHistogram(&b, "assessment_completion_duration_seconds", labels, h, completionDurationBuckets)
			}
		}
		b.WriteByte('\n')

		b.WriteString("# HELP pipeline_event_count Total pipeline events by name and funnel.\n")
		b.WriteString("# TYPE pipeline_event_count counter\n")
		for key, val := range p.counters.snapshot() {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) == 3 && parts[0] == "pipeline.event.count" {
				fmt.Fprintf(&b, "pipeline_event_count{event=%q,funnel=%q} %d\n",
					parts[1], parts[2], val)
			}
		}
		b.WriteByte('\n')

		healthGauges := []struct {
			promName string
			name     string
			help     string
		}{
			{"db_pool_active_connections", "db.pool.active_connections", "Number of active database pool connections."},
			{"db_pool_idle_connections", "db.pool.idle_connections", "Number of idle database pool connections."},
		}
		for _, g := range healthGauges {
			fmt.Fprintf(&b, "# HELP %s %s\n", g.promName, g.help)
			fmt.Fprintf(&b, "# TYPE %s gauge\n", g.promName)
			fmt.Fprintf(&b, "%s %d\n", g.promName, p.gauges.get(g.name))
			b.WriteByte('\n')
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeRouteHistogram(b *strings.Builder, name, help string,
	labeled *labeledHistogramStore, boundaries []float64) {

	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	if labeled != nil {
		for key, h := range labeled.snapshot() {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeSingleHistogram(b, name, labels, h, boundaries)
		}
	}
	b.WriteByte('\n')
}

func writeSingleHistogram(b *strings.Builder, name, labels string,
	h *histogram, boundaries []float64) {

	cum := h.cumulativeBuckets()
	total := h.Count()

	labelsPrefix := ""
	labelsSuffix := ""
	if labels != "" {
		labelsPrefix = labels + ","
		labelsSuffix = "{" + labels + "}"
	}

	for i, boundary := range boundaries {
		if labels != "" {
			fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, labelsPrefix, boundary, cum[i])
		} else {
			fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, boundary, cum[i])
		}
	}

	if labels != "" {
		fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labelsPrefix, total)
	} else {
		fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, total)
	}

	fmt.Fprintf(b, "%s_sum%s %g\n", name, labelsSuffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, labelsSuffix, total)
}
