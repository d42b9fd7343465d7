package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) counter(name string, status string) (capturedCounter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.counters {
		if item.name == name && item.tags["status"] == status {
			return item, true
		}
	}
	return capturedCounter{}, false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) find(level string, msg string) (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range *l.records {
		if item.level == level && item.msg == msg {
			return item, true
		}
	}
	return capturedLog{}, false
}

func TestTelemetry_ObserveSuccessTagsWithoutUser(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	tel := newTelemetry("Connectors", logger, metrics)

	tel.observe(context.Background(), time.Now(), "Dispatch", nil, map[string]any{
		"provider":       "atlassian",
		"connector":      "jira",
		"user_email":     "ada@example.com",
		"operation_name": "list_projects",
	})

	counter, ok := metrics.counter("connectors.dispatch.total", "success")
	if !ok {
		t.Fatalf("expected connectors.dispatch.total success counter, got %+v", metrics.counters)
	}
	if counter.tags["connector"] != "jira" || counter.tags["operation_name"] != "list_projects" {
		t.Fatalf("unexpected tags: %+v", counter.tags)
	}
	if _, present := counter.tags["user_email"]; present {
		t.Fatalf("user email must not be a metric tag")
	}
	if len(metrics.histograms) != 1 || metrics.histograms[0].name != "connectors.dispatch.duration_ms" {
		t.Fatalf("expected duration histogram, got %+v", metrics.histograms)
	}

	entry, ok := logger.find("debug", "dispatch succeeded")
	if !ok {
		t.Fatalf("expected debug log for success")
	}
	if entry.fields["user_email"] != "ada@example.com" || entry.fields["status"] != "success" {
		t.Fatalf("unexpected log fields: %+v", entry.fields)
	}
}

func TestTelemetry_ObserveFailureCarriesErrorCode(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	tel := newTelemetry("", logger, metrics)

	tel.observe(context.Background(), time.Now(), "refresh", NewRefreshUnsupportedError("slack", "ada@example.com"), map[string]any{
		"provider": "slack",
	})

	if _, ok := metrics.counter("connectors.refresh.total", "failure"); !ok {
		t.Fatalf("expected default namespace failure counter, got %+v", metrics.counters)
	}
	entry, ok := logger.find("error", "refresh failed")
	if !ok {
		t.Fatalf("expected error log for failure")
	}
	if entry.fields["error_code"] != ErrorRefreshUnsupported {
		t.Fatalf("expected error_code field, got %+v", entry.fields)
	}
}

func TestServiceObservability_AuthURLMetrics(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc, err := NewService(DefaultConfig(),
		WithProvider(testProviderConfig("google", ProviderQuirks{IssuesRefreshToken: true}), &fakeStrategy{}),
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close(context.Background())

	if _, err := svc.AuthURL(context.Background(), AuthURLRequest{Provider: "google", UserEmail: "ada@example.com"}); err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if _, err := svc.AuthURL(context.Background(), AuthURLRequest{Provider: "github"}); err == nil {
		t.Fatalf("expected unknown provider")
	}

	if _, ok := metrics.counter("connectors.auth_url.total", "success"); !ok {
		t.Fatalf("expected auth_url success counter")
	}
	failure, ok := metrics.counter("connectors.auth_url.total", "failure")
	if !ok || failure.tags["provider"] != "github" {
		t.Fatalf("expected auth_url failure counter tagged with provider, got %+v", failure)
	}
	if _, ok := logger.find("error", "auth_url failed"); !ok {
		t.Fatalf("expected failure log")
	}
}
