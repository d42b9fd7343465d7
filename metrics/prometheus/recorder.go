// Package prometheus exposes connectors operation metrics through
// prometheus/client_golang.
package prometheus

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/goliatone/go-connectors/core"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultLabels covers every tag the service, coordinator, factory and job
// hooks emit. Tags outside the set are dropped; missing ones become "".
var DefaultLabels = []string{
	"operation",
	"status",
	"provider",
	"connector",
	"capability",
	"operation_name",
	"phase",
	"job_id",
}

// DefaultDurationBuckets are in milliseconds, matching the *_duration_ms names.
var DefaultDurationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

type Option func(*Recorder)

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(r *Recorder) {
		if registerer != nil {
			r.registerer = registerer
		}
	}
}

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder implements core.MetricsRecorder. Vectors are created on first use
// per metric name and registered once.
type Recorder struct {
	registerer prometheus.Registerer
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		registerer: prometheus.DefaultRegisterer,
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    append([]float64(nil), DefaultDurationBuckets...),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value <= 0 {
		return
	}
	vec, err := r.counter(name)
	if err != nil {
		return
	}
	vec.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec, err := r.histogram(name)
	if err != nil {
		return
	}
	vec.With(r.labelValues(tags)).Observe(value)
}

func (r *Recorder) counter(name string) (*prometheus.CounterVec, error) {
	metricName := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metricName]; ok {
		return vec, nil
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName,
		Help: "connectors counter " + strings.TrimSpace(name),
	}, r.labels)
	registered, err := register(r.registerer, vec)
	if err != nil {
		return nil, err
	}
	typed, ok := registered.(*prometheus.CounterVec)
	if !ok {
		return nil, errors.New("prometheus: " + metricName + " is registered with another type")
	}
	r.counters[metricName] = typed
	return typed, nil
}

func (r *Recorder) histogram(name string) (*prometheus.HistogramVec, error) {
	metricName := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metricName]; ok {
		return vec, nil
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName,
		Help:    "connectors histogram " + strings.TrimSpace(name),
		Buckets: r.buckets,
	}, r.labels)
	registered, err := register(r.registerer, vec)
	if err != nil {
		return nil, err
	}
	typed, ok := registered.(*prometheus.HistogramVec)
	if !ok {
		return nil, errors.New("prometheus: " + metricName + " is registered with another type")
	}
	r.histograms[metricName] = typed
	return typed, nil
}

func register(registerer prometheus.Registerer, collector prometheus.Collector) (prometheus.Collector, error) {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector, nil
		}
		return nil, err
	}
	return collector, nil
}

func (r *Recorder) labelValues(tags map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(r.labels))
	for _, label := range r.labels {
		out[label] = strings.TrimSpace(tags[label])
	}
	return out
}

// MetricName maps dotted names such as connectors.refresh.duration_ms to
// connectors_refresh_duration_ms.
func MetricName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(name))
	for i, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch == '_':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "connectors_unnamed"
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
