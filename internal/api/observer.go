package api

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestInfo describes one top-level request. Attempts and Duration are
// only set for AfterRequest.
type RequestInfo struct {
	Method   string
	Endpoint string
	Attempts int
	Duration time.Duration
}

// Observer is notified once around every top-level Request. Retries of that
// request are reported through RequestInfo.Attempts.
type Observer interface {
	BeforeRequest(ctx context.Context, info RequestInfo)
	AfterRequest(ctx context.Context, info RequestInfo, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Before func(ctx context.Context, info RequestInfo)
	After  func(ctx context.Context, info RequestInfo, err error)
}

func (o ObserverFuncs) BeforeRequest(ctx context.Context, info RequestInfo) {
	if o.Before != nil {
		o.Before(ctx, info)
	}
}

func (o ObserverFuncs) AfterRequest(ctx context.Context, info RequestInfo, err error) {
	if o.After != nil {
		o.After(ctx, info, err)
	}
}

const (
	StatusUnknown  = "unknown"
	StatusWorking  = "api_working"
	StatusAPIError = "api_error"
)

// IntegrationStatus is the outcome of the most recent request.
type IntegrationStatus struct {
	Status    string    `json:"status"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusTracker records whether the last request worked.
type StatusTracker struct {
	now func() time.Time

	mu   sync.RWMutex
	last IntegrationStatus
}

var _ Observer = (*StatusTracker)(nil)

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{now: time.Now, last: IntegrationStatus{Status: StatusUnknown}}
}

func (s *StatusTracker) BeforeRequest(context.Context, RequestInfo) {}

func (s *StatusTracker) AfterRequest(_ context.Context, info RequestInfo, err error) {
	st := IntegrationStatus{Status: StatusWorking, Endpoint: info.Endpoint, UpdatedAt: s.now()}
	if err != nil {
		st.Status = StatusAPIError
		st.Error = err.Error()
	}
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
}

func (s *StatusTracker) Status() IntegrationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// MetricsObserver exports request counts, retries and latency.
type MetricsObserver struct {
	requests metric.Int64Counter
	retries  metric.Int64Counter
	latency  metric.Float64Histogram
}

var _ Observer = (*MetricsObserver)(nil)

func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	requests, err := meter.Int64Counter("offline0.api.requests",
		metric.WithDescription("API requests by endpoint and outcome"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("offline0.api.retries",
		metric.WithDescription("API request retries"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("offline0.api.duration",
		metric.WithDescription("API request duration including retries"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &MetricsObserver{requests: requests, retries: retries, latency: latency}, nil
}

func (m *MetricsObserver) BeforeRequest(context.Context, RequestInfo) {}

func (m *MetricsObserver) AfterRequest(ctx context.Context, info RequestInfo, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", info.Endpoint),
		attribute.String("outcome", outcome),
	)
	m.requests.Add(ctx, 1, attrs)
	if info.Attempts > 1 {
		m.retries.Add(ctx, int64(info.Attempts-1), metric.WithAttributes(attribute.String("endpoint", info.Endpoint)))
	}
	m.latency.Record(ctx, float64(info.Duration)/float64(time.Millisecond), attrs)
}
