package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ContactCollector bundles Prometheus metrics for the contact manager and
// its gRPC and HTTP surfaces.
type ContactCollector struct {
	gatherer prometheus.Gatherer

	Reports         prometheus.Counter
	TrackedVessels  prometheus.Gauge
	StoredSnapshots prometheus.Gauge
	QueryDurations  *prometheus.HistogramVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// NewContactCollector registers contact metrics against reg, defaulting to
// the global Prometheus registry when nil. Registering twice against the
// same registry reuses the existing collectors.
func NewContactCollector(reg prometheus.Registerer) (*ContactCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &ContactCollector{gatherer: gatherer}
	var err error

	if c.Reports, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ais_reports_total",
		Help: "Total number of AIS snapshots accepted, including imports.",
	}), "ais_reports_total"); err != nil {
		return nil, err
	}
	if c.TrackedVessels, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ais_tracked_vessels",
		Help: "Number of vessels with at least one stored snapshot.",
	}), "ais_tracked_vessels"); err != nil {
		return nil, err
	}
	if c.StoredSnapshots, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ais_stored_snapshots",
		Help: "Number of snapshots held across all vessel histories.",
	}), "ais_stored_snapshots"); err != nil {
		return nil, err
	}
	if c.QueryDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ais_query_duration_seconds",
		Help:    "Latency of contact manager queries in seconds.",
		Buckets: latencyBuckets,
	}, []string{"query"}), "ais_query_duration_seconds"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ais_rpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "ais_rpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ais_rpc_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"service", "method"}), "ais_rpc_duration_seconds"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ais_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"}), "ais_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ais_http_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route"}), "ais_http_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ContactCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ContactCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ContactCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// SetContactCounts updates the store size gauges.
func (c *ContactCollector) SetContactCounts(vessels, snapshots int) {
	if c == nil {
		return
	}
	if c.TrackedVessels != nil {
		c.TrackedVessels.Set(float64(vessels))
	}
	if c.StoredSnapshots != nil {
		c.StoredSnapshots.Set(float64(snapshots))
	}
}

// AddReports increments the accepted-snapshot counter by n.
func (c *ContactCollector) AddReports(n int) {
	if c == nil || c.Reports == nil || n <= 0 {
		return
	}
	c.Reports.Add(float64(n))
}

// ObserveQuery records the latency of a named query.
func (c *ContactCollector) ObserveQuery(query string, d time.Duration) {
	if c == nil || c.QueryDurations == nil {
		return
	}
	c.QueryDurations.WithLabelValues(query).Observe(d.Seconds())
}

// ObserveHTTP records one handled HTTP request.
func (c *ContactCollector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if c.HTTPRequests != nil {
		c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	}
	if c.HTTPDurations != nil {
		c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C, name string) (C, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return collector, nil
}
