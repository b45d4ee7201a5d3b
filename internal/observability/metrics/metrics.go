// Package metrics exposes application-level OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	eventsIngested    metric.Int64Counter
	executionsApplied metric.Int64Counter
	chargesRejected   metric.Int64Counter
	statsRebuilds     metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "permipay"
	}
	meter := provider.Meter(name)

	eventsIngested, err := meter.Int64Counter("permipay_chain_events_ingested_total")
	if err != nil {
		return nil, err
	}
	executionsApplied, err := meter.Int64Counter("permipay_executions_applied_total")
	if err != nil {
		return nil, err
	}
	chargesRejected, err := meter.Int64Counter("permipay_charges_rejected_total")
	if err != nil {
		return nil, err
	}
	statsRebuilds, err := meter.Int64Counter("permipay_stats_rebuilds_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("permipay_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsIngested:    eventsIngested,
		executionsApplied: executionsApplied,
		chargesRejected:   chargesRejected,
		statsRebuilds:     statsRebuilds,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordEventIngested increments accepted chain event counts.
func (m *Metrics) RecordEventIngested(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_kind", strings.TrimSpace(kind)))
	m.eventsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordExecutionApplied increments applied execution counts.
func (m *Metrics) RecordExecutionApplied(ctx context.Context, serviceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("service_type", strings.TrimSpace(serviceType)))
	m.executionsApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordChargeRejected increments rejected charge counts.
func (m *Metrics) RecordChargeRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.chargesRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStatsRebuild increments stats rebuild counts.
func (m *Metrics) RecordStatsRebuild(ctx context.Context) {
	if m == nil {
		return
	}
	m.statsRebuilds.Add(ctx, 1)
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":     {},
	"status_code":  {},
	"event_kind":   {},
	"service_type": {},
	"reason":       {},
	"route":        {},
	"method":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
