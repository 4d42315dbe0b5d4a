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
	alertFires      metric.Int64Counter
	alertSuppressed metric.Int64Counter
	alertRejected   metric.Int64Counter
	channelOutcomes metric.Int64Counter
	evalErrors      metric.Int64Counter
	rateLimitDenied metric.Int64Counter
	realtimePublish metric.Int64Counter
	escalations     metric.Int64Counter
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
		name = "alertd"
	}
	meter := provider.Meter(name)

	alertFires, err := meter.Int64Counter("alertd_alert_fires_total")
	if err != nil {
		return nil, err
	}
	alertSuppressed, err := meter.Int64Counter("alertd_alert_suppressed_total")
	if err != nil {
		return nil, err
	}
	alertRejected, err := meter.Int64Counter("alertd_alert_rejected_total")
	if err != nil {
		return nil, err
	}
	channelOutcomes, err := meter.Int64Counter("alertd_channel_outcomes_total")
	if err != nil {
		return nil, err
	}
	evalErrors, err := meter.Int64Counter("alertd_evaluation_errors_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("alertd_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	realtimePublish, err := meter.Int64Counter("alertd_realtime_publish_total")
	if err != nil {
		return nil, err
	}
	escalations, err := meter.Int64Counter("alertd_channel_escalations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		alertFires:      alertFires,
		alertSuppressed: alertSuppressed,
		alertRejected:   alertRejected,
		channelOutcomes: channelOutcomes,
		evalErrors:      evalErrors,
		rateLimitDenied: rateLimitDenied,
		realtimePublish: realtimePublish,
		escalations:     escalations,
	}, nil
}

// RecordFire increments fire counts per alert type.
func (m *Metrics) RecordFire(ctx context.Context, alertType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("alert_type", strings.TrimSpace(alertType)))
	m.alertFires.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSuppressed increments suppression counts per reason.
func (m *Metrics) RecordSuppressed(ctx context.Context, alertType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("alert_type", strings.TrimSpace(alertType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.alertSuppressed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRejected increments rejection counts per reason.
func (m *Metrics) RecordRejected(ctx context.Context, alertType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("alert_type", strings.TrimSpace(alertType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.alertRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordChannelOutcome increments delivery outcome counts per channel.
func (m *Metrics) RecordChannelOutcome(ctx context.Context, channel, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.channelOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEvaluationError increments evaluation failure counts.
func (m *Metrics) RecordEvaluationError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.evalErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRealtimePublish increments realtime push publish counts.
func (m *Metrics) RecordRealtimePublish(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.realtimePublish.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordChannelEscalation increments operator escalation counts per channel.
func (m *Metrics) RecordChannelEscalation(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("channel", strings.TrimSpace(channel)))
	m.escalations.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"alert_type": {},
	"channel":    {},
	"outcome":    {},
	"reason":     {},
	"endpoint":   {},
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
