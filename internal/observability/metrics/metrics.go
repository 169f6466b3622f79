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
	entitlementChecks metric.Int64Counter
	usageRecords      metric.Int64Counter
	alertsFired       metric.Int64Counter
	alertsResolved    metric.Int64Counter
	webhookDeliveries metric.Int64Counter
	circuitOpened     metric.Int64Counter
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
		name = "entitle"
	}
	meter := provider.Meter(name)

	entitlementChecks, err := meter.Int64Counter("entitle_entitlement_checks_total")
	if err != nil {
		return nil, err
	}
	usageRecords, err := meter.Int64Counter("entitle_usage_records_total")
	if err != nil {
		return nil, err
	}
	alertsFired, err := meter.Int64Counter("entitle_alerts_fired_total")
	if err != nil {
		return nil, err
	}
	alertsResolved, err := meter.Int64Counter("entitle_alerts_resolved_total")
	if err != nil {
		return nil, err
	}
	webhookDeliveries, err := meter.Int64Counter("entitle_webhook_deliveries_total")
	if err != nil {
		return nil, err
	}
	circuitOpened, err := meter.Int64Counter("entitle_webhook_circuit_opened_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		entitlementChecks: entitlementChecks,
		usageRecords:      usageRecords,
		alertsFired:       alertsFired,
		alertsResolved:    alertsResolved,
		webhookDeliveries: webhookDeliveries,
		circuitOpened:     circuitOpened,
	}, nil
}

// RecordEntitlementCheck counts checks by decision and reason.
func (m *Metrics) RecordEntitlementCheck(ctx context.Context, featureCode, decision, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature_code", strings.TrimSpace(featureCode)),
		attribute.String("decision", strings.TrimSpace(decision)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.entitlementChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsage counts appended usage records.
func (m *Metrics) RecordUsage(ctx context.Context, featureCode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature_code", strings.TrimSpace(featureCode)))
	m.usageRecords.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAlertFired counts threshold crossings that created an alert.
func (m *Metrics) RecordAlertFired(ctx context.Context, featureCode string, threshold int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature_code", strings.TrimSpace(featureCode)),
		attribute.Int("threshold", threshold),
	)
	m.alertsFired.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAlertResolved counts alerts resolved by usage dropping back.
func (m *Metrics) RecordAlertResolved(ctx context.Context, featureCode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature_code", strings.TrimSpace(featureCode)))
	m.alertsResolved.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookDelivery counts delivery attempts by outcome.
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, event, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event", strings.TrimSpace(event)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCircuitOpened counts webhooks disabled by the breaker.
func (m *Metrics) RecordCircuitOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.circuitOpened.Add(ctx, 1)
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
	"feature_code": {},
	"decision":     {},
	"reason":       {},
	"threshold":    {},
	"event":        {},
	"outcome":      {},
	"endpoint":     {},
	"status_code":  {},
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
