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

// Metrics exposes payment and settlement instruments.
type Metrics struct {
	paymentOutcomes   metric.Int64Counter
	manipulations     metric.Int64Counter
	cancellations     metric.Int64Counter
	rebateTransitions metric.Int64Counter
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
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "expertly"
	}
	meter := provider.Meter(name)

	paymentOutcomes, err := meter.Int64Counter("expertly_payment_outcomes_total")
	if err != nil {
		return nil, err
	}
	manipulations, err := meter.Int64Counter("expertly_payment_manipulations_total")
	if err != nil {
		return nil, err
	}
	cancellations, err := meter.Int64Counter("expertly_payment_cancellations_total")
	if err != nil {
		return nil, err
	}
	rebateTransitions, err := meter.Int64Counter("expertly_rebate_transitions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentOutcomes:   paymentOutcomes,
		manipulations:     manipulations,
		cancellations:     cancellations,
		rebateTransitions: rebateTransitions,
	}, nil
}

// RecordPaymentOutcome counts confirmed and failed checkouts per payment type.
func (m *Metrics) RecordPaymentOutcome(ctx context.Context, paymentType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("payment_type", strings.TrimSpace(paymentType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.paymentOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordManipulation(ctx context.Context, paymentType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("payment_type", strings.TrimSpace(paymentType)))
	m.manipulations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCancellation(ctx context.Context, paymentType string, full bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if full {
		kind = "full"
	}
	attrs := FilterAttributes(
		attribute.String("payment_type", strings.TrimSpace(paymentType)),
		attribute.String("kind", kind),
	)
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRebateTransition(ctx context.Context, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.rebateTransitions.Add(ctx, int64(count), metric.WithAttributes(attrs...))
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
	"payment_type": {},
	"status":       {},
	"kind":         {},
	"endpoint":     {},
	"status_code":  {},
	"reason":       {},
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
