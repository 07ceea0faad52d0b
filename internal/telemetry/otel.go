// Package telemetry provides optional OpenTelemetry tracing around the
// collector's hot paths (batch flush, event insert, retention sweep), with
// graceful degradation to a no-op tracer when disabled or unconfigured,
// adapted from ELIDA's internal/telemetry/otel.go.
package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

func DefaultConfig() Config {
	return Config{Enabled: false, Exporter: "none", ServiceName: "collector"}
}

// ConfigFromEnv mirrors ELIDA's environment-variable overrides, renamed to
// this module's prefix.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cfg.Enabled = true
		cfg.Exporter = "otlp"
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	if os.Getenv("DATA_COLLECTOR_TELEMETRY_ENABLED") == "true" {
		cfg.Enabled = true
	}
	if v := os.Getenv("DATA_COLLECTOR_TELEMETRY_EXPORTER"); v != "" {
		cfg.Exporter = v
	}
	if v := os.Getenv("DATA_COLLECTOR_TELEMETRY_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	return cfg
}

// Provider manages OpenTelemetry tracing for the collector's pipeline.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer("collector")}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "collector"
	}

	slog.Info("creating exporter", "type", cfg.Exporter)

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("otlp exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			slog.Error("stdout exporter creation failed", "error", err)
			return nil, err
		}
		slog.Info("stdout trace exporter initialized")
	default:
		return &Provider{config: cfg, tracer: otel.Tracer("collector")}, nil
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{config: cfg, tracer: tp.Tracer("collector"), provider: tp}, nil
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

func (p *Provider) Enabled() bool { return p.config.Enabled && p.provider != nil }

func NoopProvider() *Provider {
	return &Provider{config: Config{Enabled: false}, tracer: otel.Tracer("collector-noop")}
}

// Pipeline span attributes.
const (
	AttrBatchSize    = "collector.batch.size"
	AttrEventType    = "collector.event.type"
	AttrPriority     = "collector.priority"
	AttrTableName    = "collector.table"
	AttrRowsAffected = "collector.rows_affected"
	AttrDBSizeBytes  = "collector.db.size_bytes"
)

// StartFlushSpan wraps one bus batch-insert flush.
func (p *Provider) StartFlushSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "bus.flush",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int(AttrBatchSize, batchSize)),
	)
}

// StartInsertSpan wraps one Store.InsertEvents call.
func (p *Provider) StartInsertSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "store.insert_events",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int(AttrBatchSize, batchSize)),
	)
}

// StartRetentionSpan wraps one storage.RunRetention pass.
func (p *Provider) StartRetentionSpan(ctx context.Context) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "retention.run", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndSpan closes a span, recording err if non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
