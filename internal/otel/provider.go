// Package otel exports dispatch logs through the OpenTelemetry log SDK.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when Config.ServiceName is empty.
const DefaultServiceName = "rescue-dispatch"

// ErrNoExporter is returned when export is enabled but has nowhere to go.
var ErrNoExporter = errors.New("otel enabled without a log writer or endpoint")

// Config selects the exporters. LogWriter and Endpoint may both be set.
type Config struct {
	Enabled      bool
	ServiceName  string
	Version      string
	BatchTimeout time.Duration
	LogWriter    io.Writer
	Endpoint     string // host:port or a full http(s) URL
	Insecure     bool
}

// Provider owns the log pipeline. A disabled Provider has no pipeline and
// every method is a no-op.
type Provider struct {
	logs       *sdklog.LoggerProvider
	service    string
	instanceID string
}

// New builds the log pipeline described by cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	p := &Provider{service: cfg.ServiceName, instanceID: uuid.NewString()}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	exporters, err := exportersFor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithTelemetrySDK(), resource.WithAttributes(p.attributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		var batch []sdklog.BatchProcessorOption
		if cfg.BatchTimeout > 0 {
			batch = append(batch, sdklog.WithExportInterval(cfg.BatchTimeout))
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, batch...)))
	}
	p.logs = sdklog.NewLoggerProvider(opts...)
	return p, nil
}

func (p *Provider) attributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(p.service),
		attribute.String("service.instance.id", p.instanceID),
	}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, attribute.String("host.name", host))
	}
	return attrs
}

// exportersFor returns the file exporter first, then OTLP.
func exportersFor(ctx context.Context, cfg Config) ([]sdklog.Exporter, error) {
	var out []sdklog.Exporter
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter))
		if err != nil {
			return nil, fmt.Errorf("otel file exporter: %w", err)
		}
		out = append(out, exp)
	}
	if cfg.Endpoint != "" {
		exp, err := otlploghttp.New(ctx, otlpOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("otel otlp exporter %s: %w", cfg.Endpoint, err)
		}
		out = append(out, exp)
	}
	if len(out) == 0 {
		return nil, ErrNoExporter
	}
	return out, nil
}

func otlpOptions(cfg Config) []otlploghttp.Option {
	var opts []otlploghttp.Option
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlploghttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlploghttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	return opts
}

// LoggerProvider feeds the otelslog bridge. Nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logs
}

// Meter returns a meter from the global provider.
func (p *Provider) Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Flush exports buffered records.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logs == nil {
		return nil
	}
	if err := p.logs.ForceFlush(ctx); err != nil {
		return fmt.Errorf("otel flush: %w", err)
	}
	return nil
}

// Shutdown flushes and stops every exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logs == nil {
		return nil
	}
	if err := p.logs.Shutdown(ctx); err != nil {
		return fmt.Errorf("otel shutdown: %w", err)
	}
	return nil
}

func (p *Provider) Enabled() bool      { return p.logs != nil }
func (p *Provider) ServiceName() string { return p.service }
func (p *Provider) InstanceID() string  { return p.instanceID }
