// Package observability provides OpenTelemetry tracing for board lifecycle
// operations. Until Initialize is called the global no-op provider is used, so
// instrumented code costs nothing when tracing is disabled.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

// InstrumentationName identifies spans produced by this module
const InstrumentationName = "github.com/ajitpratap0/dynboard"

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
	// Writer receives exported spans; nil means stdout
	Writer       io.Writer
	BatchTimeout time.Duration
}

// Initialize installs a tracer provider exporting to the configured writer
func Initialize(config TracingConfig) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	batchTimeout := config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)

	providerMu.Lock()
	defer providerMu.Unlock()
	if provider != nil {
		_ = provider.Shutdown(context.Background())
	}
	provider = tp
	otel.SetTracerProvider(tp)
	return nil
}

// Shutdown flushes and stops the installed provider, if any
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	defer providerMu.Unlock()
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider = nil
	return err
}

// BoardTracer starts spans for one board's lifecycle operations
type BoardTracer struct {
	board     string
	sessionID string
}

// NewBoardTracer creates a tracer labelled with board and session
func NewBoardTracer(board, sessionID string) *BoardTracer {
	return &BoardTracer{board: board, sessionID: sessionID}
}

// Trace runs fn inside a span named "board.<operation>". The span records
// the host status code and is marked as an error when fn fails.
func (bt *BoardTracer) Trace(operation string, fn func() error) error {
	tracer := otel.Tracer(InstrumentationName)
	_, span := tracer.Start(context.Background(), "board."+operation,
		trace.WithAttributes(
			attribute.String("board.name", bt.board),
			attribute.String("board.session_id", bt.sessionID),
			attribute.String("board.operation", operation),
		))
	defer span.End()

	err := fn()
	span.SetAttributes(attribute.String("board.status", errors.Status(err).String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
