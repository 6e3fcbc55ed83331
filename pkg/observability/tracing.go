package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
)

// TracerProvider wraps the OpenTelemetry tracer provider with the service's
// configuration and a pre-configured tracer instance.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	ServiceName string
	Environment string
	Endpoint    string
	SampleRate  float64
}

// InitTracing initializes distributed tracing
func InitTracing(config TracingConfig) (*TracerProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "meshmind-backend"
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate(config.Environment)
	}

	exporter, err := createOTLPExporter(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(config)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: tp,
		tracer:   tp.Tracer(config.ServiceName),
		config:   config,
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter
func createOTLPExporter(endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		endpoint = "localhost:4317" // Default OTLP gRPC endpoint
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}

	// Use insecure connection for local development
	if endpoint == "localhost:4317" || endpoint == "127.0.0.1:4317" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	return otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(opts...),
	)
}

// createSampler creates a sampler based on environment
func createSampler(config TracingConfig) sdktrace.Sampler {
	switch config.Environment {
	case "production":
		return sdktrace.TraceIDRatioBased(config.SampleRate)
	case "staging":
		return sdktrace.TraceIDRatioBased(0.1)
	default:
		// Sample everything in development
		return sdktrace.AlwaysSample()
	}
}

// defaultSampleRate returns the default sample rate for an environment
func defaultSampleRate(environment string) float64 {
	switch environment {
	case "production":
		return 0.01
	case "staging":
		return 0.1
	default:
		return 1.0
	}
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// StartSpan starts a new span
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// TraceGraphRepository wraps a graph repository so every operation emits a span
func TraceGraphRepository(repo ports.GraphRepository, tracer trace.Tracer) ports.GraphRepository {
	return &tracedGraphRepository{
		inner:  repo,
		tracer: tracer,
	}
}

type tracedGraphRepository struct {
	inner  ports.GraphRepository
	tracer trace.Tracer
}

func (r *tracedGraphRepository) UpsertNode(ctx context.Context, tenantID graph.TenantID, node *graph.Node) (string, error) {
	ctx, span := r.tracer.Start(ctx, "repository.UpsertNode",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("node.type", string(node.Type)),
		),
	)
	defer span.End()

	id, err := r.inner.UpsertNode(ctx, tenantID, node)
	if err != nil {
		span.RecordError(err)
	}

	return id, err
}

func (r *tracedGraphRepository) GetNode(ctx context.Context, tenantID graph.TenantID, nodeID string) (*graph.Node, error) {
	ctx, span := r.tracer.Start(ctx, "repository.GetNode",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("node.id", nodeID),
		),
	)
	defer span.End()

	node, err := r.inner.GetNode(ctx, tenantID, nodeID)
	if err != nil {
		span.RecordError(err)
	}

	return node, err
}

func (r *tracedGraphRepository) DeleteNode(ctx context.Context, tenantID graph.TenantID, nodeID string) error {
	ctx, span := r.tracer.Start(ctx, "repository.DeleteNode",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("node.id", nodeID),
		),
	)
	defer span.End()

	err := r.inner.DeleteNode(ctx, tenantID, nodeID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *tracedGraphRepository) UpsertEdge(ctx context.Context, tenantID graph.TenantID, edge *graph.Edge) (string, error) {
	ctx, span := r.tracer.Start(ctx, "repository.UpsertEdge",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("edge.type", string(edge.Type)),
		),
	)
	defer span.End()

	id, err := r.inner.UpsertEdge(ctx, tenantID, edge)
	if err != nil {
		span.RecordError(err)
	}

	return id, err
}

func (r *tracedGraphRepository) EdgesBetween(ctx context.Context, tenantID graph.TenantID, sourceID, targetID string) ([]*graph.Edge, error) {
	ctx, span := r.tracer.Start(ctx, "repository.EdgesBetween",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
		),
	)
	defer span.End()

	edges, err := r.inner.EdgesBetween(ctx, tenantID, sourceID, targetID)
	if err != nil {
		span.RecordError(err)
	}

	return edges, err
}

func (r *tracedGraphRepository) FindRelated(ctx context.Context, tenantID graph.TenantID, startID string, maxHops int) ([]graph.Neighbor, error) {
	ctx, span := r.tracer.Start(ctx, "repository.FindRelated",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("node.id", startID),
			attribute.Int("max_hops", maxHops),
		),
	)
	defer span.End()

	neighbors, err := r.inner.FindRelated(ctx, tenantID, startID, maxHops)

	span.SetAttributes(attribute.Int("result.count", len(neighbors)))
	if err != nil {
		span.RecordError(err)
	}

	return neighbors, err
}

func (r *tracedGraphRepository) ShortestPath(ctx context.Context, tenantID graph.TenantID, fromID, toID string) (*graph.Path, error) {
	ctx, span := r.tracer.Start(ctx, "repository.ShortestPath",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("from.id", fromID),
			attribute.String("to.id", toID),
		),
	)
	defer span.End()

	path, err := r.inner.ShortestPath(ctx, tenantID, fromID, toID)
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(attribute.Int("path.hops", path.Hops))
	}

	return path, err
}

func (r *tracedGraphRepository) ListNodes(ctx context.Context, tenantID graph.TenantID, filter ports.NodeFilter) ([]*graph.Node, error) {
	ctx, span := r.tracer.Start(ctx, "repository.ListNodes",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
		),
	)
	defer span.End()

	nodes, err := r.inner.ListNodes(ctx, tenantID, filter)

	span.SetAttributes(attribute.Int("result.count", len(nodes)))
	if err != nil {
		span.RecordError(err)
	}

	return nodes, err
}

func (r *tracedGraphRepository) ApplyBatch(ctx context.Context, tenantID graph.TenantID, batch ports.WriteBatch) error {
	ctx, span := r.tracer.Start(ctx, "repository.ApplyBatch",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.Int("batch.nodes", len(batch.Nodes)),
			attribute.Int("batch.edges", len(batch.Edges)),
			attribute.Int("batch.entities", len(batch.Entities)),
			attribute.Int("batch.entity_edges", len(batch.EntityEdges)),
		),
	)
	defer span.End()

	err := r.inner.ApplyBatch(ctx, tenantID, batch)
	if err != nil {
		span.RecordError(err)
	}

	return err
}
