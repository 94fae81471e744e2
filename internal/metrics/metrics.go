package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/checkout-api/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// AppMetrics holds all application metrics
type AppMetrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestsErrors  metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Database Metrics
	DBQueriesTotal  metric.Int64Counter
	DBQueryDuration metric.Float64Histogram

	// Business Metrics
	OrdersCreated    metric.Int64Counter
	CheckoutFailures metric.Int64Counter
	CheckoutDuration metric.Float64Histogram
	ProductsViewed   metric.Int64Counter
	CartItemsCount   metric.Int64Gauge
	InventoryLevel   metric.Int64Gauge
	RevenueTotal     metric.Float64Counter

	// Application Metrics
	ActiveCartsCount metric.Int64Gauge
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter

	// Service name for adding to all metrics
	serviceName string
}

// InitMetrics initializes OpenTelemetry metrics exported over OTLP HTTP
func InitMetrics(ctx context.Context, cfg *config.Config) (*AppMetrics, *sdkmetric.MeterProvider, error) {
	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// WithEndpoint expects host:port without scheme.
	exporterOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.OTELExporterOTLPEndpoint),
		otlpmetrichttp.WithURLPath("/v1/metrics"),
	}

	if cfg.OTELExporterOTLPHeaders != "" {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithHeaders(ParseHeaders(cfg.OTELExporterOTLPHeaders)))
	}

	if cfg.OTELExporterOTLPInsecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(10*time.Second),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetMeterProvider(meterProvider)

	appMetrics, err := New(meterProvider.Meter(cfg.OTELServiceName), cfg.OTELServiceName)
	if err != nil {
		return nil, nil, err
	}

	return appMetrics, meterProvider, nil
}

// NewNoop returns metrics backed by a no-op meter
func NewNoop() *AppMetrics {
	m, err := New(noop.NewMeterProvider().Meter("noop"), "noop")
	if err != nil {
		// the noop meter never fails to create instruments
		panic(err)
	}
	return m
}

// NewResource builds the service resource shared by the meter and tracer providers
func NewResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	// Env attributes first, explicit ones take precedence on merge.
	envRes, err := resource.New(ctx, resource.WithFromEnv())
	if err != nil {
		envRes = resource.Empty()
	}

	explicitRes, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.OTELServiceName),
			semconv.ServiceVersion(cfg.OTELServiceVersion),
			attribute.String("deployment.environment", cfg.OTELDeploymentEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create explicit resource: %w", err)
	}

	res, err := resource.Merge(envRes, explicitRes)
	if err != nil {
		return nil, fmt.Errorf("failed to merge resources: %w", err)
	}

	return res, nil
}

// durationBuckets are the SigNoz default histogram buckets in milliseconds, expanded to 60s.
var durationBuckets = []float64{2, 4, 6, 8, 10, 50, 100, 200, 400, 800, 1000, 1400, 2000, 5000, 10000, 15000, 20000, 30000, 45000, 60000}

// instruments creates instruments on a meter and keeps the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
	b.check(name, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64Gauge {
	g, err := b.meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit("1"))
	b.check(name, err)
	return g
}

func (b *instruments) histogramMs(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	b.check(name, err)
	return h
}

func (b *instruments) check(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create instrument %s: %w", name, err)
	}
}

// New creates all instruments on meter
func New(meter metric.Meter, serviceName string) (*AppMetrics, error) {
	b := &instruments{meter: meter}

	m := &AppMetrics{
		HTTPRequestsTotal:   b.counter("http.server.request.count", "Total number of HTTP requests"),
		HTTPRequestsErrors:  b.counter("http.server.request.error.count", "Total number of HTTP error requests"),
		HTTPRequestDuration: b.histogramMs("http.server.request.duration", "HTTP request duration in milliseconds"),

		DBQueriesTotal:  b.counter("db.client.queries.count", "Total number of database queries"),
		DBQueryDuration: b.histogramMs("db.client.queries.duration", "Database query duration in milliseconds"),

		OrdersCreated:    b.counter("orders_created_total", "Total number of orders created"),
		CheckoutFailures: b.counter("checkout_failures_total", "Total number of aborted checkouts by error kind"),
		CheckoutDuration: b.histogramMs("checkout_duration", "Checkout duration in milliseconds"),
		ProductsViewed:   b.counter("products_viewed_total", "Total number of product views"),
		CartItemsCount:   b.gauge("cart_items_count", "Current number of items in user carts"),
		InventoryLevel:   b.gauge("inventory_level", "Current stock level for products"),

		ActiveCartsCount: b.gauge("active_carts_count", "Number of active carts with items"),
		CacheHits:        b.counter("cache_hits_total", "Total number of product cache hits"),
		CacheMisses:      b.counter("cache_misses_total", "Total number of product cache misses"),

		serviceName: serviceName,
	}

	revenue, err := meter.Float64Counter("revenue_total",
		metric.WithDescription("Total revenue from placed orders"),
		metric.WithUnit("USD"),
	)
	b.check("revenue_total", err)
	m.RevenueTotal = revenue

	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// WithServiceName adds service.name to attributes
func (m *AppMetrics) WithServiceName(attrs []attribute.KeyValue) []attribute.KeyValue {
	return append(attrs, attribute.String("service.name", m.serviceName))
}

// RecordDBQuery records database query metrics including the SQL statement
func (m *AppMetrics) RecordDBQuery(ctx context.Context, operation, table, statement string, start time.Time, success bool) {
	duration := time.Since(start).Milliseconds()

	status := "success"
	if !success {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
		attribute.String("db.statement", statement),
		attribute.String("db.system", "mysql"),
		attribute.String("status", status),
	}

	m.DBQueriesTotal.Add(ctx, 1, metric.WithAttributes(m.WithServiceName(attrs)...))
	m.DBQueryDuration.Record(ctx, float64(duration), metric.WithAttributes(m.WithServiceName(attrs)...))
}

// ParseHeaders parses header string in format "key1=value1,key2=value2"
func ParseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	if headerStr == "" {
		return headers
	}

	pairs := strings.Split(headerStr, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}
