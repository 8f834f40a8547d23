// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/stembot/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultCatalogTTL is how long a successful model listing is reused.
const DefaultCatalogTTL = 300 * time.Second

// Fallback replies shown to the user when a query fails.
const (
	ReplyTimeout    = "Sorry, the request timed out."
	ReplyHTTPError  = "Sorry, an HTTP error occurred while contacting Ollama."
	ReplyConnection = "Sorry, there was a problem contacting Ollama."
	ReplyUnexpected = "Sorry, an unexpected error occurred."
	ReplyNoContent  = "No content."
)

const instrumentationName = "github.com/jeranaias/stembot/internal/ollama"

// =============================================================================
// QUERY RESULT
// =============================================================================

// QueryResult is the outcome of Gateway.Query. Reply is never empty.
type QueryResult struct {
	Reply    string
	Thinking string
	Elapsed  time.Duration

	// Token counts reported by the server, zero when unknown.
	PromptTokens int
	ReplyTokens  int

	// Err is set when Reply is a fallback message.
	Err *ClientError
}

// ElapsedSeconds returns Elapsed as fractional seconds.
func (r QueryResult) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

// Failed reports whether the query fell back to an apology.
func (r QueryResult) Failed() bool {
	return r.Err != nil
}

// =============================================================================
// GATEWAY
// =============================================================================

// catalogEntry is the cached model listing.
type catalogEntry struct {
	value     []string
	fetchedAt time.Time
	valid     bool
}

// Gateway wraps a Client with model-list caching, thinking extraction and a
// fail-soft error policy. It is safe for concurrent use.
type Gateway struct {
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	client  *Client
	ttl     time.Duration
	catalog catalogEntry

	tp       trace.TracerProvider
	mp       metric.MeterProvider
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errCount metric.Int64Counter
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithClock replaces time.Now for cache expiry and elapsed time.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// WithCatalogTTL sets how long a model listing stays fresh.
func WithCatalogTTL(ttl time.Duration) GatewayOption {
	return func(g *Gateway) { g.ttl = ttl }
}

// WithLogger sets the logger used for warnings.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// WithProviders sets the tracer and meter providers. The globals
// registered by the telemetry package are used otherwise.
func WithProviders(tp trace.TracerProvider, mp metric.MeterProvider) GatewayOption {
	return func(g *Gateway) {
		g.tp = tp
		g.mp = mp
	}
}

// NewGateway creates a Gateway around client.
func NewGateway(client *Client, opts ...GatewayOption) *Gateway {
	if client == nil {
		client = NewClient()
	}
	g := &Gateway{
		client: client,
		now:    time.Now,
		ttl:    DefaultCatalogTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.tp == nil {
		g.tp = otel.GetTracerProvider()
	}
	if g.mp == nil {
		g.mp = otel.GetMeterProvider()
	}
	g.tracer = g.tp.Tracer(instrumentationName)
	g.initMetrics(g.mp.Meter(instrumentationName))
	return g
}

func (g *Gateway) initMetrics(meter metric.Meter) {
	var err error
	g.duration, err = meter.Float64Histogram("ollama.chat.duration",
		metric.WithDescription("Wall-clock duration of chat requests"),
		metric.WithUnit("s"))
	if err != nil {
		g.logger.Warn("create duration histogram", "error", err)
	}
	g.errCount, err = meter.Int64Counter("ollama.chat.errors",
		metric.WithDescription("Chat requests that returned a fallback reply"))
	if err != nil {
		g.logger.Warn("create error counter", "error", err)
	}
}

// Client returns the underlying transport client.
func (g *Gateway) Client() *Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// SetClient replaces the transport client and drops the cached model
// listing, which belonged to the previous server. Requests already in
// flight finish on the old client.
func (g *Gateway) SetClient(client *Client) {
	if client == nil {
		return
	}
	g.mu.Lock()
	g.client = client
	g.mu.Unlock()
	g.InvalidateCatalog()
	g.logger.Info("ollama client replaced", "base_url", client.BaseURL(), "default_model", client.DefaultModel())
}

// SetCatalogTTL changes how long later listings stay fresh.
func (g *Gateway) SetCatalogTTL(ttl time.Duration) {
	g.mu.Lock()
	g.ttl = ttl
	g.mu.Unlock()
}

// DefaultModel returns the configured default model name.
func (g *Gateway) DefaultModel() string {
	return g.Client().DefaultModel()
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// ListModels returns the sorted model names available on the server.
// Successful listings are reused until the TTL elapses. On failure an empty
// slice is returned, a warning is logged, and nothing is cached.
func (g *Gateway) ListModels(ctx context.Context) []string {
	g.mu.Lock()
	if g.catalog.valid && g.now().Sub(g.catalog.fetchedAt) < g.ttl {
		names := append([]string(nil), g.catalog.value...)
		g.mu.Unlock()
		return names
	}
	client := g.client
	g.mu.Unlock()

	models, err := client.ListModels(ctx)
	if err != nil {
		g.logger.Warn("could not list models", "base_url", client.BaseURL(), "error", err)
		return []string{}
	}

	names := make([]string, 0, len(models))
	for _, m := range models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	sort.Strings(names)

	g.mu.Lock()
	// A listing from a client that was swapped out meanwhile is not cached.
	if g.client == client {
		g.catalog = catalogEntry{value: names, fetchedAt: g.now(), valid: true}
	}
	g.mu.Unlock()

	return append([]string(nil), names...)
}

// InvalidateCatalog drops the cached model listing.
func (g *Gateway) InvalidateCatalog() {
	g.mu.Lock()
	g.catalog = catalogEntry{}
	g.mu.Unlock()
}

// =============================================================================
// QUERY
// =============================================================================

// Query sends history plus prompt to the model and waits for one complete
// reply. The prompt is not appended again if history already ends with the
// same user turn. Query never returns an error: failures produce a
// fallback Reply with Err set.
func (g *Gateway) Query(ctx context.Context, prompt string, history []model.Message, modelName string) (res QueryResult) {
	start := g.now()

	ctx, span := g.tracer.Start(ctx, "ollama.chat", trace.WithAttributes(
		attribute.String("ollama.model", modelName),
		attribute.Int("ollama.turns", len(history)+1),
	))
	defer func() {
		if r := recover(); r != nil {
			res = failure(&ClientError{Type: ErrTypeUnknown, Message: ErrUnexpected.Message, Cause: fmt.Errorf("panic: %v", r)})
		}
		res.Elapsed = g.now().Sub(start)
		if res.Elapsed < 0 {
			res.Elapsed = 0
		}
		g.record(ctx, span, modelName, res)
		span.End()
	}()

	resp, err := g.Client().Chat(ctx, modelName, buildMessages(history, prompt))
	if err != nil {
		ce, ok := err.(*ClientError)
		if !ok {
			ce = &ClientError{Type: ErrTypeUnknown, Message: ErrUnexpected.Message, Cause: err}
		}
		level := slog.LevelError
		if ce.IsTransport() {
			level = slog.LevelWarn
		}
		g.logger.Log(ctx, level, "chat request failed",
			"model", modelName,
			"kind", ce.Type.String(),
			"class", errorClass(ce),
			"status", ce.StatusCode,
			"detail", ce.Detail,
			"error", ce)
		return failure(ce)
	}

	res = QueryResult{PromptTokens: resp.PromptEvalCount, ReplyTokens: resp.EvalCount}
	raw := resp.Message.Content
	if raw == "" {
		res.Reply = ReplyNoContent
		return res
	}
	res.Reply, res.Thinking = SplitThinking(raw)
	if res.Reply == "" {
		res.Reply = ReplyNoContent
	}
	return res
}

// failure converts a client error into its fallback result.
func failure(ce *ClientError) QueryResult {
	var reply string
	switch ce.Type {
	case ErrTypeTimeout:
		reply = ReplyTimeout
	case ErrTypeHTTP:
		reply = ReplyHTTPError
	case ErrTypeConnection:
		reply = ReplyConnection
	default:
		reply = ReplyUnexpected
	}
	return QueryResult{Reply: reply, Err: ce}
}

// errorClass groups a failure for logs and metrics.
func errorClass(ce *ClientError) string {
	switch {
	case ce.IsTransport():
		return "transport"
	case ce.IsRemoteProtocol():
		return "remote_protocol"
	default:
		return "other"
	}
}

func (g *Gateway) record(ctx context.Context, span trace.Span, modelName string, res QueryResult) {
	attrs := []attribute.KeyValue{attribute.String("ollama.model", modelName)}
	if g.duration != nil {
		g.duration.Record(ctx, res.ElapsedSeconds(), metric.WithAttributes(attrs...))
	}
	if res.Err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	class := errorClass(res.Err)
	span.RecordError(res.Err)
	span.SetAttributes(attribute.String("ollama.error.class", class))
	span.SetStatus(codes.Error, res.Err.Type.String())
	if g.errCount != nil {
		g.errCount.Add(ctx, 1, metric.WithAttributes(append(attrs,
			attribute.String("kind", res.Err.Type.String()),
			attribute.String("class", class))...))
	}
}
