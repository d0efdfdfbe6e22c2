// Package http provides the pooled venue client shared by both market surfaces.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "funding_harvester/pkg/errors"
	"funding_harvester/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Signer signs a fully-built request in place. Implementations append
// auth parameters to the query string and set any required headers.
type Signer interface {
	SignRequest(req *http.Request) error
}

// Option adjusts a single request.
type Option func(*requestOptions)

type requestOptions struct {
	signer   Signer
	suppress bool
}

// WithSigner signs the request with the given scheme. Auth is selected per
// endpoint, not per host: the same client serves signed and public paths.
func WithSigner(s Signer) Option {
	return func(o *requestOptions) { o.signer = s }
}

// SuppressErrors marks the request as a probe: expected 4xx responses are
// not counted or recorded as errors. The error is still returned.
func SuppressErrors() Option {
	return func(o *requestOptions) { o.suppress = true }
}

// Client wraps http.Client for one market surface. It never retries: a
// non-2xx response surfaces immediately as a TransportError and retry
// policy stays with the orchestrator. A circuit breaker sheds load during
// venue outages and a rate limiter keeps request bursts inside venue
// weight limits.
type Client struct {
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
	pipeline failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client for one base URL. requestsPerSecond bounds the
// steady-state request rate; zero disables limiting.
func NewClient(baseURL string, timeout time.Duration, requestsPerSecond float64) *Client {
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	}

	tracer := telemetry.GetTracer("venue-client")
	meter := telemetry.GetMeter("venue-client")

	reqCounter, _ := meter.Int64Counter("venue_requests_total",
		metric.WithDescription("Total number of venue HTTP requests"))
	errCounter, _ := meter.Int64Counter("venue_errors_total",
		metric.WithDescription("Total number of venue HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("venue_request_duration_seconds",
		metric.WithDescription("Venue HTTP request latency in seconds"))

	return &Client{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     baseURL,
		limiter:     limiter,
		pipeline:    failsafe.With[*http.Response](breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BaseURL returns the surface base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get sends a GET request with params in the query string.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, opts ...Option) ([]byte, error) {
	return c.request(ctx, http.MethodGet, path, params, opts...)
}

// Post sends a POST request. Params go in the query string for signed and
// unsigned requests alike; the venue accepts both and this keeps the byte
// order under the signature identical to what is sent.
func (c *Client) Post(ctx context.Context, path string, params map[string]string, opts ...Option) ([]byte, error) {
	return c.request(ctx, http.MethodPost, path, params, opts...)
}

// Delete sends a DELETE request with params in the query string.
func (c *Client) Delete(ctx context.Context, path string, params map[string]string, opts ...Option) ([]byte, error) {
	return c.request(ctx, http.MethodDelete, path, params, opts...)
}

func (c *Client) request(ctx context.Context, method, path string, params map[string]string, opts ...Option) ([]byte, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return c.do(req, ro)
}

func (c *Client) do(req *http.Request, ro requestOptions) ([]byte, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.Host+req.URL.Path),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)

	if ro.signer != nil {
		if err := ro.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.client.Do(req)
	})

	duration := time.Since(start).Seconds()
	c.reqCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	))
	c.latencyHist.Record(ctx, duration, metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	))

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.String("error", "network"),
		))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: reading response body: %v", apperrors.ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		if !ro.suppress {
			c.errCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("path", req.URL.Path),
				attribute.Int("status", resp.StatusCode),
			))
		}
		return nil, &apperrors.TransportError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return body, nil
}
