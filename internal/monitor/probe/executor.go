// Package probe executes endpoint liveness probes over HTTP(S) and gRPC.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"google.golang.org/grpc"

	"github.com/vietddude/depwatch/internal/core/domain"
	"github.com/vietddude/depwatch/internal/monitor/retry"
)

const maxBodyBytes = 1 << 20

// Config controls probe timeouts and retries.
type Config struct {
	RetryAttempts  int
	RetryDelay     time.Duration
	DefaultTimeout time.Duration
}

// Executor runs probes. It is safe for concurrent use.
type Executor struct {
	cfg        Config
	httpClient *http.Client
	registry   *Registry
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithRegistry sets the custom assertion registry.
func WithRegistry(r *Registry) Option {
	return func(e *Executor) { e.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	e := &Executor{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		registry: NewRegistry(),
		logger:   slog.Default(),
		conns:    make(map[string]*grpc.ClientConn),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the assertion registry used by this executor.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Validate checks an endpoint definition without contacting it.
func (e *Executor) Validate(ep domain.EndpointProbe) error {
	if ep.Kind == domain.ProbeGRPC {
		if _, _, _, err := parseGRPCTarget(ep.URL); err != nil {
			return err
		}
	}
	for i, a := range ep.Assertions {
		if err := e.registry.Validate(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i+1, err)
		}
	}
	return nil
}

// Run probes ep, retrying failures with linear backoff.
//
// The first success is returned immediately. When every attempt fails the
// last failure is returned.
func (e *Executor) Run(ctx context.Context, ep domain.EndpointProbe) domain.CheckResult {
	result, attempts, err := retry.Do(ctx, e.cfg.RetryAttempts, retry.Linear(e.cfg.RetryDelay),
		func(ctx context.Context, attempt int) (domain.CheckResult, error) {
			r := e.Probe(ctx, ep)
			if !r.Success {
				e.logger.Debug("Probe attempt failed",
					"endpoint", ep.URL,
					"attempt", attempt,
					"error", r.Error,
				)
				return r, errors.New(r.Error)
			}
			return r, nil
		})

	if attempts == 0 {
		result = domain.CheckResult{Endpoint: ep.URL, Error: "probe not attempted"}
		if err != nil {
			result.Error = err.Error()
		}
	}
	result.Attempts = attempts
	return result
}

// Probe performs a single attempt against ep.
func (e *Executor) Probe(ctx context.Context, ep domain.EndpointProbe) domain.CheckResult {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		resp Response
		err  error
	)
	switch ep.Kind {
	case domain.ProbeGRPC:
		resp, err = e.doGRPC(ctx, ep)
	default:
		resp, err = e.doHTTP(ctx, ep)
	}
	elapsed := time.Since(start)

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timeout after %s", timeout)
	}
	if err == nil {
		err = e.check(ep, resp)
	}

	result := domain.CheckResult{
		Endpoint:       ep.URL,
		Success:        err == nil,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Close releases cached gRPC connections.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for key, conn := range e.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(e.conns, key)
	}
	return errors.Join(errs...)
}

func (e *Executor) doHTTP(ctx context.Context, ep domain.EndpointProbe) (Response, error) {
	body := ep.Body
	if ep.JSONRPC != nil {
		data, err := encodeJSONRPC(ep.JSONRPC)
		if err != nil {
			return Response{}, fmt.Errorf("marshal request: %w", err)
		}
		body = data
	}

	method := ep.Method
	if method == "" {
		method = http.MethodGet
		if len(body) > 0 {
			method = http.MethodPost
		}
	}

	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, ep.URL, reader)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	truncated := len(data) > maxBodyBytes
	if truncated {
		data = data[:maxBodyBytes]
	}

	return Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		retryAfter: resp.Header.Get("Retry-After"),
		truncated:  truncated,
	}, nil
}

func (e *Executor) check(ep domain.EndpointProbe, resp Response) error {
	expected := ep.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	if resp.StatusCode != expected {
		return statusError(resp.StatusCode, expected, resp.retryAfter, resp.Body)
	}

	// status-only probes do not need the body
	if resp.truncated && (ep.JSONRPC != nil || len(ep.Assertions) > 0) {
		return fmt.Errorf("response body exceeds %d bytes, cannot evaluate body checks", maxBodyBytes)
	}

	if ep.JSONRPC != nil {
		if err := rpcError(resp.Body); err != nil {
			return err
		}
	}

	for i, a := range ep.Assertions {
		if err := e.registry.Evaluate(a, resp); err != nil {
			return fmt.Errorf("assertion %d (%s) failed: %w", i+1, a.Type, err)
		}
	}
	return nil
}

func encodeJSONRPC(call *domain.JSONRPCCall) ([]byte, error) {
	params := call.Params
	if params == nil {
		params = []any{}
	}
	req := map[string]any{
		"method": call.Method,
		"params": params,
		"id":     1,
	}
	if call.Version != "1.0" {
		req["jsonrpc"] = "2.0"
	}
	return json.Marshal(req)
}

func rpcError(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("parse response: invalid JSON")
	}
	errRes := gjson.GetBytes(body, "error")
	if !errRes.Exists() || errRes.Type == gjson.Null {
		return nil
	}

	msg := errRes.Get("message").String()
	if msg == "" {
		msg = errRes.Raw
	}
	if isThrottled(msg) {
		return fmt.Errorf("throttle in rpc error: %s", msg)
	}
	return fmt.Errorf("rpc error: %s", msg)
}
