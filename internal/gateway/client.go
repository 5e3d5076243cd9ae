package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_checkout/pkg/circuitbreaker"
)

// Client is the shared HTTP transport for every adapter: explicit timeout,
// tracing, and one circuit breaker per gateway code.
type Client struct {
	http     *http.Client
	breakers *circuitbreaker.Registry[[]byte]
}

func NewClient(timeout time.Duration, log *slog.Logger) *Client {
	breakers := circuitbreaker.NewRegistry[[]byte](circuitbreaker.DefaultConfig(), log)
	// 4xx answers are the caller's problem, not the provider's health
	breakers.IsSuccessful = func(err error) bool {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return pe.Status < http.StatusInternalServerError
		}
		return err == nil
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breakers: breakers,
	}
}

type request struct {
	gateway string
	method  string
	url     string
	headers map[string]string
	body    any
}

// doJSON sends req and decodes a 2xx body into out. Other statuses become
// *ProviderError carrying the provider's message.
func (c *Client) doJSON(ctx context.Context, req request, out any) error {
	raw, err := c.breakers.Execute(req.gateway, func() ([]byte, error) {
		return c.send(ctx, req)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &ProviderError{Gateway: req.gateway, Status: http.StatusServiceUnavailable, Message: "provider temporarily unavailable"}
	}
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Gateway: req.gateway, Status: http.StatusBadGateway, Message: fmt.Sprintf("undecodable response: %v", err)}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", req.gateway, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.gateway, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Gateway: req.gateway, Status: http.StatusGatewayTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProviderError{Gateway: req.gateway, Status: http.StatusBadGateway, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{Gateway: req.gateway, Status: resp.StatusCode, Message: providerMessage(raw, resp.Status)}
	}
	return raw, nil
}

func providerMessage(raw []byte, fallback string) string {
	var env struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Message != "" {
		return env.Message
	}
	return fallback
}
