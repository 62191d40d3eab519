// Package client talks to a running fraud scoring server.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"fraudscore/internal/inference"
	"fraudscore/internal/server"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status    int
	Message   string
	Kind      string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fraudscore: %s: %s", e.Kind, e.Message)
	}
	if e.Kind != "" {
		return fmt.Sprintf("fraudscore: %d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("fraudscore: %d %s", e.Status, e.Message)
}

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Score posts one transaction to /predict.
func (c *Client) Score(ctx context.Context, req server.Request) (*server.Response, error) {
	out := &server.Response{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(out).
		SetError(&server.ErrorResponse{}).
		Post(c.base + "/predict")
	if err != nil {
		return nil, fmt.Errorf("failed to call /predict: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out, nil
}

// Health returns nil when the server reports ok.
func (c *Client) Health(ctx context.Context) error {
	out := map[string]string{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.base + "/health")
	if err != nil {
		return fmt.Errorf("failed to call /health: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	if out["status"] != "ok" {
		return fmt.Errorf("fraudscore: unhealthy status %q", out["status"])
	}
	return nil
}

// ModelInfo fetches the description of the loaded artifacts.
func (c *Client) ModelInfo(ctx context.Context) (*inference.ModelInfo, error) {
	out := &inference.ModelInfo{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&server.ErrorResponse{}).
		Get(c.base + "/model/info")
	if err != nil {
		return nil, fmt.Errorf("failed to call /model/info: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out, nil
}

func apiError(resp *resty.Response) *APIError {
	e := &APIError{Status: resp.StatusCode(), Message: resp.Status()}
	if body, ok := resp.Error().(*server.ErrorResponse); ok && body.Error != "" {
		e.Message = body.Error
		e.Kind = body.Kind
		e.RequestID = body.RequestID
	}
	return e
}
