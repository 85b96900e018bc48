package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/shopora/checkout/internal/platform/config"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 2 << 10
)

var (
	// ErrUnavailable marks transport failures, 5xx responses and open
	// circuit breakers. Callers may retry after a backoff.
	ErrUnavailable = errors.New("clients: collaborator unavailable")
	// ErrNotFound marks a 404 from a collaborator.
	ErrNotFound = errors.New("clients: resource not found")
	// ErrBadResponse marks a payload the client could not decode.
	ErrBadResponse = errors.New("clients: malformed response")
	// ErrRejected marks a non-retryable 4xx from a collaborator.
	ErrRejected = errors.New("clients: request rejected")
)

// Doer abstracts *http.Client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type reply struct {
	status int
	body   []byte
}

// restClient is the shared transport for collaborator clients. Every request
// runs through a per-service circuit breaker; only transport failures and
// 5xx responses count against the breaker.
type restClient struct {
	name    string
	baseURL string
	doer    Doer
	breaker *gobreaker.CircuitBreaker[reply]
}

func newRESTClient(name string, svc config.ServiceConfig, brk config.BreakerConfig, doer Doer) (*restClient, error) {
	base := strings.TrimRight(strings.TrimSpace(svc.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("clients: %s base URL is required", name)
	}
	if doer == nil {
		timeout := svc.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		doer = &http.Client{Timeout: timeout}
	}

	breaker := gobreaker.NewCircuitBreaker[reply](gobreaker.Settings{
		Name:        name,
		MaxRequests: brk.MaxRequests,
		Interval:    brk.Interval,
		Timeout:     brk.Timeout,
	})
	return &restClient{name: name, baseURL: base, doer: doer, breaker: breaker}, nil
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.roundTrip(ctx, http.MethodGet, path, query, nil, nil, out)
}

func (c *restClient) postJSON(ctx context.Context, path string, headers map[string]string, in, out any) error {
	return c.roundTrip(ctx, http.MethodPost, path, nil, headers, in, out)
}

func (c *restClient) roundTrip(ctx context.Context, method, path string, query url.Values, headers map[string]string, in, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("clients: %s endpoint: %w", c.name, err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("clients: %s encode request: %w", c.name, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("clients: %s build request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rep, err := c.breaker.Execute(func() (reply, error) {
		resp, err := c.doer.Do(req)
		if err != nil {
			return reply{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return reply{}, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return reply{}, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data))
		}
		return reply{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s circuit open", ErrUnavailable, c.name)
		}
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, c.name, err)
	}

	switch {
	case rep.status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, c.name, path)
	case rep.status >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s status %d: %s", ErrRejected, c.name, rep.status, truncate(rep.body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rep.body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadResponse, c.name, err)
	}
	return nil
}

func truncate(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > maxErrorBody {
		return trimmed[:maxErrorBody]
	}
	return trimmed
}
