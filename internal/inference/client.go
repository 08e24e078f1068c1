package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Caller issues a single request to a single endpoint. It is an interface
// so the pool can be exercised without live endpoints.
type Caller interface {
	Call(ctx context.Context, endpointID, url string, payload []byte) ([]byte, error)
}

// HTTPCaller posts the payload as JSON and returns the response body.
type HTTPCaller struct {
	client *http.Client
}

// NewHTTPCaller creates a caller with a per-call timeout.
func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	return &HTTPCaller{
		client: &http.Client{Timeout: timeout},
	}
}

const maxErrorBodyBytes = 512

func (c *HTTPCaller) Call(ctx context.Context, endpointID, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to endpoint %s failed: %w", endpointID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &EndpointError{
			EndpointID: endpointID,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from endpoint %s: %w", endpointID, err)
	}

	return body, nil
}
