package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxMediaBytes caps how much remote media a single job may pull in.
const maxMediaBytes = 64 << 20

// HTTPFetcher fetches media over plain HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*RawMedia, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s returned status %d", ErrMediaUnavailable, url, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("media fetch returned status %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}

	return &RawMedia{
		Source:      url,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// PassthroughTransformer hands raw media bytes to inference unchanged.
type PassthroughTransformer struct{}

func (PassthroughTransformer) Transform(ctx context.Context, raw *RawMedia) (*PreparedMedia, error) {
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("%w: empty media body", ErrMediaUnavailable)
	}
	return &PreparedMedia{
		Source:      raw.Source,
		ContentType: raw.ContentType,
		Data:        raw.Data,
	}, nil
}
