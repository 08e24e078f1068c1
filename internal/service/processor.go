package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"mediaq/internal/inference"
	"mediaq/internal/media"
	"mediaq/internal/models"
)

// Invoker is the slice of the inference pool the processor needs.
type Invoker interface {
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
}

// Processor is the shared processing routine used by both the direct
// admission path and the queue workers: fetch the media, transform it,
// run inference.
type Processor struct {
	fetcher     media.Fetcher
	transformer media.Transformer
	pool        Invoker
}

func NewProcessor(fetcher media.Fetcher, transformer media.Transformer, pool Invoker) *Processor {
	return &Processor{
		fetcher:     fetcher,
		transformer: transformer,
		pool:        pool,
	}
}

// inferencePayload is the request body sent to an inference endpoint.
type inferencePayload struct {
	Kind        string `json:"kind"`
	Source      string `json:"source"`
	ContentType string `json:"content_type,omitempty"`
	Media       string `json:"media"` // base64
}

// Process runs one media request end to end and returns the raw inference
// result. Failures come back classified: TerminalError for unprocessable
// input, TransientError for anything worth another attempt.
func (p *Processor) Process(ctx context.Context, req *models.MediaRequest) ([]byte, error) {
	raw, err := p.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		if errors.Is(err, media.ErrMediaUnavailable) {
			return nil, &TerminalError{Cause: err}
		}
		return nil, &TransientError{Cause: err}
	}

	prepared, err := p.transformer.Transform(ctx, raw)
	if err != nil {
		// The transcoder rejecting the media means the input is bad.
		return nil, &TerminalError{Cause: fmt.Errorf("transform failed: %w", err)}
	}

	body, err := json.Marshal(inferencePayload{
		Kind:        req.Kind,
		Source:      prepared.Source,
		ContentType: prepared.ContentType,
		Media:       base64.StdEncoding.EncodeToString(prepared.Data),
	})
	if err != nil {
		return nil, &TerminalError{Cause: fmt.Errorf("failed to encode inference payload: %w", err)}
	}

	out, err := p.pool.Invoke(ctx, body)
	if err != nil {
		if errors.Is(err, inference.ErrAllEndpointsUnavailable) {
			return nil, &TransientError{Cause: err}
		}
		var infErr *inference.InferenceError
		if errors.As(err, &infErr) {
			if !infErr.RetryableCause() {
				return nil, &TerminalError{Cause: err}
			}
			return nil, &TransientError{Cause: err}
		}
		return nil, &TransientError{Cause: err}
	}

	return out, nil
}
