package media

import (
	"context"
	"errors"
)

// ErrMediaUnavailable means the media itself is permanently gone (404/410
// class); retrying the job cannot help.
var ErrMediaUnavailable = errors.New("media permanently unavailable")

// RawMedia is the fetched remote media as delivered by its origin.
type RawMedia struct {
	Source      string
	ContentType string
	Data        []byte
}

// PreparedMedia is the transformed representation handed to inference.
type PreparedMedia struct {
	Source      string
	ContentType string
	Data        []byte
}

// Fetcher retrieves remote media. Implemented here with a plain HTTP
// fetcher; scraping connectors live outside this module.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*RawMedia, error)
}

// Transformer converts raw media into the form inference expects.
// Transcoding proper is an external collaborator; the default
// implementation passes data through unchanged.
type Transformer interface {
	Transform(ctx context.Context, raw *RawMedia) (*PreparedMedia, error)
}
