package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// MediaRequest is the client-facing payload: a remote media URL plus the
// kind of analysis to run on it.
type MediaRequest struct {
	URL      string `json:"url"`
	Kind     string `json:"kind"`
	Priority *int   `json:"priority,omitempty"`
}

// Supported analysis kinds.
const (
	KindTranscript = "transcript"
	KindSummary    = "summary"
	KindTags       = "tags"
)

// Validate checks the request before any processing or queueing happens.
func (r *MediaRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	switch r.Kind {
	case KindTranscript, KindSummary, KindTags:
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	return nil
}

// Fingerprint returns the deterministic cache key for this request:
// SHA-256 over the normalized URL and the analysis kind. Two requests
// that differ only in URL casing of scheme/host, fragment, or a default
// port produce the same fingerprint.
func (r *MediaRequest) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(normalizeURL(r.URL)))
	h.Write([]byte{0})
	h.Write([]byte(r.Kind))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
