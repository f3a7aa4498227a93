package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTP stores objects on a bucket-style HTTP endpoint: GET reads, PUT writes.
// Absolute URLs are fetched as-is, anything else is resolved against the base URL.
type HTTP struct {
	parsedURL *url.URL
	token     string
	client    *http.Client
}

// NewHTTP validates baseURL; token, when set, is sent as a bearer token.
func NewHTTP(baseURL, token string) (*HTTP, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid storage URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid storage URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid storage URL: missing host")
	}
	return &HTTP{parsedURL: parsed, token: token, client: &http.Client{}}, nil
}

// resolveURL builds a full URL for a reference.
func (s *HTTP) resolveURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return s.parsedURL.JoinPath(strings.Split(strings.TrimPrefix(ref, "/"), "/")...).String()
}

func (s *HTTP) Fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.resolveURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req) //nolint:gosec // URL built from the configured base URL or a stored reference
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	return data, nil
}

func (s *HTTP) Put(ctx context.Context, name string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.resolveURL(name), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", http.DetectContentType(data))

	resp, err := s.client.Do(req) //nolint:gosec // URL built from the configured base URL
	if err != nil {
		return "", fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return strings.TrimPrefix(name, "/"), nil
}

func (s *HTTP) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(r)
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}
