// Package render executes render and export jobs: it sends the job payload
// to the external rendering engine and stores the produced document in the
// artifact store, keyed by job id so re-runs overwrite rather than duplicate.
package render

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

	"github.com/pressroom/pressroom/internal/core"
	apperrors "github.com/pressroom/pressroom/internal/errors"
)

const (
	// maxErrorBodyBytes caps how much of an engine error response is kept
	// for the job's error message.
	maxErrorBodyBytes = 4 * 1024

	// maxArtifactBytes caps the size of a rendered document.
	maxArtifactBytes = 64 << 20
)

// EngineConfig configures the rendering engine client.
type EngineConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// EngineClient talks to the external rendering engine over HTTP.
type EngineClient struct {
	baseURL string
	client  *http.Client
}

var _ core.Renderer = (*EngineClient)(nil)

// NewEngineClient builds a rendering engine client.
func NewEngineClient(cfg EngineConfig) (*EngineClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("render engine base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid render engine base URL: %w", err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	return &EngineClient{baseURL: baseURL, client: client}, nil
}

// Render posts the job payload to the engine and returns the document bytes
// and content type. Engine 4xx responses are permanent failures; 5xx and
// transport errors are transient.
func (c *EngineClient) Render(ctx context.Context, jobID string, payload json.RawMessage) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.ErrCodePermanent, "build render request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", jobID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", apperrors.Transient("render request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", engineError(resp)
	}

	doc, err := readLimited(resp.Body, maxArtifactBytes)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.ErrCodePermanent, "read rendered document")
	}
	if closeErr != nil {
		return nil, "", apperrors.Transient("close render response", closeErr)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return doc, contentType, nil
}

func engineError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()
	detail := strings.TrimSpace(string(body))
	if readErr != nil {
		detail = readErr.Error()
	}

	msg := fmt.Sprintf("render engine %s: %s", resp.Status, detail)
	if resp.StatusCode >= 500 {
		return apperrors.Transientf("%s", msg)
	}
	return apperrors.Permanentf("%s", msg)
}

// readLimited reads up to limit bytes and fails when the body exceeds it.
func readLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("document exceeds %d bytes", limit)
	}
	return data, nil
}
