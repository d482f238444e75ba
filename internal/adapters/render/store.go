package render

import (
	"bytes"
	"context"
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

// StoreConfig configures the artifact store client.
type StoreConfig struct {
	// BaseURL is where artifacts are uploaded.
	BaseURL string
	// PublicBaseURL is the prefix of the URL handed back to submitters.
	// Defaults to BaseURL.
	PublicBaseURL string
	Timeout       time.Duration
	Client        *http.Client
}

// StoreClient uploads rendered documents to the artifact object store.
// Uploads are keyed by job id, so re-running a job overwrites its artifact
// instead of creating a duplicate.
type StoreClient struct {
	baseURL       string
	publicBaseURL string
	client        *http.Client
}

var _ core.ArtifactStore = (*StoreClient)(nil)

// NewStoreClient builds an artifact store client.
func NewStoreClient(cfg StoreConfig) (*StoreClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("artifact store base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid artifact store base URL: %w", err)
	}

	publicBaseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if publicBaseURL == "" {
		publicBaseURL = baseURL
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	return &StoreClient{
		baseURL:       baseURL,
		publicBaseURL: publicBaseURL,
		client:        client,
	}, nil
}

// Put uploads the document under the job's key and returns its public URL.
func (c *StoreClient) Put(ctx context.Context, jobID, contentType string, body []byte) (string, error) {
	key := url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		c.baseURL+"/artifacts/"+key,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodePermanent, "build artifact upload")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.Transient("artifact upload failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", storeError(resp)
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		_ = resp.Body.Close()
		return "", apperrors.Transient("drain artifact response", err)
	}
	if err := resp.Body.Close(); err != nil {
		return "", apperrors.Transient("close artifact response", err)
	}

	return c.publicBaseURL + "/artifacts/" + key, nil
}

func storeError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()
	detail := strings.TrimSpace(string(body))
	if readErr != nil {
		detail = readErr.Error()
	}

	msg := fmt.Sprintf("artifact store %s: %s", resp.Status, detail)
	if resp.StatusCode >= 500 {
		return apperrors.Transientf("%s", msg)
	}
	return apperrors.Permanentf("%s", msg)
}
