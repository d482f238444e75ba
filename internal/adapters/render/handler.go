package render

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/data"
	"github.com/pressroom/pressroom/internal/domain/model"
	apperrors "github.com/pressroom/pressroom/internal/errors"
)

// HandlerOptions groups dependencies for Handler.
type HandlerOptions struct {
	Renderer     core.Renderer      // Required: rendering engine client
	Store        core.ArtifactStore // Required: artifact store client
	Logger       *slog.Logger       // Optional: structured logger
	TimeProvider data.TimeProvider  // Optional: defaults to real time
}

// Handler turns render and export jobs into stored artifacts.
type Handler struct {
	renderer core.Renderer
	store    core.ArtifactStore
	logger   *slog.Logger
	now      data.TimeProvider
}

// artifactResult is the result document persisted on job completion.
type artifactResult struct {
	ArtifactURL string    `json:"artifact_url"`
	ContentType string    `json:"content_type"`
	SizeBytes   int       `json:"size_bytes"`
	RenderedAt  time.Time `json:"rendered_at"`
}

// NewHandler constructs a render job handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Renderer == nil {
		return nil, apperrors.Internal("Renderer is required")
	}
	if opts.Store == nil {
		return nil, apperrors.Internal("ArtifactStore is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.TimeProvider
	if now == nil {
		now = &data.RealTimeProvider{}
	}

	return &Handler{
		renderer: opts.Renderer,
		store:    opts.Store,
		logger:   logger.With("component", "render_handler"),
		now:      now,
	}, nil
}

// HandleRender renders a document from a template payload.
func (h *Handler) HandleRender(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var payload struct {
		Template string `json:"template"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePermanent, "decode render payload")
	}
	if strings.TrimSpace(payload.Template) == "" {
		return nil, apperrors.Permanentf("render payload missing template")
	}

	return h.produce(ctx, job)
}

// HandleExport converts an existing document to another format.
func (h *Handler) HandleExport(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var payload struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePermanent, "decode export payload")
	}
	if strings.TrimSpace(payload.Format) == "" {
		return nil, apperrors.Permanentf("export payload missing format")
	}

	return h.produce(ctx, job)
}

// produce runs the engine and uploads the document keyed by job id.
func (h *Handler) produce(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	doc, contentType, err := h.renderer.Render(ctx, job.ID, job.Payload)
	if err != nil {
		return nil, err
	}

	artifactURL, err := h.store.Put(ctx, job.ID, contentType, doc)
	if err != nil {
		return nil, err
	}

	h.logger.DebugContext(ctx, "artifact stored",
		"job_id", job.ID,
		"content_type", contentType,
		"size_bytes", len(doc),
	)

	result, err := json.Marshal(artifactResult{
		ArtifactURL: artifactURL,
		ContentType: contentType,
		SizeBytes:   len(doc),
		RenderedAt:  h.now.Now().UTC(),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal result")
	}
	return result, nil
}
