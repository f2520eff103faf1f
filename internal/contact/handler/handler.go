package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"identify/internal/contact/models"
	"identify/pkg/platform/httputil"
	"identify/pkg/requestcontext"
)

// Service defines the interface for identity resolution.
type Service interface {
	Resolve(ctx context.Context, email, phone string) (*models.IdentityView, error)
}

// Handler wires the identify endpoint to the resolver.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an identify handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the identify endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identify", h.HandleIdentify)
}

// HandleIdentify handles POST /identify requests.
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[IdentifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	view, err := h.service.Resolve(ctx, string(req.Email), string(req.PhoneNumber))
	if err != nil {
		h.logger.ErrorContext(ctx, "identify failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identity resolved",
		"request_id", requestID,
		"primary_id", view.PrimaryContactID,
		"secondaries", len(view.SecondaryContactIDs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}
