package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thupa-pro/lipo-sub001/internal/consent/events"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/scripts"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/httputil"
	"github.com/thupa-pro/lipo-sub001/pkg/requestcontext"
)

// Service defines the consent operations the handler exposes.
type Service interface {
	Status(ctx context.Context, subject models.Subject) service.Snapshot
	AcceptAll(ctx context.Context, subject models.Subject) service.Snapshot
	RejectAll(ctx context.Context, subject models.Subject) service.Snapshot
	Save(ctx context.Context, subject models.Subject, patch models.Patch) (service.Snapshot, error)
	Reset(ctx context.Context, subject models.Subject) service.Snapshot
	Subscribe(handler events.Handler) func()
}

// Handler serves the browsing-context consent endpoints. The subject comes
// from the visitor cookie and, when present, the bearer identity.
type Handler struct {
	consent        Service
	catalog        *scripts.Catalog
	logger         *slog.Logger
	originPatterns []string
	streamBuffer   int
}

// Option configures a Handler.
type Option func(*Handler)

// WithOriginPatterns allows cross-origin websocket clients matching patterns.
func WithOriginPatterns(patterns []string) Option {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// WithStreamBuffer sets how many events a slow stream client may lag
// before it is disconnected.
func WithStreamBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.streamBuffer = n
		}
	}
}

// New creates a new consent Handler.
func New(consent Service, catalog *scripts.Catalog, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		consent:      consent,
		catalog:      catalog,
		logger:       logger,
		streamBuffer: 16,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the request/response consent routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/consent", h.handleGetConsent)
	r.Put("/consent", h.handleSaveConsent)
	r.Delete("/consent", h.handleResetConsent)
	r.Post("/consent/accept-all", h.handleAcceptAll)
	r.Post("/consent/reject-all", h.handleRejectAll)
	r.Get("/consent/scripts", h.handleScripts)
}

// RegisterStream registers the long-lived event stream. Keep it outside
// any request timeout.
func (h *Handler) RegisterStream(r chi.Router) {
	r.Get("/consent/events", h.handleEvents)
}

func (h *Handler) subject(w http.ResponseWriter, r *http.Request) (models.Subject, bool) {
	ctx := r.Context()
	subject := requestcontext.Subject(ctx)
	if subject.VisitorID == "" {
		h.logger.ErrorContext(ctx, "visitor id missing from context despite visitor middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "visitor context error"))
		return models.Subject{}, false
	}
	return subject, true
}

func (h *Handler) handleGetConsent(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	snap := h.consent.Status(r.Context(), subject)
	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(snap))
}

func (h *Handler) handleAcceptAll(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	snap := h.consent.AcceptAll(r.Context(), subject)
	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(snap))
}

func (h *Handler) handleRejectAll(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	snap := h.consent.RejectAll(r.Context(), subject)
	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(snap))
}

func (h *Handler) handleSaveConsent(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SaveConsentRequest](w, r, h.logger)
	if !ok {
		return
	}
	ctx := r.Context()
	snap, err := h.consent.Save(ctx, subject, req.Patch())
	if err != nil {
		h.logger.WarnContext(ctx, "failed to save consent",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(snap))
}

func (h *Handler) handleResetConsent(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	snap := h.consent.Reset(r.Context(), subject)
	httputil.WriteJSON(w, http.StatusOK, toConsentResponse(snap))
}

// handleScripts renders the <head> fragment of scripts the visitor's
// current consent allows.
func (h *Handler) handleScripts(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	snap := h.consent.Status(ctx, subject)

	doc := scripts.NewHTMLDocument()
	scripts.NewLoader(h.catalog, doc, scripts.WithLogger(h.logger)).Reconcile(ctx, snap.Record)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Consent-Status", string(snap.Status))
	w.WriteHeader(http.StatusOK)
	if err := doc.Render(w); err != nil {
		h.logger.WarnContext(ctx, "failed to render scripts",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}
