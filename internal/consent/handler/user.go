package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	contract "github.com/thupa-pro/lipo-sub001/contracts/consent"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/httputil"
	"github.com/thupa-pro/lipo-sub001/pkg/requestcontext"
)

// UserService defines the server-side user consent operations.
type UserService interface {
	Save(ctx context.Context, identity models.Identity, record models.Record) (*models.UserConsent, error)
	Get(ctx context.Context, userID string) (*models.UserConsent, error)
	Delete(ctx context.Context, userID string) error
	Status(consent *models.UserConsent) models.Status
	ExpiresAt(consent *models.UserConsent) time.Time
}

// UserHandler serves /api/user/consent. Routes must sit behind
// auth.RequireAuth.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// Register registers the user consent routes with the chi router.
func (h *UserHandler) Register(r chi.Router) {
	r.Post(contract.UserConsentPath, h.handleSave)
	r.Get(contract.UserConsentPath, h.handleGet)
	r.Delete(contract.UserConsentPath, h.handleDelete)
}

func (h *UserHandler) identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	ctx := r.Context()
	identity, ok := requestcontext.Identity(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "identity missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return models.Identity{}, false
	}
	return identity, true
}

func (h *UserHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UserConsentRequest](w, r, h.logger)
	if !ok {
		return
	}
	ctx := r.Context()
	// The body names the user for the collaborator contract; it must be the
	// caller.
	if req.UserID != "" && req.UserID != identity.ID {
		h.logger.WarnContext(ctx, "user consent payload names another user",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", identity.ID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "user_id does not match token"))
		return
	}
	if identity.Email == "" {
		identity.Email = req.Email
	}

	consent, err := h.users.Save(ctx, identity, req.Record())
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to save user consent",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserConsentResponse(consent, h.users.Status(consent), h.users.ExpiresAt(consent)))
}

func (h *UserHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	consent, err := h.users.Get(ctx, identity.ID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to get user consent",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserConsentResponse(consent, h.users.Status(consent), h.users.ExpiresAt(consent)))
}

func (h *UserHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.users.Delete(ctx, identity.ID); err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to delete user consent",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
