package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/token", h.issueToken)
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := httpx.DecodeJSON(r, &creds); err != nil {
		httpx.RespondError(w, h.logger, httpx.ErrBadRequest)
		return
	}
	if err := h.validator.Struct(creds); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	token, err := h.service.Authenticate(r.Context(), creds.Email, creds.Password)
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.Fail(w, http.StatusUnauthorized, "These credentials do not match our records.", nil)
		return
	case errors.Is(err, shared.ErrInactiveAccount):
		httpx.Fail(w, http.StatusForbidden, "This account is not active.", nil)
		return
	case err != nil:
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", token)
}

// Authenticate resolves the bearer token into a fresh actor stored in the
// request context. Requests without a valid token are rejected with 401.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.", nil)
			return
		}
		actor, err := h.service.Resolve(r.Context(), raw)
		switch {
		case errors.Is(err, ErrInvalidToken), errors.Is(err, shared.ErrInactiveAccount):
			h.logger.Info("bearer rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.", nil)
			return
		case err != nil:
			httpx.RespondError(w, h.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
