package users

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/rbac"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.showUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUsersEdit))
		r.Put("/{id}/role", h.updateRole)
		r.Put("/{id}/permissions", h.setPermissions)
		r.Post("/bulk", h.bulk)
	})
}

type listResponse struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{
		Search: strings.TrimSpace(q.Get("search")),
		Status: Status(strings.TrimSpace(q.Get("status"))),
	}
	switch filters.Status {
	case "", StatusActive, StatusSuspended, StatusBanned, StatusDeleted:
	default:
		httpx.Fail(w, http.StatusUnprocessableEntity, "The given data was invalid.", map[string][]string{"status": {"The selected status is invalid."}})
		return
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	filters.RoleID, _ = strconv.ParseInt(q.Get("role_id"), 10, 64)

	list, page, err := h.service.List(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", listResponse{Users: list, Pagination: page})
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.RespondError(w, h.logger, httpx.ErrNotFound)
		return
	}
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", u)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.RespondError(w, h.logger, httpx.ErrNotFound)
		return
	}
	var in RoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, httpx.ErrBadRequest)
		return
	}
	u, err := h.service.UpdateRole(r.Context(), actor.Principal, id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, "User role updated.", u)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.RespondError(w, h.logger, httpx.ErrNotFound)
		return
	}
	var in PermissionsInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, httpx.ErrBadRequest)
		return
	}
	u, err := h.service.SetPermissions(r.Context(), actor.Principal, id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, "User permissions updated.", u)
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var payload BulkPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, h.logger, httpx.ErrBadRequest)
		return
	}
	result, err := h.service.Bulk(r.Context(), actor.Principal, payload)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Bulk action applied to "+strconv.Itoa(result.Affected)+" users.", result)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
