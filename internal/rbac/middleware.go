package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// PermissionResolver resolves effective permissions for a user.
type PermissionResolver interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Middleware gates routes on the actor's effective scopes. The hierarchy
// checks happen later, inside the services.
type Middleware struct {
	Resolver PermissionResolver
	Logger   *slog.Logger
}

// RequireAny passes when the actor holds at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.gate(newScopeSet(perms), func(granted, want scopeSet) bool {
		for p := range want {
			if granted.has(p) {
				return true
			}
		}
		return false
	})
}

// RequireAll passes only when the actor holds every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.gate(newScopeSet(perms), func(granted, want scopeSet) bool {
		for p := range want {
			if !granted.has(p) {
				return false
			}
		}
		return true
	})
}

func (m Middleware) gate(want scopeSet, satisfied func(granted, want scopeSet) bool) func(http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok || actor.ID <= 0 {
				httpx.Fail(w, http.StatusUnauthorized, "Unauthenticated.", nil)
				return
			}
			perms, err := m.Resolver.EffectivePermissions(r.Context(), actor.ID)
			if err != nil {
				logger.Error("resolve scopes", slog.Int64("actor_id", actor.ID), slog.Any("error", err))
				httpx.Fail(w, http.StatusInternalServerError, "Internal server error.", nil)
				return
			}
			if !satisfied(newScopeSet(perms), want) {
				httpx.Fail(w, http.StatusForbidden, "This action is unauthorized.", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type scopeSet map[string]struct{}

func newScopeSet(perms []string) scopeSet {
	set := make(scopeSet, len(perms))
	for _, p := range perms {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func (s scopeSet) has(p string) bool {
	_, ok := s[p]
	return ok
}
