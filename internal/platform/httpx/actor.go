package httpx

import (
	"net/http"

	"github.com/kinoteka/kinoteka/internal/shared"
)

// RequireActor returns the authenticated actor, or ErrUnauthorized when the
// request never passed the bearer middleware.
func RequireActor(r *http.Request) (shared.Actor, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.ID <= 0 {
		return shared.Actor{}, ErrUnauthorized
	}
	return actor, nil
}
