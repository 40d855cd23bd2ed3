package shared

import (
	"context"

	"github.com/kinoteka/kinoteka/internal/authz"
)

type actorContextKey struct{}

// Actor is the authenticated principal behind a request.
type Actor struct {
	authz.Principal
	Email string
	Name  string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
