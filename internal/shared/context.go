package shared

import "context"

type actorContextKey struct{}

// Actor identifies the authenticated principal acting on a request. It is
// established by the gateway-trust middleware; the engine itself never issues
// or validates credentials.
type Actor struct {
	UserID int64
	Email  string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return value
// is false when no actor has been established.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.UserID != 0
}
