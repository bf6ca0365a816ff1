package shared

import "context"

// Actor identifies who is performing an operation. Name is empty for the
// system/cron actor; StoreID scopes the request to one store.
type Actor struct {
	Name    string
	StoreID int64
}

// System reports whether the actor is the scheduled/system actor.
func (a Actor) System() bool { return a.Name == "" }

type actorContextKey struct{}

// ContextWithActor stores the acting staff member in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor is the
// system actor.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
