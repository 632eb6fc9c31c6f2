package engine

import (
	"context"

	"github.com/goliatone/go-entity-engine/audit"
)

type actorContextKey struct{}

// WithActor attaches the acting user and origin address used for
// <field>UpdatedBy stamps and change records.
func WithActor(ctx context.Context, actor audit.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or the zero Actor.
func ActorFromContext(ctx context.Context) audit.Actor {
	if ctx == nil {
		return audit.Actor{}
	}
	actor, _ := ctx.Value(actorContextKey{}).(audit.Actor)
	return actor
}
