package txn

import "context"

// Role is the coarse permission level carried by an Actor.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleStaff }

// Actor is the authenticated principal on whose behalf an operation runs.
type Actor struct {
	ID   string
	Role Role
}

// System is the actor used by background jobs.
var System = Actor{ID: "system", Role: RoleAdmin}

type ctxKey int

const (
	actorKey ctxKey = iota
	idempotencyKey
)

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFrom returns the actor stored in ctx.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// WithIdempotencyKey attaches a client-supplied key to the next Execute call.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey, key)
}

// IdempotencyKeyFrom returns the key stored in ctx, or "".
func IdempotencyKeyFrom(ctx context.Context) string {
	k, _ := ctx.Value(idempotencyKey).(string)
	return k
}
