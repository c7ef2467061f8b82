// Package actor identifies the user or system performing an inventory action.
// Receipts, purchase orders and stock movements record the actor ID.
package actor

import (
	"context"
	"fmt"
)

// SystemID is the actor ID used for scheduled and message-driven work.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action in the system.
type Actor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	TenantID    string   `json:"tenant_id"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"-"`
}

// String returns a representation for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.Email)
}

// IsSystem reports whether the actor is the system itself.
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == SystemID
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext returns the Actor in ctx, or nil for system operations.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// IDFromContext returns the acting user ID, falling back to SystemID.
func IDFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil && a.ID != "" {
		return a.ID
	}
	return SystemID
}

// SystemActor returns the actor used by background jobs and consumers.
func SystemActor() *Actor {
	return &Actor{
		ID:          SystemID,
		Name:        "System",
		Email:       "system@clinic.local",
		Permissions: []string{"*"},
	}
}
