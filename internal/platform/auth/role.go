package auth

import (
	"context"
	"fmt"
)

// Role is the closed set of portal roles.
type Role string

const (
	RolePatient       Role = "patient"
	RoleDoctor        Role = "doctor"
	RoleNurse         Role = "nurse"
	RoleLabTechnician Role = "lab_technician"
	RoleAdmin         Role = "admin"
)

var allRoles = map[Role]bool{
	RolePatient:       true,
	RoleDoctor:        true,
	RoleNurse:         true,
	RoleLabTechnician: true,
	RoleAdmin:         true,
}

// ParseRole validates s against the role enumeration.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !allRoles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool { return allRoles[r] }

// Actor is the authenticated principal performing an operation. It is passed
// explicitly into every service call.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the actor used by background jobs.
var System = Actor{ID: "system", Role: RoleAdmin}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext returns the actor set by the authentication middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
