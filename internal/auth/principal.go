package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleAdmin
}

// Principal is the authenticated actor attached to every engine operation.
// Credential verification happens upstream; the engine only ever sees this.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

var ErrNoPrincipal = errors.New("no principal in context")

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}
