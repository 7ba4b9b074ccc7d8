package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
)

// Actor headers read by the HTTP adapter.
const (
	HeaderActorID   = "X-Blockenv-Actor-Id"
	HeaderActorType = "X-Blockenv-Actor-Type"
	HeaderRoles     = "X-Blockenv-Roles"
)

// ActorTuple carries caller identity as received from a transport.
// Roles is a comma-separated list of organisation=role pairs.
type ActorTuple struct {
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"`
	Roles     string `json:"roles,omitempty"`
}

// WithActor attaches the tuple as the mutation actor. An empty actor id
// leaves ctx untouched.
func WithActor(ctx context.Context, tuple ActorTuple) (context.Context, error) {
	actorID := strings.TrimSpace(tuple.ActorID)
	if actorID == "" {
		return ctx, nil
	}
	actorType := domain.ActorType(strings.TrimSpace(strings.ToLower(tuple.ActorType)))
	switch actorType {
	case "":
		actorType = domain.ActorTypeUser
	case domain.ActorTypeUser, domain.ActorTypeAgent:
	case domain.ActorTypeSystem:
		return nil, fmt.Errorf("%w: actor_type %q is reserved", app.ErrForbidden, tuple.ActorType)
	default:
		return nil, fmt.Errorf("%w: actor_type %q is unsupported", app.ErrInvalidRequest, tuple.ActorType)
	}
	roles, err := ParseRoles(tuple.Roles)
	if err != nil {
		return nil, err
	}
	return app.WithMutationActor(ctx, app.MutationActor{
		ActorID:       actorID,
		ActorType:     actorType,
		Organisations: roles,
	}), nil
}

// ParseRoles parses "org-1=editor,org-2=viewer".
func ParseRoles(raw string) (map[string]app.Role, error) {
	out := map[string]app.Role{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		orgID, role, ok := strings.Cut(part, "=")
		orgID = strings.TrimSpace(orgID)
		role = strings.TrimSpace(strings.ToLower(role))
		if !ok || orgID == "" {
			return nil, fmt.Errorf("%w: malformed role %q", app.ErrInvalidRequest, part)
		}
		switch app.Role(role) {
		case app.RoleViewer, app.RoleEditor, app.RoleAdmin:
			out[orgID] = app.Role(role)
		default:
			return nil, fmt.Errorf("%w: unknown role %q", app.ErrInvalidRequest, role)
		}
	}
	return out, nil
}
