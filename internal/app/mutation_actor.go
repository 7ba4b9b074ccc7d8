package app

import (
	"context"
	"strings"

	"github.com/hylla/blockenv/internal/domain"
)

// Role is an organisation membership role.
type Role string

// Role values, from least to most privileged.
const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// rank orders roles so higher roles satisfy lower requirements.
func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// MutationActor carries normalized caller identity metadata for mutation attribution.
type MutationActor struct {
	ActorID       string
	ActorType     domain.ActorType
	Organisations map[string]Role
}

// WithMutationActor attaches normalized mutation-actor identity metadata to context.
func WithMutationActor(ctx context.Context, actor MutationActor) context.Context {
	actor = normalizeMutationActor(actor)
	return context.WithValue(ctx, mutationActorContextKey{}, actor)
}

// MutationActorFromContext returns normalized mutation-actor metadata when present.
func MutationActorFromContext(ctx context.Context) (MutationActor, bool) {
	raw := ctx.Value(mutationActorContextKey{})
	actor, ok := raw.(MutationActor)
	if !ok {
		return MutationActor{}, false
	}
	actor = normalizeMutationActor(actor)
	if actor.ActorID == "" {
		return MutationActor{}, false
	}
	return actor, true
}

// mutationActorContextKey stores context keys for mutation actor metadata.
type mutationActorContextKey struct{}

// ContextAuthProvider answers auth questions from the mutation actor on the context.
type ContextAuthProvider struct{}

// CurrentUserID returns the actor id attached to ctx.
func (ContextAuthProvider) CurrentUserID(ctx context.Context) (string, error) {
	actor, ok := MutationActorFromContext(ctx)
	if !ok {
		return "", ErrForbidden
	}
	return actor.ActorID, nil
}

// HasOrganisationRole reports whether the context actor holds at least role
// in the organisation. System actors are trusted for every organisation.
func (ContextAuthProvider) HasOrganisationRole(ctx context.Context, organisationID string, role Role) bool {
	actor, ok := MutationActorFromContext(ctx)
	if !ok {
		return false
	}
	if actor.ActorType == domain.ActorTypeSystem {
		return true
	}
	held, ok := actor.Organisations[strings.TrimSpace(organisationID)]
	return ok && held.rank() >= role.rank()
}

// normalizeMutationActor trims and canonicalizes mutation actor metadata.
func normalizeMutationActor(actor MutationActor) MutationActor {
	actor.ActorID = strings.TrimSpace(actor.ActorID)
	actor.ActorType = domain.ActorType(strings.TrimSpace(strings.ToLower(string(actor.ActorType))))
	switch actor.ActorType {
	case domain.ActorTypeUser, domain.ActorTypeAgent, domain.ActorTypeSystem:
	default:
		actor.ActorType = domain.ActorTypeUser
	}
	orgs := make(map[string]Role, len(actor.Organisations))
	for orgID, role := range actor.Organisations {
		orgID = strings.TrimSpace(orgID)
		role = Role(strings.TrimSpace(strings.ToLower(string(role))))
		if orgID == "" || role.rank() == 0 {
			continue
		}
		orgs[orgID] = role
	}
	actor.Organisations = orgs
	return actor
}
