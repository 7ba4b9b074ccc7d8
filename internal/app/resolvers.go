package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hylla/blockenv/internal/domain"
)

// ResolverRegistry maps entity types to the resolver that fetches them.
// It is built once and read-only afterwards.
type ResolverRegistry struct {
	resolvers map[domain.EntityType]EntityResolver
}

// NewResolverRegistry registers resolvers by entity type.
func NewResolverRegistry(resolvers ...EntityResolver) (*ResolverRegistry, error) {
	out := &ResolverRegistry{resolvers: make(map[domain.EntityType]EntityResolver, len(resolvers))}
	for _, resolver := range resolvers {
		if resolver == nil {
			continue
		}
		entityType := domain.EntityType(strings.TrimSpace(strings.ToLower(string(resolver.EntityType()))))
		if entityType == "" {
			return nil, fmt.Errorf("%w: resolver without entity type", ErrInvalidRequest)
		}
		if _, exists := out.resolvers[entityType]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateResolver, entityType)
		}
		out.resolvers[entityType] = resolver
	}
	return out, nil
}

// Lookup returns the resolver registered for entityType.
func (r *ResolverRegistry) Lookup(entityType domain.EntityType) (EntityResolver, bool) {
	if r == nil {
		return nil, false
	}
	resolver, ok := r.resolvers[entityType]
	return resolver, ok
}

// EntityTypes lists registered entity types in sorted order.
func (r *ResolverRegistry) EntityTypes() []domain.EntityType {
	if r == nil {
		return nil
	}
	out := make([]domain.EntityType, 0, len(r.resolvers))
	for entityType := range r.resolvers {
		out = append(out, entityType)
	}
	slices.Sort(out)
	return out
}

// BlockResolver resolves block links against the block store.
type BlockResolver struct {
	blocks BlockStore
}

// NewBlockResolver constructs a resolver for the block entity type.
func NewBlockResolver(blocks BlockStore) *BlockResolver {
	return &BlockResolver{blocks: blocks}
}

// EntityType returns the block entity type.
func (r *BlockResolver) EntityType() domain.EntityType {
	return domain.EntityTypeBlock
}

// Fetch loads blocks by id, dropping blocks owned by other organisations.
func (r *BlockResolver) Fetch(ctx context.Context, ids []string, organisationID string) (map[string]domain.Referenceable, error) {
	blocks, err := r.blocks.ListBlocksByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Referenceable, len(blocks))
	for _, block := range blocks {
		if block.OrganisationID != organisationID {
			continue
		}
		out[block.ID] = domain.Referenceable{
			ID:             block.ID,
			EntityType:     domain.EntityTypeBlock,
			OrganisationID: block.OrganisationID,
			Label:          block.Name,
			Attributes: map[string]any{
				"type_key":     block.Type.Key,
				"payload_kind": string(domain.PayloadKindOf(block.Payload)),
				"archived":     block.Archived,
			},
		}
	}
	return out, nil
}
