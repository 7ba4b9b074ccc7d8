package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/blockenv/internal/domain"
)

// BlockNode is one block with its ordered children, used for tree views.
type BlockNode struct {
	Block    domain.Block
	Children []BlockNode
}

// CreateLayout creates an empty layout at version zero.
func (e *BatchEnvironment) CreateLayout(ctx context.Context, organisationID string) (domain.Layout, error) {
	layout, err := domain.NewLayout(e.idGen(), organisationID, e.clock())
	if err != nil {
		return domain.Layout{}, err
	}
	if err := e.repo.CreateLayout(ctx, layout); err != nil {
		return domain.Layout{}, err
	}
	return layout, nil
}

// GetLayout returns one layout.
func (e *BatchEnvironment) GetLayout(ctx context.Context, layoutID string) (domain.Layout, error) {
	layout, err := e.repo.GetLayout(ctx, strings.TrimSpace(layoutID))
	if err != nil {
		return domain.Layout{}, err
	}
	if err := e.authorizeRead(ctx, layout.OrganisationID); err != nil {
		return domain.Layout{}, err
	}
	return layout, nil
}

// GetBlock returns one block.
func (e *BatchEnvironment) GetBlock(ctx context.Context, blockID string) (domain.Block, error) {
	block, err := e.repo.GetBlock(ctx, strings.TrimSpace(blockID))
	if err != nil {
		return domain.Block{}, err
	}
	if err := e.authorizeRead(ctx, block.OrganisationID); err != nil {
		return domain.Block{}, err
	}
	return block, nil
}

// authorizeRead requires an identified caller to hold at least the viewer
// role in organisationID. Anonymous callers and environments without an
// auth provider read freely.
func (e *BatchEnvironment) authorizeRead(ctx context.Context, organisationID string) error {
	if e.auth == nil {
		return nil
	}
	if _, err := e.auth.CurrentUserID(ctx); err != nil {
		return nil
	}
	if !e.auth.HasOrganisationRole(ctx, organisationID, RoleViewer) {
		return fmt.Errorf("%w: viewer role required in %s", ErrForbidden, organisationID)
	}
	return nil
}

// authorizeLayoutRead applies authorizeRead to the organisation owning
// layoutID. The layout is only loaded for identified callers.
func (e *BatchEnvironment) authorizeLayoutRead(ctx context.Context, layoutID string) error {
	if e.auth == nil {
		return nil
	}
	if _, err := e.auth.CurrentUserID(ctx); err != nil {
		return nil
	}
	_, err := e.GetLayout(ctx, layoutID)
	return err
}

// ListChildren returns the ordered child edges of parentID.
func (e *BatchEnvironment) ListChildren(ctx context.Context, parentID string) ([]domain.Edge, error) {
	return NewHierarchyManager(e.repo, e.repo).ListChildren(ctx, parentID)
}

// ListLayoutRoots returns the blocks of a layout that have no parent,
// ordered by creation time.
func (e *BatchEnvironment) ListLayoutRoots(ctx context.Context, layoutID string) ([]domain.Block, error) {
	if err := e.authorizeLayoutRead(ctx, layoutID); err != nil {
		return nil, err
	}
	blocks, err := e.repo.ListLayoutBlocks(ctx, strings.TrimSpace(layoutID))
	if err != nil {
		return nil, err
	}
	roots := make([]domain.Block, 0, len(blocks))
	for _, block := range blocks {
		_, attached, err := e.repo.GetParentEdge(ctx, block.ID)
		if err != nil {
			return nil, err
		}
		if !attached {
			roots = append(roots, block)
		}
	}
	return roots, nil
}

// LayoutTree returns every root of a layout with its descendants.
func (e *BatchEnvironment) LayoutTree(ctx context.Context, layoutID string) ([]BlockNode, error) {
	roots, err := e.ListLayoutRoots(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	out := make([]BlockNode, 0, len(roots))
	visited := map[string]struct{}{}
	for _, root := range roots {
		node, err := e.buildNode(ctx, root, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// buildNode loads block's subtree depth first, skipping revisited blocks.
func (e *BatchEnvironment) buildNode(ctx context.Context, block domain.Block, visited map[string]struct{}) (BlockNode, error) {
	visited[block.ID] = struct{}{}
	node := BlockNode{Block: block}
	edges, err := e.ListChildren(ctx, block.ID)
	if err != nil {
		return BlockNode{}, err
	}
	for _, edge := range edges {
		if _, seen := visited[edge.ChildID]; seen {
			continue
		}
		child, err := e.repo.GetBlock(ctx, edge.ChildID)
		if err != nil {
			return BlockNode{}, fmt.Errorf("load child %s: %w", edge.ChildID, err)
		}
		childNode, err := e.buildNode(ctx, child, visited)
		if err != nil {
			return BlockNode{}, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// ResolveReferences resolves the references declared by a block's payload.
// Content blocks have none.
func (e *BatchEnvironment) ResolveReferences(ctx context.Context, blockID string) ([]domain.ResolvedReference, error) {
	block, err := e.GetBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}
	refs := NewReferenceManager(e.repo, e.resolvers, e.idGen)
	switch payload := block.Payload.(type) {
	case domain.ContentPayload:
		return []domain.ResolvedReference{}, nil
	case domain.EntityListPayload:
		return refs.FindListReferences(ctx, block.ID, payload, block.OrganisationID)
	case domain.SingleLinkPayload:
		resolved, _, err := refs.FindBlockLink(ctx, block.ID, payload, block.OrganisationID)
		if err != nil {
			return nil, err
		}
		return []domain.ResolvedReference{resolved}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", domain.ErrInvalidPayload, block.Payload)
	}
}

// PreviewCascade returns what removing blockID would delete, without writing.
func (e *BatchEnvironment) PreviewCascade(ctx context.Context, blockID string) (CascadePlan, error) {
	block, err := e.GetBlock(ctx, blockID)
	if err != nil {
		return CascadePlan{}, err
	}
	return NewHierarchyManager(e.repo, e.repo).PrepareRemovalCascade(ctx, []string{block.ID})
}

// ListActivity returns the newest activity rows of a layout.
func (e *BatchEnvironment) ListActivity(ctx context.Context, layoutID string, limit int) ([]domain.Activity, error) {
	if err := e.authorizeLayoutRead(ctx, layoutID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return e.repo.ListLayoutActivity(ctx, strings.TrimSpace(layoutID), limit)
}

// SeedBlockTypes upserts catalog block types, keeping existing ids.
func (e *BatchEnvironment) SeedBlockTypes(ctx context.Context, inputs []domain.BlockTypeInput) ([]domain.BlockType, error) {
	now := e.clock()
	out := make([]domain.BlockType, 0, len(inputs))
	for _, in := range inputs {
		if existing, err := e.repo.GetBlockType(ctx, strings.TrimSpace(in.OrganisationID), domain.NormalizeTypeKey(in.Key)); err == nil && existing.OrganisationID == strings.TrimSpace(in.OrganisationID) {
			in.ID = existing.ID
		} else if strings.TrimSpace(in.ID) == "" {
			in.ID = e.idGen()
		}
		blockType, err := domain.NewBlockType(in, now)
		if err != nil {
			return nil, fmt.Errorf("block type %q: %w", in.Key, err)
		}
		if err := e.repo.SaveBlockType(ctx, blockType); err != nil {
			return nil, err
		}
		out = append(out, blockType)
	}
	return out, nil
}
