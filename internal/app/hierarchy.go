package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hylla/blockenv/internal/domain"
)

// EdgeDelta is the set of edge rows a hierarchy change deletes and saves.
// Deletes are applied before saves.
type EdgeDelta struct {
	Delete []domain.Edge
	Save   []domain.Edge
}

// Empty reports whether the delta changes nothing.
func (d EdgeDelta) Empty() bool {
	return len(d.Delete) == 0 && len(d.Save) == 0
}

// ChildAddition places one child under a parent. A nil Index appends.
type ChildAddition struct {
	Child domain.Block
	Index *int
}

// ChildMove reparents one child. A nil Index appends; a nil Nesting falls
// back to the new parent's block type rule. An empty NewParentID detaches.
type ChildMove struct {
	ChildID     string
	NewParentID string
	Index       *int
	Nesting     *domain.NestingRule
}

// ChildReorder moves one child within its parent.
type ChildReorder struct {
	ParentID string
	ChildID  string
	NewIndex int
}

// CascadeWarning flags a node reached more than once during cascade traversal.
type CascadeWarning struct {
	BlockID string
	Message string
}

// CascadePlan is the full set of blocks and edges a removal deletes.
type CascadePlan struct {
	BlockIDs []string
	Edges    []domain.Edge
	Warnings []CascadeWarning
}

// HierarchyManager owns parent-child edges and their ordering.
type HierarchyManager struct {
	blocks BlockStore
	edges  EdgeStore
}

// NewHierarchyManager constructs a hierarchy manager over the given stores.
func NewHierarchyManager(blocks BlockStore, edges EdgeStore) *HierarchyManager {
	return &HierarchyManager{blocks: blocks, edges: edges}
}

// ListChildren returns the child edges of parentID ordered by index.
func (h *HierarchyManager) ListChildren(ctx context.Context, parentID string) ([]domain.Edge, error) {
	edges, err := h.edges.ListChildEdges(ctx, strings.TrimSpace(parentID))
	if err != nil {
		return nil, err
	}
	domain.SortEdges(edges)
	return edges, nil
}

// AddChild attaches child under parentID at index, shifting later siblings.
func (h *HierarchyManager) AddChild(ctx context.Context, child domain.Block, parentID string, index int, nesting *domain.NestingRule) error {
	delta, err := h.prepareAdditions(ctx, parentID, []ChildAddition{{Child: child, Index: &index}}, nesting)
	if err != nil {
		return err
	}
	return h.Apply(ctx, delta)
}

// ReorderChildren moves childID to newIndex within parentID.
func (h *HierarchyManager) ReorderChildren(ctx context.Context, parentID, childID string, newIndex int) error {
	delta, err := h.PrepareChildReorders(ctx, []ChildReorder{{ParentID: parentID, ChildID: childID, NewIndex: newIndex}})
	if err != nil {
		return err
	}
	return h.Apply(ctx, delta)
}

// ReparentChild moves childID to the end of newParentID's children.
func (h *HierarchyManager) ReparentChild(ctx context.Context, childID, newParentID string, nesting *domain.NestingRule) error {
	delta, err := h.PrepareChildMoves(ctx, []ChildMove{{ChildID: childID, NewParentID: newParentID, Nesting: nesting}})
	if err != nil {
		return err
	}
	return h.Apply(ctx, delta)
}

// DetachChild removes childID's edge, if any, and compacts its former siblings.
func (h *HierarchyManager) DetachChild(ctx context.Context, childID string) error {
	delta, err := h.PrepareDetach(ctx, []string{childID})
	if err != nil {
		return err
	}
	return h.Apply(ctx, delta)
}

// RemoveChild deletes the edge parentID -> childID and compacts siblings.
func (h *HierarchyManager) RemoveChild(ctx context.Context, parentID, childID string) error {
	plan := newEdgePlanner(h.edges)
	current, err := plan.parentOf(ctx, childID)
	if err != nil {
		return err
	}
	if current != strings.TrimSpace(parentID) || current == "" {
		return fmt.Errorf("%w: %s under %s", ErrChildNotFound, childID, parentID)
	}
	if err := plan.remove(ctx, childID); err != nil {
		return err
	}
	return h.Apply(ctx, plan.delta())
}

// PrepareRemovalCascade walks descendant edges from every root and returns
// all blocks and edges to delete. Nodes reached twice are reported as
// warnings and not traversed again.
func (h *HierarchyManager) PrepareRemovalCascade(ctx context.Context, rootIDs []string) (CascadePlan, error) {
	plan := CascadePlan{}
	visited := map[string]struct{}{}
	frontier := make([]string, 0, len(rootIDs))
	for _, raw := range rootIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		plan.BlockIDs = append(plan.BlockIDs, id)
		frontier = append(frontier, id)
	}

	for len(frontier) > 0 {
		edges, err := h.edges.ListChildEdgesForParents(ctx, frontier)
		if err != nil {
			return CascadePlan{}, err
		}
		adjacency := make(map[string][]domain.Edge, len(frontier))
		for _, edge := range edges {
			adjacency[edge.ParentID] = append(adjacency[edge.ParentID], edge)
		}
		next := make([]string, 0, len(edges))
		for _, parentID := range frontier {
			children := adjacency[parentID]
			domain.SortEdges(children)
			for _, edge := range children {
				plan.Edges = append(plan.Edges, edge)
				if _, seen := visited[edge.ChildID]; seen {
					plan.Warnings = append(plan.Warnings, CascadeWarning{
						BlockID: edge.ChildID,
						Message: fmt.Sprintf("reached again from parent %s", parentID),
					})
					log.Warn("cascade revisited block", "block_id", edge.ChildID, "parent_id", parentID)
					continue
				}
				visited[edge.ChildID] = struct{}{}
				plan.BlockIDs = append(plan.BlockIDs, edge.ChildID)
				next = append(next, edge.ChildID)
			}
		}
		frontier = next
	}
	return plan, nil
}

// PrepareChildAdditions plans attaching children under parentID using the
// parent's block type nesting rule.
func (h *HierarchyManager) PrepareChildAdditions(ctx context.Context, parentID string, additions []ChildAddition) (EdgeDelta, error) {
	return h.prepareAdditions(ctx, parentID, additions, nil)
}

// prepareAdditions validates and plans child attachments without writing.
func (h *HierarchyManager) prepareAdditions(ctx context.Context, parentID string, additions []ChildAddition, nesting *domain.NestingRule) (EdgeDelta, error) {
	parentID = strings.TrimSpace(parentID)
	parent, err := h.blocks.GetBlock(ctx, parentID)
	if err != nil {
		return EdgeDelta{}, fmt.Errorf("load parent %s: %w", parentID, err)
	}
	if nesting == nil {
		nesting = parent.Type.Nesting
	}
	plan := newEdgePlanner(h.edges)
	for _, addition := range additions {
		current, err := plan.parentOf(ctx, addition.Child.ID)
		if err != nil {
			return EdgeDelta{}, err
		}
		if current != "" {
			return EdgeDelta{}, fmt.Errorf("%w: %s already under %s", ErrAlreadyChild, addition.Child.ID, current)
		}
		siblings, err := plan.children(ctx, parentID)
		if err != nil {
			return EdgeDelta{}, err
		}
		if err := checkAttachment(parent, addition.Child, nesting, len(siblings)); err != nil {
			return EdgeDelta{}, err
		}
		if err := plan.insert(ctx, parentID, addition.Child.ID, addition.Index); err != nil {
			return EdgeDelta{}, err
		}
	}
	return plan.delta(), nil
}

// PrepareChildMoves plans reparenting children without writing.
func (h *HierarchyManager) PrepareChildMoves(ctx context.Context, moves []ChildMove) (EdgeDelta, error) {
	plan := newEdgePlanner(h.edges)
	for _, move := range moves {
		childID := strings.TrimSpace(move.ChildID)
		newParentID := strings.TrimSpace(move.NewParentID)
		if newParentID == "" {
			if err := plan.remove(ctx, childID); err != nil {
				return EdgeDelta{}, err
			}
			continue
		}
		if err := h.checkNoCycle(ctx, plan, childID, newParentID); err != nil {
			return EdgeDelta{}, err
		}
		current, err := plan.parentOf(ctx, childID)
		if err != nil {
			return EdgeDelta{}, err
		}
		if current == newParentID {
			siblings, err := plan.children(ctx, newParentID)
			if err != nil {
				return EdgeDelta{}, err
			}
			target := len(siblings) - 1
			if move.Index != nil {
				target = *move.Index
			}
			if err := plan.reorder(ctx, newParentID, childID, target); err != nil {
				return EdgeDelta{}, err
			}
			continue
		}

		parent, err := h.blocks.GetBlock(ctx, newParentID)
		if err != nil {
			return EdgeDelta{}, fmt.Errorf("load parent %s: %w", newParentID, err)
		}
		child, err := h.blocks.GetBlock(ctx, childID)
		if err != nil {
			return EdgeDelta{}, fmt.Errorf("load child %s: %w", childID, err)
		}
		nesting := move.Nesting
		if nesting == nil {
			nesting = parent.Type.Nesting
		}
		siblings, err := plan.children(ctx, newParentID)
		if err != nil {
			return EdgeDelta{}, err
		}
		if err := checkAttachment(parent, child, nesting, len(siblings)); err != nil {
			return EdgeDelta{}, err
		}
		if err := plan.remove(ctx, childID); err != nil {
			return EdgeDelta{}, err
		}
		if err := plan.insert(ctx, newParentID, childID, move.Index); err != nil {
			return EdgeDelta{}, err
		}
	}
	return plan.delta(), nil
}

// PrepareChildReorders plans sibling reorders without writing.
func (h *HierarchyManager) PrepareChildReorders(ctx context.Context, reorders []ChildReorder) (EdgeDelta, error) {
	plan := newEdgePlanner(h.edges)
	for _, reorder := range reorders {
		if err := plan.reorder(ctx, strings.TrimSpace(reorder.ParentID), strings.TrimSpace(reorder.ChildID), reorder.NewIndex); err != nil {
			return EdgeDelta{}, err
		}
	}
	return plan.delta(), nil
}

// PrepareDetach plans removing the parent edges of childIDs without writing.
func (h *HierarchyManager) PrepareDetach(ctx context.Context, childIDs []string) (EdgeDelta, error) {
	plan := newEdgePlanner(h.edges)
	for _, childID := range childIDs {
		if err := plan.remove(ctx, strings.TrimSpace(childID)); err != nil {
			return EdgeDelta{}, err
		}
	}
	return plan.delta(), nil
}

// Apply persists an edge delta, deletes first.
func (h *HierarchyManager) Apply(ctx context.Context, delta EdgeDelta) error {
	if len(delta.Delete) > 0 {
		if err := h.edges.DeleteEdges(ctx, delta.Delete); err != nil {
			return fmt.Errorf("delete edges: %w", err)
		}
	}
	if len(delta.Save) > 0 {
		if err := h.edges.SaveEdges(ctx, delta.Save); err != nil {
			return fmt.Errorf("save edges: %w", err)
		}
	}
	return nil
}

// checkNoCycle rejects moving childID under itself or one of its descendants.
func (h *HierarchyManager) checkNoCycle(ctx context.Context, plan *edgePlanner, childID, newParentID string) error {
	visited := map[string]struct{}{}
	for current := newParentID; current != ""; {
		if current == childID {
			return fmt.Errorf("%w: %s under %s", ErrCycleDetected, childID, newParentID)
		}
		if _, seen := visited[current]; seen {
			log.Warn("existing hierarchy cycle detected", "block_id", current)
			return fmt.Errorf("%w: existing cycle at %s", ErrCycleDetected, current)
		}
		visited[current] = struct{}{}
		next, err := plan.parentOf(ctx, current)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

// checkAttachment validates organisation, nesting type, and capacity rules.
func checkAttachment(parent, child domain.Block, nesting *domain.NestingRule, siblingCount int) error {
	if parent.OrganisationID != child.OrganisationID {
		return fmt.Errorf("%w: %s (%s) under %s (%s)", ErrCrossOrganisation, child.ID, child.OrganisationID, parent.ID, parent.OrganisationID)
	}
	if nesting == nil || !nesting.Allows(child.Type.Key) {
		return fmt.Errorf("%w: %q under %s", ErrTypeNotAllowed, child.Type.Key, parent.ID)
	}
	if nesting.Full(siblingCount) {
		return fmt.Errorf("%w: %s holds %d", ErrMaxChildrenReached, parent.ID, siblingCount)
	}
	return nil
}

// edgePlanner tracks working sibling orders while a hierarchy change is
// planned, then diffs them against what was loaded.
type edgePlanner struct {
	edges    EdgeStore
	loaded   map[string][]domain.Edge
	order    map[string][]string
	parents  map[string]string
	resolved map[string]bool
}

// newEdgePlanner constructs an empty planner reading from edges.
func newEdgePlanner(edges EdgeStore) *edgePlanner {
	return &edgePlanner{
		edges:    edges,
		loaded:   map[string][]domain.Edge{},
		order:    map[string][]string{},
		parents:  map[string]string{},
		resolved: map[string]bool{},
	}
}

// children returns the working child order of parentID, loading it once.
func (p *edgePlanner) children(ctx context.Context, parentID string) ([]string, error) {
	if order, ok := p.order[parentID]; ok {
		return order, nil
	}
	edges, err := p.edges.ListChildEdges(ctx, parentID)
	if err != nil {
		return nil, err
	}
	domain.SortEdges(edges)
	p.loaded[parentID] = edges
	order := make([]string, 0, len(edges))
	for _, edge := range edges {
		order = append(order, edge.ChildID)
		if !p.resolved[edge.ChildID] {
			p.parents[edge.ChildID] = parentID
			p.resolved[edge.ChildID] = true
		}
	}
	p.order[parentID] = order
	return order, nil
}

// parentOf returns the working parent of childID or "" when detached.
func (p *edgePlanner) parentOf(ctx context.Context, childID string) (string, error) {
	if p.resolved[childID] {
		return p.parents[childID], nil
	}
	edge, ok, err := p.edges.GetParentEdge(ctx, childID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	parentID := ""
	if ok {
		parentID = edge.ParentID
	}
	p.parents[childID] = parentID
	p.resolved[childID] = true
	return parentID, nil
}

// insert places childID under parentID at index, clamped to the sibling range.
func (p *edgePlanner) insert(ctx context.Context, parentID, childID string, index *int) error {
	order, err := p.children(ctx, parentID)
	if err != nil {
		return err
	}
	at := len(order)
	if index != nil {
		at = min(max(*index, 0), len(order))
	}
	p.order[parentID] = slices.Insert(slices.Clone(order), at, childID)
	p.parents[childID] = parentID
	p.resolved[childID] = true
	return nil
}

// remove detaches childID from its working parent; a detached child is a no-op.
func (p *edgePlanner) remove(ctx context.Context, childID string) error {
	parentID, err := p.parentOf(ctx, childID)
	if err != nil || parentID == "" {
		return err
	}
	order, err := p.children(ctx, parentID)
	if err != nil {
		return err
	}
	idx := slices.Index(order, childID)
	if idx >= 0 {
		p.order[parentID] = slices.Delete(slices.Clone(order), idx, idx+1)
	}
	p.parents[childID] = ""
	return nil
}

// reorder moves childID to newIndex within parentID.
func (p *edgePlanner) reorder(ctx context.Context, parentID, childID string, newIndex int) error {
	order, err := p.children(ctx, parentID)
	if err != nil {
		return err
	}
	idx := slices.Index(order, childID)
	if idx < 0 {
		return fmt.Errorf("%w: %s under %s", ErrChildNotFound, childID, parentID)
	}
	next := slices.Delete(slices.Clone(order), idx, idx+1)
	at := min(max(newIndex, 0), len(next))
	p.order[parentID] = slices.Insert(next, at, childID)
	return nil
}

// delta diffs working orders against loaded edges, renumbering every
// touched parent to 0..n-1.
func (p *edgePlanner) delta() EdgeDelta {
	parentIDs := make([]string, 0, len(p.order))
	for parentID := range p.order {
		parentIDs = append(parentIDs, parentID)
	}
	slices.Sort(parentIDs)

	out := EdgeDelta{}
	for _, parentID := range parentIDs {
		before := make(map[string]domain.Edge, len(p.loaded[parentID]))
		for _, edge := range p.loaded[parentID] {
			before[edge.ChildID] = edge
		}
		order := p.order[parentID]
		for idx, childID := range order {
			if prev, ok := before[childID]; ok && prev.OrderIndex == idx {
				continue
			}
			out.Save = append(out.Save, domain.Edge{ParentID: parentID, ChildID: childID, OrderIndex: idx})
		}
		for _, edge := range p.loaded[parentID] {
			if !slices.Contains(order, edge.ChildID) {
				out.Delete = append(out.Delete, edge)
			}
		}
	}
	return out
}
