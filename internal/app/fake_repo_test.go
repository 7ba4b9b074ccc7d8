package app

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/hylla/blockenv/internal/domain"
)

// fakeRepo is an in-memory Repository with write counters.
type fakeRepo struct {
	blocks     map[string]domain.Block
	types      map[string]domain.BlockType
	edges      map[string]domain.Edge
	refs       map[string]domain.ReferenceEdge
	layouts    map[string]domain.Layout
	activities []domain.Activity
	writes     int
	failOn     string
	failErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		blocks:  map[string]domain.Block{},
		types:   map[string]domain.BlockType{},
		edges:   map[string]domain.Edge{},
		refs:    map[string]domain.ReferenceEdge{},
		layouts: map[string]domain.Layout{},
	}
}

func (f *fakeRepo) fail(op string) error {
	if f.failOn == op {
		return f.failErr
	}
	return nil
}

func (f *fakeRepo) GetBlock(_ context.Context, id string) (domain.Block, error) {
	b, ok := f.blocks[id]
	if !ok {
		return domain.Block{}, ErrNotFound
	}
	return b, nil
}

func (f *fakeRepo) ListBlocksByID(_ context.Context, ids []string) ([]domain.Block, error) {
	out := make([]domain.Block, 0, len(ids))
	for _, id := range ids {
		if b, ok := f.blocks[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListLayoutBlocks(_ context.Context, layoutID string) ([]domain.Block, error) {
	out := make([]domain.Block, 0)
	for _, b := range f.blocks {
		if b.LayoutID == layoutID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b domain.Block) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (f *fakeRepo) SaveBlocks(_ context.Context, blocks []domain.Block) error {
	if err := f.fail("SaveBlocks"); err != nil {
		return err
	}
	f.writes++
	for _, b := range blocks {
		f.blocks[b.ID] = b
	}
	return nil
}

func (f *fakeRepo) DeleteBlocksByID(_ context.Context, ids []string) error {
	f.writes++
	for _, id := range ids {
		delete(f.blocks, id)
	}
	return nil
}

func (f *fakeRepo) GetBlockType(_ context.Context, organisationID, key string) (domain.BlockType, error) {
	if t, ok := f.types[organisationID+"/"+key]; ok {
		return t, nil
	}
	if t, ok := f.types["/"+key]; ok {
		return t, nil
	}
	return domain.BlockType{}, ErrNotFound
}

func (f *fakeRepo) SaveBlockType(_ context.Context, t domain.BlockType) error {
	f.types[t.OrganisationID+"/"+t.Key] = t
	return nil
}

func (f *fakeRepo) ListChildEdges(_ context.Context, parentID string) ([]domain.Edge, error) {
	out := make([]domain.Edge, 0)
	for _, e := range f.edges {
		if e.ParentID == parentID {
			out = append(out, e)
		}
	}
	domain.SortEdges(out)
	return out, nil
}

func (f *fakeRepo) ListChildEdgesForParents(ctx context.Context, parentIDs []string) ([]domain.Edge, error) {
	out := make([]domain.Edge, 0)
	for _, parentID := range parentIDs {
		edges, _ := f.ListChildEdges(ctx, parentID)
		out = append(out, edges...)
	}
	return out, nil
}

func (f *fakeRepo) GetParentEdge(_ context.Context, childID string) (domain.Edge, bool, error) {
	e, ok := f.edges[childID]
	return e, ok, nil
}

func (f *fakeRepo) SaveEdges(_ context.Context, edges []domain.Edge) error {
	f.writes++
	for _, e := range edges {
		f.edges[e.ChildID] = e
	}
	return nil
}

func (f *fakeRepo) DeleteEdges(_ context.Context, edges []domain.Edge) error {
	f.writes++
	for _, e := range edges {
		if cur, ok := f.edges[e.ChildID]; ok && cur.ParentID == e.ParentID {
			delete(f.edges, e.ChildID)
		}
	}
	return nil
}

func (f *fakeRepo) DeleteEdgesForBlocks(_ context.Context, ids []string) error {
	f.writes++
	for childID, e := range f.edges {
		if slices.Contains(ids, childID) || slices.Contains(ids, e.ParentID) {
			delete(f.edges, childID)
		}
	}
	return nil
}

func (f *fakeRepo) ListReferencesByPathPrefix(_ context.Context, blockID, prefix string) ([]domain.ReferenceEdge, error) {
	out := make([]domain.ReferenceEdge, 0)
	for _, r := range f.refs {
		if r.BlockID == blockID && strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.ReferenceEdge) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

func (f *fakeRepo) ListReferencesAtPath(_ context.Context, blockID, path string) ([]domain.ReferenceEdge, error) {
	out := make([]domain.ReferenceEdge, 0)
	for _, r := range f.refs {
		if r.BlockID == blockID && r.Path == path {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveReferences(_ context.Context, refs []domain.ReferenceEdge) error {
	f.writes++
	for _, r := range refs {
		f.refs[r.ID] = r
	}
	return nil
}

func (f *fakeRepo) DeleteReferencesByID(_ context.Context, ids []string) error {
	f.writes++
	for _, id := range ids {
		delete(f.refs, id)
	}
	return nil
}

func (f *fakeRepo) DeleteReferencesForBlocks(_ context.Context, ids []string) error {
	f.writes++
	for id, r := range f.refs {
		if slices.Contains(ids, r.BlockID) {
			delete(f.refs, id)
		}
	}
	return nil
}

func (f *fakeRepo) CreateLayout(_ context.Context, l domain.Layout) error {
	f.layouts[l.ID] = l
	return nil
}

func (f *fakeRepo) GetLayout(_ context.Context, id string) (domain.Layout, error) {
	l, ok := f.layouts[id]
	if !ok {
		return domain.Layout{}, ErrNotFound
	}
	return l, nil
}

func (f *fakeRepo) AdvanceLayoutVersion(_ context.Context, layoutID string, expected, next int64) error {
	if err := f.fail("AdvanceLayoutVersion"); err != nil {
		return err
	}
	l, ok := f.layouts[layoutID]
	if !ok {
		return ErrNotFound
	}
	if l.Version != expected {
		return ErrVersionConflict
	}
	f.writes++
	l.Version = next
	f.layouts[layoutID] = l
	return nil
}

func (f *fakeRepo) LogActivity(_ context.Context, a domain.Activity) error {
	a.ID = int64(len(f.activities) + 1)
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeRepo) ListLayoutActivity(_ context.Context, layoutID string, limit int) ([]domain.Activity, error) {
	out := make([]domain.Activity, 0)
	for i := len(f.activities) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if f.activities[i].LayoutID == layoutID {
			out = append(out, f.activities[i])
		}
	}
	return out, nil
}

// RunInTx restores every map when fn fails.
func (f *fakeRepo) RunInTx(_ context.Context, fn func(Repository) error) error {
	blocks, edges, refs, layouts := maps.Clone(f.blocks), maps.Clone(f.edges), maps.Clone(f.refs), maps.Clone(f.layouts)
	activities := slices.Clone(f.activities)
	if err := fn(f); err != nil {
		f.blocks, f.edges, f.refs, f.layouts, f.activities = blocks, edges, refs, layouts, activities
		return err
	}
	return nil
}

// seedBlock stores a content block of typeKey and returns it.
func (f *fakeRepo) seedBlock(id, orgID, typeKey string, nesting *domain.NestingRule) domain.Block {
	b := domain.Block{
		ID:             id,
		OrganisationID: orgID,
		LayoutID:       "layout-1",
		Type:           domain.BlockType{ID: "type-" + typeKey, Key: typeKey, Version: 1, Nesting: nesting, Strictness: domain.StrictnessSoft},
		Name:           id,
		Payload:        domain.ContentPayload{Data: map[string]any{}},
	}
	f.blocks[id] = b
	return b
}

// seedEdges attaches children under parentID in order.
func (f *fakeRepo) seedEdges(parentID string, childIDs ...string) {
	for idx, childID := range childIDs {
		f.edges[childID] = domain.Edge{ParentID: parentID, ChildID: childID, OrderIndex: idx}
	}
}

// childOrder returns child ids of parentID sorted by index.
func (f *fakeRepo) childOrder(parentID string) []string {
	edges, _ := f.ListChildEdges(context.Background(), parentID)
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.ChildID)
	}
	return out
}
