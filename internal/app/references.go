package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hylla/blockenv/internal/domain"
)

// ReferenceManager owns the reference rows behind link payloads.
type ReferenceManager struct {
	refs      ReferenceStore
	resolvers *ResolverRegistry
	idGen     IDGenerator
}

// NewReferenceManager constructs a reference manager.
func NewReferenceManager(refs ReferenceStore, resolvers *ResolverRegistry, idGen IDGenerator) *ReferenceManager {
	return &ReferenceManager{refs: refs, resolvers: resolvers, idGen: idGen}
}

// SyncPayload brings stored reference rows in line with block's payload.
// Content payloads own no rows.
func (m *ReferenceManager) SyncPayload(ctx context.Context, block domain.Block) error {
	switch payload := block.Payload.(type) {
	case domain.ContentPayload:
		return nil
	case domain.EntityListPayload:
		return m.UpsertLinksFor(ctx, block, payload)
	case domain.SingleLinkPayload:
		return m.UpsertBlockLinkFor(ctx, block, payload)
	default:
		return fmt.Errorf("%w: unsupported payload %T", domain.ErrInvalidPayload, block.Payload)
	}
}

// UpsertLinksFor reconciles list reference rows using the item path as
// identity. A stored row survives only when an identical type, id, and path
// is still desired; every other row under the base path is deleted and each
// unmatched item is inserted at its index.
func (m *ReferenceManager) UpsertLinksFor(ctx context.Context, block domain.Block, payload domain.EntityListPayload) error {
	basePath := listBasePath(payload.Path)
	seen := make(map[domain.EntityRef]struct{}, len(payload.Items))
	for _, item := range payload.Items {
		if item.IsBlockLink() {
			return fmt.Errorf("%w: block links require a single-link payload", ErrInvalidItemType)
		}
		if _, dup := seen[item]; dup && !payload.AllowDuplicates {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateNotAllowed, item.EntityType, item.EntityID)
		}
		seen[item] = struct{}{}
	}

	existing, err := m.refs.ListReferencesByPathPrefix(ctx, block.ID, basePath+"[")
	if err != nil {
		return err
	}
	type rowKey struct {
		ref  domain.EntityRef
		path string
	}
	desired := make(map[rowKey]int, len(payload.Items))
	for idx, item := range payload.Items {
		desired[rowKey{ref: item, path: domain.ItemPath(basePath, idx)}] = idx
	}

	kept := make(map[int]struct{}, len(existing))
	deleteIDs := make([]string, 0)
	for _, row := range existing {
		idx, ok := desired[rowKey{ref: row.Ref(), path: row.Path}]
		if _, claimed := kept[idx]; !ok || claimed {
			deleteIDs = append(deleteIDs, row.ID)
			continue
		}
		kept[idx] = struct{}{}
	}

	inserts := make([]domain.ReferenceEdge, 0, len(payload.Items)-len(kept))
	for idx, item := range payload.Items {
		if _, ok := kept[idx]; ok {
			continue
		}
		order := idx
		inserts = append(inserts, domain.ReferenceEdge{
			ID:         m.idGen(),
			BlockID:    block.ID,
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
			Path:       domain.ItemPath(basePath, idx),
			OrderIndex: &order,
		})
	}

	if len(deleteIDs) > 0 {
		if err := m.refs.DeleteReferencesByID(ctx, deleteIDs); err != nil {
			return fmt.Errorf("delete references: %w", err)
		}
	}
	if len(inserts) > 0 {
		if err := m.refs.SaveReferences(ctx, inserts); err != nil {
			return fmt.Errorf("save references: %w", err)
		}
	}
	log.Debug("list references reconciled", "block_id", block.ID, "kept", len(kept), "deleted", len(deleteIDs), "inserted", len(inserts))
	return nil
}

// UpsertBlockLinkFor updates the single row at the link path in place, or
// inserts it when absent.
func (m *ReferenceManager) UpsertBlockLinkFor(ctx context.Context, block domain.Block, payload domain.SingleLinkPayload) error {
	if !payload.Item.IsBlockLink() {
		return fmt.Errorf("%w: single-link payloads must reference a block, got %q", ErrInvalidItemType, payload.Item.EntityType)
	}
	path := linkPath(payload.Path)
	rows, err := m.refs.ListReferencesAtPath(ctx, block.ID, path)
	if err != nil {
		return err
	}
	row := domain.ReferenceEdge{
		BlockID:    block.ID,
		EntityType: payload.Item.EntityType,
		EntityID:   payload.Item.EntityID,
		Path:       path,
	}
	switch len(rows) {
	case 0:
		row.ID = m.idGen()
	case 1:
		row.ID = rows[0].ID
		if rows[0].Ref() == row.Ref() && rows[0].OrderIndex == nil {
			return nil
		}
	default:
		return fmt.Errorf("%w: block %s has %d rows at %s", ErrMultipleRowsAtPath, block.ID, len(rows), path)
	}
	if err := m.refs.SaveReferences(ctx, []domain.ReferenceEdge{row}); err != nil {
		return fmt.Errorf("save reference: %w", err)
	}
	return nil
}

// FindListReferences resolves every declared list item in payload order.
// Items without a stored row are marked missing; lazy lists are marked as
// requiring loading; eager lists are resolved through the registry.
func (m *ReferenceManager) FindListReferences(ctx context.Context, blockID string, payload domain.EntityListPayload, organisationID string) ([]domain.ResolvedReference, error) {
	basePath := listBasePath(payload.Path)
	rows, err := m.refs.ListReferencesByPathPrefix(ctx, blockID, basePath+"[")
	if err != nil {
		return nil, err
	}
	byRef := make(map[domain.EntityRef][]domain.ReferenceEdge, len(rows))
	for _, row := range rows {
		byRef[row.Ref()] = append(byRef[row.Ref()], row)
	}

	out := make([]domain.ResolvedReference, 0, len(payload.Items))
	for idx, item := range payload.Items {
		row, ok := takeRow(byRef, item, domain.ItemPath(basePath, idx))
		if !ok {
			out = append(out, domain.ResolvedReference{
				EntityType: item.EntityType,
				EntityID:   item.EntityID,
				Path:       domain.ItemPath(basePath, idx),
				Warning:    domain.ReferenceWarningMissing,
			})
			continue
		}
		out = append(out, resolvedFromRow(row))
	}
	if err := m.resolve(ctx, out, payload.FetchPolicy, organisationID); err != nil {
		return nil, err
	}
	return out, nil
}

// FindBlockLink resolves the single-link reference and returns its stored row
// when one exists.
func (m *ReferenceManager) FindBlockLink(ctx context.Context, blockID string, payload domain.SingleLinkPayload, organisationID string) (domain.ResolvedReference, *domain.ReferenceEdge, error) {
	path := linkPath(payload.Path)
	rows, err := m.refs.ListReferencesAtPath(ctx, blockID, path)
	if err != nil {
		return domain.ResolvedReference{}, nil, err
	}
	switch len(rows) {
	case 0:
		return domain.ResolvedReference{
			EntityType: payload.Item.EntityType,
			EntityID:   payload.Item.EntityID,
			Path:       path,
			Warning:    domain.ReferenceWarningMissing,
		}, nil, nil
	case 1:
	default:
		return domain.ResolvedReference{}, nil, fmt.Errorf("%w: block %s has %d rows at %s", ErrMultipleRowsAtPath, blockID, len(rows), path)
	}
	row := rows[0]
	out := []domain.ResolvedReference{resolvedFromRow(row)}
	if err := m.resolve(ctx, out, payload.FetchPolicy, organisationID); err != nil {
		return domain.ResolvedReference{}, nil, err
	}
	return out[0], &row, nil
}

// resolve annotates refs according to policy. Missing refs are left as-is.
func (m *ReferenceManager) resolve(ctx context.Context, refs []domain.ResolvedReference, policy domain.FetchPolicy, organisationID string) error {
	if policy != domain.FetchPolicyEager {
		for idx := range refs {
			if refs[idx].Warning == domain.ReferenceWarningNone {
				refs[idx].Warning = domain.ReferenceWarningRequiresLoading
			}
		}
		return nil
	}

	idsByType := map[domain.EntityType][]string{}
	for _, ref := range refs {
		if ref.Warning != domain.ReferenceWarningNone {
			continue
		}
		if !slices.Contains(idsByType[ref.EntityType], ref.EntityID) {
			idsByType[ref.EntityType] = append(idsByType[ref.EntityType], ref.EntityID)
		}
	}
	fetched := make(map[domain.EntityType]map[string]domain.Referenceable, len(idsByType))
	for entityType, ids := range idsByType {
		resolver, ok := m.resolvers.Lookup(entityType)
		if !ok {
			continue
		}
		slices.Sort(ids)
		entities, err := resolver.Fetch(ctx, ids, organisationID)
		if err != nil {
			return fmt.Errorf("resolve %s references: %w", entityType, err)
		}
		fetched[entityType] = entities
	}

	for idx := range refs {
		if refs[idx].Warning != domain.ReferenceWarningNone {
			continue
		}
		entities, ok := fetched[refs[idx].EntityType]
		if !ok {
			refs[idx].Warning = domain.ReferenceWarningUnsupported
			continue
		}
		entity, ok := entities[refs[idx].EntityID]
		if !ok {
			refs[idx].Warning = domain.ReferenceWarningMissing
			continue
		}
		refs[idx].Entity = &entity
	}
	return nil
}

// takeRow pops the stored row for item, preferring the one at path.
func takeRow(byRef map[domain.EntityRef][]domain.ReferenceEdge, item domain.EntityRef, path string) (domain.ReferenceEdge, bool) {
	rows := byRef[item]
	if len(rows) == 0 {
		return domain.ReferenceEdge{}, false
	}
	idx := slices.IndexFunc(rows, func(row domain.ReferenceEdge) bool { return row.Path == path })
	if idx < 0 {
		idx = 0
	}
	row := rows[idx]
	byRef[item] = slices.Delete(rows, idx, idx+1)
	return row, true
}

func resolvedFromRow(row domain.ReferenceEdge) domain.ResolvedReference {
	return domain.ResolvedReference{
		ID:         row.ID,
		EntityType: row.EntityType,
		EntityID:   row.EntityID,
		Path:       row.Path,
		OrderIndex: row.OrderIndex,
	}
}

func listBasePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.DefaultListPath
	}
	return path
}

func linkPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.DefaultLinkPath
	}
	return path
}
