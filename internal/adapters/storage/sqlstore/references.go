package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hylla/blockenv/internal/domain"
)

// ListReferencesByPathPrefix returns the rows of blockID whose path starts
// with prefix, ordered by index then path.
func (s *Store) ListReferencesByPathPrefix(ctx context.Context, blockID, prefix string) ([]domain.ReferenceEdge, error) {
	refs, err := s.listReferences(ctx, `
		SELECT id, block_id, entity_type, entity_id, path, order_index FROM block_references
		WHERE block_id = ?
		ORDER BY order_index ASC, path ASC, id ASC
	`, strings.TrimSpace(blockID))
	if err != nil {
		return nil, err
	}
	// LIKE treats _ and % as wildcards and locators may contain either.
	out := refs[:0]
	for _, ref := range refs {
		if strings.HasPrefix(ref.Path, prefix) {
			out = append(out, ref)
		}
	}
	return out, nil
}

// ListReferencesAtPath returns the rows of blockID at exactly path.
func (s *Store) ListReferencesAtPath(ctx context.Context, blockID, path string) ([]domain.ReferenceEdge, error) {
	return s.listReferences(ctx, `
		SELECT id, block_id, entity_type, entity_id, path, order_index FROM block_references
		WHERE block_id = ? AND path = ?
		ORDER BY id ASC
	`, strings.TrimSpace(blockID), path)
}

func (s *Store) listReferences(ctx context.Context, query string, args ...any) ([]domain.ReferenceEdge, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.ReferenceEdge, 0)
	for rows.Next() {
		var (
			ref        domain.ReferenceEdge
			entityType string
			orderIndex sql.NullInt64
		)
		if err := rows.Scan(&ref.ID, &ref.BlockID, &entityType, &ref.EntityID, &ref.Path, &orderIndex); err != nil {
			return nil, err
		}
		ref.EntityType = domain.EntityType(entityType)
		if orderIndex.Valid {
			idx := int(orderIndex.Int64)
			ref.OrderIndex = &idx
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// SaveReferences upserts reference rows by id.
func (s *Store) SaveReferences(ctx context.Context, refs []domain.ReferenceEdge) error {
	for _, ref := range refs {
		var orderIndex any
		if ref.OrderIndex != nil {
			orderIndex = *ref.OrderIndex
		}
		_, err := s.exec(ctx, `
			INSERT INTO block_references(id, block_id, entity_type, entity_id, path, order_index)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				block_id = excluded.block_id,
				entity_type = excluded.entity_type,
				entity_id = excluded.entity_id,
				path = excluded.path,
				order_index = excluded.order_index
		`, ref.ID, ref.BlockID, string(ref.EntityType), ref.EntityID, ref.Path, orderIndex)
		if err != nil {
			return fmt.Errorf("save reference %s: %w", ref.ID, err)
		}
	}
	return nil
}

// DeleteReferencesByID deletes reference rows by id.
func (s *Store) DeleteReferencesByID(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.exec(ctx, `DELETE FROM block_references WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	return err
}

// DeleteReferencesForBlocks deletes every row owned by one of ids.
func (s *Store) DeleteReferencesForBlocks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.exec(ctx, `DELETE FROM block_references WHERE block_id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	return err
}
