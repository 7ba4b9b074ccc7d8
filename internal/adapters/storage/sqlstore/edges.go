package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/blockenv/internal/domain"
)

// ListChildEdges returns the edges under parentID in sibling order.
func (s *Store) ListChildEdges(ctx context.Context, parentID string) ([]domain.Edge, error) {
	return s.listEdges(ctx, `
		SELECT parent_id, child_id, order_index FROM block_edges
		WHERE parent_id = ?
		ORDER BY order_index ASC, child_id ASC
	`, strings.TrimSpace(parentID))
}

// ListChildEdgesForParents returns the child edges of every parent in one query.
func (s *Store) ListChildEdgesForParents(ctx context.Context, parentIDs []string) ([]domain.Edge, error) {
	if len(parentIDs) == 0 {
		return []domain.Edge{}, nil
	}
	return s.listEdges(ctx, `
		SELECT parent_id, child_id, order_index FROM block_edges
		WHERE parent_id IN (`+placeholders(len(parentIDs))+`)
		ORDER BY parent_id ASC, order_index ASC, child_id ASC
	`, stringArgs(parentIDs)...)
}

func (s *Store) listEdges(ctx context.Context, query string, args ...any) ([]domain.Edge, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Edge, 0)
	for rows.Next() {
		var edge domain.Edge
		if err := rows.Scan(&edge.ParentID, &edge.ChildID, &edge.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}

// GetParentEdge returns the edge attaching childID, reporting false when it is a root.
func (s *Store) GetParentEdge(ctx context.Context, childID string) (domain.Edge, bool, error) {
	var edge domain.Edge
	err := s.queryRow(ctx, `SELECT parent_id, child_id, order_index FROM block_edges WHERE child_id = ?`, strings.TrimSpace(childID)).
		Scan(&edge.ParentID, &edge.ChildID, &edge.OrderIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Edge{}, false, nil
	}
	if err != nil {
		return domain.Edge{}, false, err
	}
	return edge, true, nil
}

// SaveEdges upserts edges keyed by child.
func (s *Store) SaveEdges(ctx context.Context, edges []domain.Edge) error {
	for _, edge := range edges {
		_, err := s.exec(ctx, `
			INSERT INTO block_edges(child_id, parent_id, order_index)
			VALUES (?, ?, ?)
			ON CONFLICT(child_id) DO UPDATE SET
				parent_id = excluded.parent_id,
				order_index = excluded.order_index
		`, edge.ChildID, edge.ParentID, edge.OrderIndex)
		if err != nil {
			return fmt.Errorf("save edge %s -> %s: %w", edge.ParentID, edge.ChildID, err)
		}
	}
	return nil
}

// DeleteEdges deletes edges matching both parent and child.
func (s *Store) DeleteEdges(ctx context.Context, edges []domain.Edge) error {
	for _, edge := range edges {
		if _, err := s.exec(ctx, `DELETE FROM block_edges WHERE child_id = ? AND parent_id = ?`, edge.ChildID, edge.ParentID); err != nil {
			return fmt.Errorf("delete edge %s -> %s: %w", edge.ParentID, edge.ChildID, err)
		}
	}
	return nil
}

// DeleteEdgesForBlocks deletes every edge touching one of ids.
func (s *Store) DeleteEdgesForBlocks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	marks := placeholders(len(ids))
	args := append(stringArgs(ids), stringArgs(ids)...)
	_, err := s.exec(ctx, `DELETE FROM block_edges WHERE child_id IN (`+marks+`) OR parent_id IN (`+marks+`)`, args...)
	return err
}
