package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
)

// CreateLayout inserts one layout.
func (s *Store) CreateLayout(ctx context.Context, l domain.Layout) error {
	_, err := s.exec(ctx, `
		INSERT INTO layouts(id, organisation_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.ID, l.OrganisationID, l.Version, ts(l.CreatedAt), ts(l.UpdatedAt))
	return err
}

// GetLayout returns one layout.
func (s *Store) GetLayout(ctx context.Context, id string) (domain.Layout, error) {
	var (
		layout               domain.Layout
		createdAt, updatedAt string
	)
	err := s.queryRow(ctx, `SELECT id, organisation_id, version, created_at, updated_at FROM layouts WHERE id = ?`, strings.TrimSpace(id)).
		Scan(&layout.ID, &layout.OrganisationID, &layout.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Layout{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Layout{}, err
	}
	layout.CreatedAt = parseTS(createdAt)
	layout.UpdatedAt = parseTS(updatedAt)
	return layout, nil
}

// AdvanceLayoutVersion moves the version from expected to next with a
// compare-and-set update.
func (s *Store) AdvanceLayoutVersion(ctx context.Context, layoutID string, expected, next int64) error {
	res, err := s.exec(ctx, `
		UPDATE layouts SET version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, next, ts(time.Now()), layoutID, expected)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetLayout(ctx, layoutID); err != nil {
		return err
	}
	return app.ErrVersionConflict
}

// LogActivity appends one activity row.
func (s *Store) LogActivity(ctx context.Context, a domain.Activity) error {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	actorType := a.ActorType
	if actorType == "" {
		actorType = domain.ActorTypeSystem
	}
	_, err = s.exec(ctx, `
		INSERT INTO activity_log(organisation_id, layout_id, block_id, operation, actor_id, actor_type, metadata_json, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.OrganisationID,
		a.LayoutID,
		a.BlockID,
		string(a.Operation),
		a.ActorID,
		string(actorType),
		string(metadataJSON),
		ts(a.OccurredAt),
	)
	return err
}

// ListLayoutActivity returns the newest activity rows of a layout first.
func (s *Store) ListLayoutActivity(ctx context.Context, layoutID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT id, organisation_id, layout_id, block_id, operation, actor_id, actor_type, metadata_json, occurred_at
		FROM activity_log
		WHERE layout_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, strings.TrimSpace(layoutID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Activity, 0)
	for rows.Next() {
		var (
			activity                       domain.Activity
			operation, actorType, metadata string
			occurredAt                     string
		)
		if err := rows.Scan(
			&activity.ID,
			&activity.OrganisationID,
			&activity.LayoutID,
			&activity.BlockID,
			&operation,
			&activity.ActorID,
			&actorType,
			&metadata,
			&occurredAt,
		); err != nil {
			return nil, err
		}
		activity.Operation = domain.OperationKind(operation)
		activity.ActorType = domain.ActorType(actorType)
		activity.OccurredAt = parseTS(occurredAt)
		activity.Metadata = map[string]string{}
		if strings.TrimSpace(metadata) != "" {
			if err := json.Unmarshal([]byte(metadata), &activity.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, activity)
	}
	return out, rows.Err()
}
