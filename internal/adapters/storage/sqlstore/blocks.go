package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
)

const blockColumns = `
	b.id, b.organisation_id, b.layout_id, b.name, b.payload_json, b.archived, b.created_at, b.updated_at,
	t.id, t.type_key, t.organisation_id, t.version, t.schema_json, t.nesting_json, t.strictness, t.archived, t.created_at, t.updated_at`

const blockFrom = ` FROM blocks b JOIN block_types t ON t.id = b.type_id`

const blockTypeColumns = `id, type_key, organisation_id, version, schema_json, nesting_json, strictness, archived, created_at, updated_at`

// GetBlock returns one block with its type.
func (s *Store) GetBlock(ctx context.Context, id string) (domain.Block, error) {
	row := s.queryRow(ctx, `SELECT `+blockColumns+blockFrom+` WHERE b.id = ?`, strings.TrimSpace(id))
	block, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Block{}, app.ErrNotFound
	}
	return block, err
}

// ListBlocksByID returns the existing blocks among ids. Unknown ids are skipped.
func (s *Store) ListBlocksByID(ctx context.Context, ids []string) ([]domain.Block, error) {
	if len(ids) == 0 {
		return []domain.Block{}, nil
	}
	return s.listBlocks(ctx, ` WHERE b.id IN (`+placeholders(len(ids))+`) ORDER BY b.id`, stringArgs(ids)...)
}

// ListLayoutBlocks returns every block of a layout in creation order.
func (s *Store) ListLayoutBlocks(ctx context.Context, layoutID string) ([]domain.Block, error) {
	return s.listBlocks(ctx, ` WHERE b.layout_id = ? ORDER BY b.created_at ASC, b.id ASC`, strings.TrimSpace(layoutID))
}

func (s *Store) listBlocks(ctx context.Context, where string, args ...any) ([]domain.Block, error) {
	rows, err := s.query(ctx, `SELECT `+blockColumns+blockFrom+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Block, 0)
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

// SaveBlocks inserts or replaces blocks.
func (s *Store) SaveBlocks(ctx context.Context, blocks []domain.Block) error {
	for _, block := range blocks {
		payloadJSON, err := domain.MarshalPayload(block.Payload)
		if err != nil {
			return fmt.Errorf("encode block %s payload: %w", block.ID, err)
		}
		_, err = s.exec(ctx, `
			INSERT INTO blocks(id, organisation_id, layout_id, type_id, name, payload_kind, payload_json, archived, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				organisation_id = excluded.organisation_id,
				layout_id = excluded.layout_id,
				type_id = excluded.type_id,
				name = excluded.name,
				payload_kind = excluded.payload_kind,
				payload_json = excluded.payload_json,
				archived = excluded.archived,
				updated_at = excluded.updated_at
		`,
			block.ID,
			block.OrganisationID,
			block.LayoutID,
			block.Type.ID,
			block.Name,
			string(domain.PayloadKindOf(block.Payload)),
			string(payloadJSON),
			boolInt(block.Archived),
			ts(block.CreatedAt),
			ts(block.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("save block %s: %w", block.ID, err)
		}
	}
	return nil
}

// DeleteBlocksByID deletes blocks by id.
func (s *Store) DeleteBlocksByID(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.exec(ctx, `DELETE FROM blocks WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	return err
}

// GetBlockType returns the organisation's own type for key, falling back to
// the shared catalog entry.
func (s *Store) GetBlockType(ctx context.Context, organisationID, key string) (domain.BlockType, error) {
	organisationID = strings.TrimSpace(organisationID)
	row := s.queryRow(ctx, `
		SELECT `+blockTypeColumns+`
		FROM block_types
		WHERE type_key = ? AND (organisation_id = ? OR organisation_id = '')
		ORDER BY CASE WHEN organisation_id = ? THEN 0 ELSE 1 END
		LIMIT 1
	`, strings.TrimSpace(key), organisationID, organisationID)
	blockType, err := scanBlockType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BlockType{}, app.ErrNotFound
	}
	return blockType, err
}

// SaveBlockType inserts or replaces one block type.
func (s *Store) SaveBlockType(ctx context.Context, t domain.BlockType) error {
	var nesting any
	if t.Nesting != nil {
		raw, err := json.Marshal(t.Nesting)
		if err != nil {
			return fmt.Errorf("encode nesting rule: %w", err)
		}
		nesting = string(raw)
	}
	_, err := s.exec(ctx, `
		INSERT INTO block_types(`+blockTypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type_key = excluded.type_key,
			organisation_id = excluded.organisation_id,
			version = excluded.version,
			schema_json = excluded.schema_json,
			nesting_json = excluded.nesting_json,
			strictness = excluded.strictness,
			archived = excluded.archived,
			updated_at = excluded.updated_at
	`,
		t.ID,
		t.Key,
		t.OrganisationID,
		t.Version,
		t.SchemaJSON,
		nesting,
		string(t.Strictness),
		boolInt(t.Archived),
		ts(t.CreatedAt),
		ts(t.UpdatedAt),
	)
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(s scanner) (domain.Block, error) {
	var (
		block                domain.Block
		payloadJSON          string
		archived             int64
		createdAt, updatedAt string
		typeRow              blockTypeRow
	)
	err := s.Scan(
		&block.ID,
		&block.OrganisationID,
		&block.LayoutID,
		&block.Name,
		&payloadJSON,
		&archived,
		&createdAt,
		&updatedAt,
		&typeRow.id,
		&typeRow.key,
		&typeRow.organisationID,
		&typeRow.version,
		&typeRow.schemaJSON,
		&typeRow.nestingJSON,
		&typeRow.strictness,
		&typeRow.archived,
		&typeRow.createdAt,
		&typeRow.updatedAt,
	)
	if err != nil {
		return domain.Block{}, err
	}
	payload, err := domain.UnmarshalPayload([]byte(payloadJSON))
	if err != nil {
		return domain.Block{}, fmt.Errorf("decode block %s payload: %w", block.ID, err)
	}
	block.Type, err = typeRow.toDomain()
	if err != nil {
		return domain.Block{}, err
	}
	block.Payload = payload
	block.Archived = archived != 0
	block.CreatedAt = parseTS(createdAt)
	block.UpdatedAt = parseTS(updatedAt)
	return block, nil
}

// blockTypeRow holds the raw columns of one block_types row.
type blockTypeRow struct {
	id, key, organisationID string
	version                 int
	schemaJSON              string
	nestingJSON             sql.NullString
	strictness              string
	archived                int64
	createdAt, updatedAt    string
}

func (r blockTypeRow) toDomain() (domain.BlockType, error) {
	out := domain.BlockType{
		ID:             r.id,
		Key:            r.key,
		Version:        r.version,
		OrganisationID: r.organisationID,
		SchemaJSON:     r.schemaJSON,
		Strictness:     domain.Strictness(r.strictness),
		Archived:       r.archived != 0,
		CreatedAt:      parseTS(r.createdAt),
		UpdatedAt:      parseTS(r.updatedAt),
	}
	if r.nestingJSON.Valid && strings.TrimSpace(r.nestingJSON.String) != "" {
		var nesting domain.NestingRule
		if err := json.Unmarshal([]byte(r.nestingJSON.String), &nesting); err != nil {
			return domain.BlockType{}, fmt.Errorf("decode block type %s nesting: %w", r.key, err)
		}
		out.Nesting = &nesting
	}
	return out, nil
}

func scanBlockType(s scanner) (domain.BlockType, error) {
	var r blockTypeRow
	if err := s.Scan(
		&r.id,
		&r.key,
		&r.organisationID,
		&r.version,
		&r.schemaJSON,
		&r.nestingJSON,
		&r.strictness,
		&r.archived,
		&r.createdAt,
		&r.updatedAt,
	); err != nil {
		return domain.BlockType{}, err
	}
	return r.toDomain()
}
