// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
)

// EnvironmentService is the application surface both transports expose.
type EnvironmentService interface {
	Save(context.Context, app.SaveRequest) (app.SaveResult, error)
	CreateLayout(ctx context.Context, organisationID string) (domain.Layout, error)
	GetLayout(ctx context.Context, layoutID string) (domain.Layout, error)
	GetBlock(ctx context.Context, blockID string) (domain.Block, error)
	ListChildren(ctx context.Context, parentID string) ([]domain.Edge, error)
	LayoutTree(ctx context.Context, layoutID string) ([]app.BlockNode, error)
	ResolveReferences(ctx context.Context, blockID string) ([]domain.ResolvedReference, error)
	PreviewCascade(ctx context.Context, blockID string) (app.CascadePlan, error)
	ListActivity(ctx context.Context, layoutID string, limit int) ([]domain.Activity, error)
}

var _ EnvironmentService = (*app.BatchEnvironment)(nil)

// LayoutView is the transport shape of one layout.
type LayoutView struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewLayoutView maps a domain layout.
func NewLayoutView(l domain.Layout) LayoutView {
	return LayoutView{
		ID:             l.ID,
		OrganisationID: l.OrganisationID,
		Version:        l.Version,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

// BlockView is the transport shape of one block. Payload keeps its kind
// discriminator.
type BlockView struct {
	ID             string          `json:"id"`
	OrganisationID string          `json:"organisation_id"`
	LayoutID       string          `json:"layout_id,omitempty"`
	TypeKey        string          `json:"type_key"`
	TypeVersion    int             `json:"type_version"`
	Name           string          `json:"name"`
	Payload        json.RawMessage `json:"payload"`
	Archived       bool            `json:"archived,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Children       []BlockView     `json:"children,omitempty"`
}

// NewBlockView maps a domain block.
func NewBlockView(b domain.Block) (BlockView, error) {
	payload, err := domain.MarshalPayload(b.Payload)
	if err != nil {
		return BlockView{}, err
	}
	return BlockView{
		ID:             b.ID,
		OrganisationID: b.OrganisationID,
		LayoutID:       b.LayoutID,
		TypeKey:        b.Type.Key,
		TypeVersion:    b.Type.Version,
		Name:           b.Name,
		Payload:        payload,
		Archived:       b.Archived,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}, nil
}

// NewTreeView maps block nodes depth first.
func NewTreeView(nodes []app.BlockNode) ([]BlockView, error) {
	out := make([]BlockView, 0, len(nodes))
	for _, node := range nodes {
		view, err := NewBlockView(node.Block)
		if err != nil {
			return nil, err
		}
		if len(node.Children) > 0 {
			view.Children, err = NewTreeView(node.Children)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, view)
	}
	return out, nil
}

// CascadeView is the transport shape of a removal preview.
type CascadeView struct {
	BlockIDs []string             `json:"block_ids"`
	Edges    []domain.Edge        `json:"edges"`
	Warnings []CascadeWarningView `json:"warnings,omitempty"`
}

// CascadeWarningView reports one revisited block.
type CascadeWarningView struct {
	BlockID string `json:"block_id"`
	Message string `json:"message"`
}

// NewCascadeView maps a cascade plan.
func NewCascadeView(plan app.CascadePlan) CascadeView {
	out := CascadeView{
		BlockIDs: append([]string{}, plan.BlockIDs...),
		Edges:    append([]domain.Edge{}, plan.Edges...),
	}
	for _, warning := range plan.Warnings {
		out.Warnings = append(out.Warnings, CascadeWarningView{BlockID: warning.BlockID, Message: warning.Message})
	}
	return out
}

// ActivityView is the transport shape of one audit row.
type ActivityView struct {
	ID         int64             `json:"id"`
	BlockID    string            `json:"block_id"`
	Operation  string            `json:"operation"`
	ActorID    string            `json:"actor_id"`
	ActorType  string            `json:"actor_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewActivityViews maps audit rows.
func NewActivityViews(rows []domain.Activity) []ActivityView {
	out := make([]ActivityView, 0, len(rows))
	for _, row := range rows {
		out = append(out, ActivityView{
			ID:         row.ID,
			BlockID:    row.BlockID,
			Operation:  string(row.Operation),
			ActorID:    row.ActorID,
			ActorType:  string(row.ActorType),
			Metadata:   row.Metadata,
			OccurredAt: row.OccurredAt,
		})
	}
	return out
}
