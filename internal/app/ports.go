package app

import (
	"context"

	"github.com/hylla/blockenv/internal/domain"
)

// BlockStore persists blocks and resolves block types.
type BlockStore interface {
	GetBlock(context.Context, string) (domain.Block, error)
	ListBlocksByID(context.Context, []string) ([]domain.Block, error)
	ListLayoutBlocks(context.Context, string) ([]domain.Block, error)
	SaveBlocks(context.Context, []domain.Block) error
	DeleteBlocksByID(context.Context, []string) error
	GetBlockType(context.Context, string, string) (domain.BlockType, error)
	SaveBlockType(context.Context, domain.BlockType) error
}

// EdgeStore persists parent-child edges.
type EdgeStore interface {
	ListChildEdges(context.Context, string) ([]domain.Edge, error)
	ListChildEdgesForParents(context.Context, []string) ([]domain.Edge, error)
	GetParentEdge(context.Context, string) (domain.Edge, bool, error)
	SaveEdges(context.Context, []domain.Edge) error
	DeleteEdges(context.Context, []domain.Edge) error
	DeleteEdgesForBlocks(context.Context, []string) error
}

// ReferenceStore persists reference rows.
type ReferenceStore interface {
	ListReferencesByPathPrefix(context.Context, string, string) ([]domain.ReferenceEdge, error)
	ListReferencesAtPath(context.Context, string, string) ([]domain.ReferenceEdge, error)
	SaveReferences(context.Context, []domain.ReferenceEdge) error
	DeleteReferencesByID(context.Context, []string) error
	DeleteReferencesForBlocks(context.Context, []string) error
}

// LayoutStore persists layouts and their concurrency version.
type LayoutStore interface {
	CreateLayout(context.Context, domain.Layout) error
	GetLayout(context.Context, string) (domain.Layout, error)
	// AdvanceLayoutVersion sets the version to next only when it still equals
	// expected, returning ErrVersionConflict otherwise.
	AdvanceLayoutVersion(ctx context.Context, layoutID string, expected, next int64) error
}

// ActivityLog appends audit entries.
type ActivityLog interface {
	LogActivity(context.Context, domain.Activity) error
	ListLayoutActivity(context.Context, string, int) ([]domain.Activity, error)
}

// Repository represents repository data used by this package.
type Repository interface {
	BlockStore
	EdgeStore
	ReferenceStore
	LayoutStore
	ActivityLog
	// RunInTx runs fn against a transactional view of the repository,
	// committing when fn returns nil and rolling back otherwise.
	RunInTx(context.Context, func(Repository) error) error
}

// SchemaIssue is one schema finding for a payload.
type SchemaIssue struct {
	Path    string
	Message string
}

// SchemaValidator checks block data against a block type schema.
type SchemaValidator interface {
	Validate(schemaJSON string, data map[string]any, strictness domain.Strictness) ([]SchemaIssue, error)
}

// AuthProvider answers identity and organisation-role questions for the caller.
type AuthProvider interface {
	CurrentUserID(context.Context) (string, error)
	HasOrganisationRole(ctx context.Context, organisationID string, role Role) bool
}

// EntityResolver batch-fetches referenceable entities of one type.
type EntityResolver interface {
	EntityType() domain.EntityType
	Fetch(ctx context.Context, ids []string, organisationID string) (map[string]domain.Referenceable, error)
}
