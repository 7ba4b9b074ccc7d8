package domain

// ReferenceEdge is one stored reference row owned by a block.
// OrderIndex is nil for single-link rows.
type ReferenceEdge struct {
	ID         string     `json:"id"`
	BlockID    string     `json:"block_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Path       string     `json:"path"`
	OrderIndex *int       `json:"order_index,omitempty"`
}

// Ref returns the entity reference the row points at.
func (r ReferenceEdge) Ref() EntityRef {
	return EntityRef{EntityType: r.EntityType, EntityID: r.EntityID}
}

// ReferenceWarning annotates a degraded reference read.
type ReferenceWarning string

// ReferenceWarning values.
const (
	ReferenceWarningNone            ReferenceWarning = ""
	ReferenceWarningMissing         ReferenceWarning = "missing"
	ReferenceWarningRequiresLoading ReferenceWarning = "requires_loading"
	ReferenceWarningUnsupported     ReferenceWarning = "unsupported"
)

// Referenceable is an entity a resolver can return for a reference.
type Referenceable struct {
	ID             string         `json:"id"`
	EntityType     EntityType     `json:"entity_type"`
	OrganisationID string         `json:"organisation_id"`
	Label          string         `json:"label"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// ResolvedReference is one reference as returned to readers.
type ResolvedReference struct {
	ID         string           `json:"id,omitempty"`
	EntityType EntityType       `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Path       string           `json:"path,omitempty"`
	OrderIndex *int             `json:"order_index,omitempty"`
	Entity     *Referenceable   `json:"entity,omitempty"`
	Warning    ReferenceWarning `json:"warning,omitempty"`
}
