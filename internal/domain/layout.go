package domain

import (
	"strings"
	"time"
)

// Layout groups the blocks of one document and carries the optimistic
// concurrency version for batched mutations against them.
type Layout struct {
	ID             string
	OrganisationID string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewLayout validates and normalizes a new layout at version zero.
func NewLayout(id, organisationID string, now time.Time) (Layout, error) {
	id = strings.TrimSpace(id)
	organisationID = strings.TrimSpace(organisationID)
	if id == "" || organisationID == "" {
		return Layout{}, ErrInvalidID
	}
	ts := now.UTC()
	return Layout{
		ID:             id,
		OrganisationID: organisationID,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}, nil
}

// Accepts reports whether a batch carrying version may be applied.
func (l Layout) Accepts(version int64) bool {
	return version > l.Version
}
