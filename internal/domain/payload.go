package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadKind identifies one member of the payload union.
type PayloadKind string

// PayloadKind values.
const (
	PayloadKindContent    PayloadKind = "content"
	PayloadKindEntityList PayloadKind = "entity_list"
	PayloadKindSingleLink PayloadKind = "single_link"
)

// FetchPolicy selects how references are resolved on read.
type FetchPolicy string

// FetchPolicy values.
const (
	FetchPolicyLazy  FetchPolicy = "lazy"
	FetchPolicyEager FetchPolicy = "eager"
)

// EntityType names a referenceable entity family.
type EntityType string

// EntityTypeBlock marks a reference that points at another block.
const EntityTypeBlock EntityType = "block"

// Default payload locators.
const (
	DefaultListPath = "$.items"
	DefaultLinkPath = "$.item"
)

// EntityRef points at one external entity or block.
type EntityRef struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
}

// IsBlockLink reports whether the reference targets another block.
func (r EntityRef) IsBlockLink() bool {
	return r.EntityType == EntityTypeBlock
}

// Payload is the closed union of block payload kinds.
type Payload interface {
	payloadKind() PayloadKind
}

// ContentPayload stores free-form structured content.
type ContentPayload struct {
	Data map[string]any
}

// EntityListPayload stores an ordered list of entity references.
type EntityListPayload struct {
	Items           []EntityRef
	Path            string
	FetchPolicy     FetchPolicy
	AllowDuplicates bool
}

// SingleLinkPayload stores exactly one block link.
type SingleLinkPayload struct {
	Item        EntityRef
	Path        string
	FetchPolicy FetchPolicy
}

func (ContentPayload) payloadKind() PayloadKind    { return PayloadKindContent }
func (EntityListPayload) payloadKind() PayloadKind { return PayloadKindEntityList }
func (SingleLinkPayload) payloadKind() PayloadKind { return PayloadKindSingleLink }

// PayloadKindOf returns the union tag for p, or "" for nil.
func PayloadKindOf(p Payload) PayloadKind {
	if p == nil {
		return ""
	}
	return p.payloadKind()
}

// ItemPath returns the locator of the list item at index.
func ItemPath(basePath string, index int) string {
	return fmt.Sprintf("%s[%d]", basePath, index)
}

// NormalizePayload applies defaults and validates one payload.
func NormalizePayload(p Payload) (Payload, error) {
	switch v := p.(type) {
	case ContentPayload:
		if v.Data == nil {
			v.Data = map[string]any{}
		}
		return v, nil
	case EntityListPayload:
		v.Path = normalizePath(v.Path, DefaultListPath)
		policy, err := normalizeFetchPolicy(v.FetchPolicy)
		if err != nil {
			return nil, err
		}
		v.FetchPolicy = policy
		items := make([]EntityRef, 0, len(v.Items))
		for _, item := range v.Items {
			item, err := normalizeEntityRef(item)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		v.Items = items
		return v, nil
	case SingleLinkPayload:
		v.Path = normalizePath(v.Path, DefaultLinkPath)
		policy, err := normalizeFetchPolicy(v.FetchPolicy)
		if err != nil {
			return nil, err
		}
		v.FetchPolicy = policy
		item, err := normalizeEntityRef(v.Item)
		if err != nil {
			return nil, err
		}
		v.Item = item
		return v, nil
	case nil:
		return nil, ErrInvalidPayload
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidPayload, p)
	}
}

// payloadJSON is the wire form of the payload union.
type payloadJSON struct {
	Kind            PayloadKind    `json:"kind"`
	Data            map[string]any `json:"data,omitempty"`
	Items           []EntityRef    `json:"items,omitempty"`
	Item            *EntityRef     `json:"item,omitempty"`
	Path            string         `json:"path,omitempty"`
	FetchPolicy     FetchPolicy    `json:"fetch_policy,omitempty"`
	AllowDuplicates bool           `json:"allow_duplicates,omitempty"`
}

// MarshalPayload encodes p with its kind discriminator.
func MarshalPayload(p Payload) ([]byte, error) {
	var wire payloadJSON
	switch v := p.(type) {
	case ContentPayload:
		wire = payloadJSON{Kind: PayloadKindContent, Data: v.Data}
		if wire.Data == nil {
			wire.Data = map[string]any{}
		}
	case EntityListPayload:
		wire = payloadJSON{
			Kind:            PayloadKindEntityList,
			Items:           v.Items,
			Path:            v.Path,
			FetchPolicy:     v.FetchPolicy,
			AllowDuplicates: v.AllowDuplicates,
		}
		if wire.Items == nil {
			wire.Items = []EntityRef{}
		}
	case SingleLinkPayload:
		item := v.Item
		wire = payloadJSON{Kind: PayloadKindSingleLink, Item: &item, Path: v.Path, FetchPolicy: v.FetchPolicy}
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidPayload, p)
	}
	return json.Marshal(wire)
}

// UnmarshalPayload decodes one payload from its wire form.
func UnmarshalPayload(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var wire payloadJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch PayloadKind(strings.TrimSpace(strings.ToLower(string(wire.Kind)))) {
	case PayloadKindContent, "":
		return ContentPayload{Data: wire.Data}, nil
	case PayloadKindEntityList:
		return EntityListPayload{
			Items:           wire.Items,
			Path:            wire.Path,
			FetchPolicy:     wire.FetchPolicy,
			AllowDuplicates: wire.AllowDuplicates,
		}, nil
	case PayloadKindSingleLink:
		if wire.Item == nil {
			return nil, fmt.Errorf("%w: single_link payload requires item", ErrInvalidPayload)
		}
		return SingleLinkPayload{Item: *wire.Item, Path: wire.Path, FetchPolicy: wire.FetchPolicy}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, wire.Kind)
	}
}

// normalizePath trims a locator and applies the fallback.
func normalizePath(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	return path
}

// normalizeFetchPolicy canonicalizes fetch policies, defaulting to lazy.
func normalizeFetchPolicy(policy FetchPolicy) (FetchPolicy, error) {
	policy = FetchPolicy(strings.TrimSpace(strings.ToLower(string(policy))))
	switch policy {
	case "":
		return FetchPolicyLazy, nil
	case FetchPolicyLazy, FetchPolicyEager:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFetchPolicy, policy)
	}
}

// normalizeEntityRef trims and validates one entity reference.
func normalizeEntityRef(ref EntityRef) (EntityRef, error) {
	ref.EntityType = EntityType(strings.TrimSpace(strings.ToLower(string(ref.EntityType))))
	ref.EntityID = strings.TrimSpace(ref.EntityID)
	if ref.EntityType == "" || ref.EntityID == "" {
		return EntityRef{}, fmt.Errorf("%w: entity reference requires type and id", ErrInvalidPayload)
	}
	return ref, nil
}
