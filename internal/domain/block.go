package domain

import (
	"slices"
	"strings"
	"time"
)

// Strictness controls how schema issues are treated when a block is persisted.
type Strictness string

// Strictness values.
const (
	StrictnessNone   Strictness = "none"
	StrictnessSoft   Strictness = "soft"
	StrictnessStrict Strictness = "strict"
)

var validStrictness = []Strictness{StrictnessNone, StrictnessSoft, StrictnessStrict}

// NestingRule governs which child type keys a parent accepts and how many.
type NestingRule struct {
	Max             *int     `json:"max,omitempty" toml:"max"`
	AllowedTypeKeys []string `json:"allowed_type_keys" toml:"allowed_type_keys"`
}

// Allows reports whether a child with the given type key may be nested.
func (r NestingRule) Allows(typeKey string) bool {
	return slices.Contains(r.AllowedTypeKeys, NormalizeTypeKey(typeKey))
}

// Full reports whether a parent already holding count children is at capacity.
func (r NestingRule) Full(count int) bool {
	return r.Max != nil && count >= *r.Max
}

// BlockType is the catalog entry describing one kind of block.
type BlockType struct {
	ID             string
	Key            string
	Version        int
	OrganisationID string
	SchemaJSON     string
	Nesting        *NestingRule
	Strictness     Strictness
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BlockTypeInput holds write-time values for a block type.
type BlockTypeInput struct {
	ID             string
	Key            string
	Version        int
	OrganisationID string
	SchemaJSON     string
	Nesting        *NestingRule
	Strictness     Strictness
}

// NewBlockType validates and normalizes one block type definition.
func NewBlockType(in BlockTypeInput, now time.Time) (BlockType, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return BlockType{}, ErrInvalidID
	}
	key := NormalizeTypeKey(in.Key)
	if key == "" {
		return BlockType{}, ErrInvalidTypeKey
	}
	if in.Version <= 0 {
		in.Version = 1
	}
	strictness := Strictness(strings.TrimSpace(strings.ToLower(string(in.Strictness))))
	if strictness == "" {
		strictness = StrictnessSoft
	}
	if !slices.Contains(validStrictness, strictness) {
		return BlockType{}, ErrInvalidStrictness
	}
	nesting, err := normalizeNestingRule(in.Nesting)
	if err != nil {
		return BlockType{}, err
	}
	ts := now.UTC()
	return BlockType{
		ID:             in.ID,
		Key:            key,
		Version:        in.Version,
		OrganisationID: strings.TrimSpace(in.OrganisationID),
		SchemaJSON:     strings.TrimSpace(in.SchemaJSON),
		Nesting:        nesting,
		Strictness:     strictness,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}, nil
}

// AvailableTo reports whether the type may be used inside an organisation.
// Types without an organisation are shared system types.
func (t BlockType) AvailableTo(organisationID string) bool {
	return t.OrganisationID == "" || t.OrganisationID == organisationID
}

// Block is a typed unit of content or reference and the node type of the tree.
type Block struct {
	ID             string
	OrganisationID string
	LayoutID       string
	Type           BlockType
	Name           string
	Payload        Payload
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BlockInput holds write-time values for creating a block.
type BlockInput struct {
	ID             string
	OrganisationID string
	LayoutID       string
	Type           BlockType
	Name           string
	Payload        Payload
}

// NewBlock validates and normalizes a new block.
func NewBlock(in BlockInput, now time.Time) (Block, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.OrganisationID = strings.TrimSpace(in.OrganisationID)
	if in.ID == "" || in.OrganisationID == "" {
		return Block{}, ErrInvalidID
	}
	if in.Type.Key == "" {
		return Block{}, ErrInvalidTypeKey
	}
	if in.Payload == nil {
		in.Payload = ContentPayload{Data: map[string]any{}}
	}
	payload, err := NormalizePayload(in.Payload)
	if err != nil {
		return Block{}, err
	}
	ts := now.UTC()
	return Block{
		ID:             in.ID,
		OrganisationID: in.OrganisationID,
		LayoutID:       strings.TrimSpace(in.LayoutID),
		Type:           in.Type,
		Name:           strings.TrimSpace(in.Name),
		Payload:        payload,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}, nil
}

// ApplyUpdate merges a new name and payload into the block.
// Content payloads are deep merged; link payloads are replaced.
func (b *Block) ApplyUpdate(name *string, payload Payload, now time.Time) error {
	if name != nil {
		b.Name = strings.TrimSpace(*name)
	}
	if payload != nil {
		if b.Payload != nil && PayloadKindOf(b.Payload) != PayloadKindOf(payload) {
			return ErrPayloadKindChanged
		}
		next, err := NormalizePayload(payload)
		if err != nil {
			return err
		}
		switch current := b.Payload.(type) {
		case ContentPayload:
			update := next.(ContentPayload)
			b.Payload = ContentPayload{Data: DeepMerge(current.Data, update.Data)}
		case EntityListPayload, SingleLinkPayload, nil:
			b.Payload = next
		}
	}
	b.UpdatedAt = now.UTC()
	return nil
}

// NormalizeTypeKey canonicalizes block type keys for storage/lookup.
func NormalizeTypeKey(key string) string {
	return strings.TrimSpace(strings.ToLower(key))
}

// normalizeNestingRule trims and de-duplicates allowed type keys.
func normalizeNestingRule(in *NestingRule) (*NestingRule, error) {
	if in == nil {
		return nil, nil
	}
	if in.Max != nil && *in.Max < 0 {
		return nil, ErrInvalidNestingRule
	}
	out := &NestingRule{AllowedTypeKeys: make([]string, 0, len(in.AllowedTypeKeys))}
	if in.Max != nil {
		limit := *in.Max
		out.Max = &limit
	}
	for _, raw := range in.AllowedTypeKeys {
		key := NormalizeTypeKey(raw)
		if key == "" || slices.Contains(out.AllowedTypeKeys, key) {
			continue
		}
		out.AllowedTypeKeys = append(out.AllowedTypeKeys, key)
	}
	slices.Sort(out.AllowedTypeKeys)
	return out, nil
}
