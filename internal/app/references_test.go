package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/hylla/blockenv/internal/domain"
)

// sequenceIDs returns an IDGenerator yielding prefix-1, prefix-2, ...
func sequenceIDs(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// stubResolver returns fixed entities for one entity type.
type stubResolver struct {
	entityType domain.EntityType
	entities   map[string]domain.Referenceable
	calls      [][]string
}

func (s *stubResolver) EntityType() domain.EntityType { return s.entityType }

func (s *stubResolver) Fetch(_ context.Context, ids []string, _ string) (map[string]domain.Referenceable, error) {
	s.calls = append(s.calls, slices.Clone(ids))
	out := map[string]domain.Referenceable{}
	for _, id := range ids {
		if entity, ok := s.entities[id]; ok {
			out[id] = entity
		}
	}
	return out, nil
}

func contact(id string) domain.EntityRef {
	return domain.EntityRef{EntityType: "contact", EntityID: id}
}

// listRows returns stored rows under $.items ordered by path.
func listRows(repo *fakeRepo, blockID string) []domain.ReferenceEdge {
	rows, _ := repo.ListReferencesByPathPrefix(context.Background(), blockID, "$.items[")
	return rows
}

// TestUpsertLinksForReorderRecreatesRows verifies path identity forces delete and reinsert.
func TestUpsertLinksForReorderRecreatesRows(t *testing.T) {
	repo := newFakeRepo()
	refs := NewReferenceManager(repo, nil, sequenceIDs("ref"))
	block := domain.Block{ID: "b1", OrganisationID: "org-1"}
	ctx := context.Background()

	initial := domain.EntityListPayload{Items: []domain.EntityRef{contact("A"), contact("B"), contact("C")}}
	if err := refs.UpsertLinksFor(ctx, block, initial); err != nil {
		t.Fatalf("UpsertLinksFor() error = %v", err)
	}
	before := listRows(repo, "b1")
	if len(before) != 3 {
		t.Fatalf("expected 3 rows, got %#v", before)
	}

	reordered := domain.EntityListPayload{Items: []domain.EntityRef{contact("C"), contact("A"), contact("B")}}
	if err := refs.UpsertLinksFor(ctx, block, reordered); err != nil {
		t.Fatalf("UpsertLinksFor() reorder error = %v", err)
	}
	after := listRows(repo, "b1")
	if len(after) != 3 {
		t.Fatalf("expected 3 rows, got %#v", after)
	}
	for _, row := range after {
		for _, old := range before {
			if row.ID == old.ID {
				t.Fatalf("expected every row recreated, %s survived", row.ID)
			}
		}
	}
	want := []string{"C", "A", "B"}
	for idx, row := range after {
		if row.EntityID != want[idx] || row.OrderIndex == nil || *row.OrderIndex != idx || row.Path != domain.ItemPath("$.items", idx) {
			t.Fatalf("row %d = %#v, want %s at %d", idx, row, want[idx], idx)
		}
	}
}

// TestUpsertLinksForKeepsUnchangedRows verifies identical rows are untouched.
func TestUpsertLinksForKeepsUnchangedRows(t *testing.T) {
	repo := newFakeRepo()
	refs := NewReferenceManager(repo, nil, sequenceIDs("ref"))
	block := domain.Block{ID: "b1"}
	ctx := context.Background()

	if err := refs.UpsertLinksFor(ctx, block, domain.EntityListPayload{Items: []domain.EntityRef{contact("A"), contact("B")}}); err != nil {
		t.Fatalf("UpsertLinksFor() error = %v", err)
	}
	first := listRows(repo, "b1")
	if err := refs.UpsertLinksFor(ctx, block, domain.EntityListPayload{Items: []domain.EntityRef{contact("A"), contact("D")}}); err != nil {
		t.Fatalf("UpsertLinksFor() error = %v", err)
	}
	second := listRows(repo, "b1")
	if len(second) != 2 || second[0].ID != first[0].ID {
		t.Fatalf("expected A row kept, got %#v", second)
	}
	if second[1].EntityID != "D" || second[1].ID == first[1].ID {
		t.Fatalf("expected D row inserted, got %#v", second[1])
	}
}

// TestUpsertLinksForValidation verifies duplicate and item type rules.
func TestUpsertLinksForValidation(t *testing.T) {
	repo := newFakeRepo()
	refs := NewReferenceManager(repo, nil, sequenceIDs("ref"))
	block := domain.Block{ID: "b1"}
	ctx := context.Background()

	dup := domain.EntityListPayload{Items: []domain.EntityRef{contact("A"), contact("A")}}
	if err := refs.UpsertLinksFor(ctx, block, dup); !errors.Is(err, ErrDuplicateNotAllowed) {
		t.Fatalf("expected ErrDuplicateNotAllowed, got %v", err)
	}
	dup.AllowDuplicates = true
	if err := refs.UpsertLinksFor(ctx, block, dup); err != nil {
		t.Fatalf("UpsertLinksFor() with duplicates allowed error = %v", err)
	}
	if len(listRows(repo, "b1")) != 2 {
		t.Fatal("expected two duplicate rows")
	}

	blockLink := domain.EntityListPayload{Items: []domain.EntityRef{{EntityType: domain.EntityTypeBlock, EntityID: "x"}}}
	if err := refs.UpsertLinksFor(ctx, block, blockLink); !errors.Is(err, ErrInvalidItemType) {
		t.Fatalf("expected ErrInvalidItemType, got %v", err)
	}
}

// TestFindListReferencesLazyRoundTrip verifies payload order and lazy warnings.
func TestFindListReferencesLazyRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	refs := NewReferenceManager(repo, nil, sequenceIDs("ref"))
	block := domain.Block{ID: "b1"}
	ctx := context.Background()
	payload := domain.EntityListPayload{Items: []domain.EntityRef{contact("Z"), contact("A"), contact("M")}, FetchPolicy: domain.FetchPolicyLazy}
	if err := refs.UpsertLinksFor(ctx, block, payload); err != nil {
		t.Fatalf("UpsertLinksFor() error = %v", err)
	}

	got, err := refs.FindListReferences(ctx, "b1", payload, "org-1")
	if err != nil {
		t.Fatalf("FindListReferences() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 refs, got %#v", got)
	}
	for idx, ref := range got {
		if ref.EntityID != payload.Items[idx].EntityID {
			t.Fatalf("ref %d = %s, want %s", idx, ref.EntityID, payload.Items[idx].EntityID)
		}
		if ref.Warning != domain.ReferenceWarningRequiresLoading || ref.Entity != nil || ref.ID == "" {
			t.Fatalf("unexpected lazy ref %#v", ref)
		}
	}
}

// TestFindListReferencesEager verifies registry resolution and warning annotations.
func TestFindListReferencesEager(t *testing.T) {
	repo := newFakeRepo()
	contacts := &stubResolver{entityType: "contact", entities: map[string]domain.Referenceable{
		"A": {ID: "A", EntityType: "contact", Label: "Alice"},
	}}
	registry, err := NewResolverRegistry(contacts)
	if err != nil {
		t.Fatalf("NewResolverRegistry() error = %v", err)
	}
	refs := NewReferenceManager(repo, registry, sequenceIDs("ref"))
	ctx := context.Background()
	stored := domain.EntityListPayload{Items: []domain.EntityRef{contact("A"), contact("gone"), {EntityType: "invoice", EntityID: "i1"}}}
	if err := refs.UpsertLinksFor(ctx, domain.Block{ID: "b1"}, stored); err != nil {
		t.Fatalf("UpsertLinksFor() error = %v", err)
	}

	read := stored
	read.Items = append(slices.Clone(stored.Items), contact("never-stored"))
	read.FetchPolicy = domain.FetchPolicyEager
	got, err := refs.FindListReferences(ctx, "b1", read, "org-1")
	if err != nil {
		t.Fatalf("FindListReferences() error = %v", err)
	}
	if got[0].Entity == nil || got[0].Entity.Label != "Alice" || got[0].Warning != domain.ReferenceWarningNone {
		t.Fatalf("expected resolved Alice, got %#v", got[0])
	}
	if got[1].Warning != domain.ReferenceWarningMissing {
		t.Fatalf("expected unresolved entity marked missing, got %#v", got[1])
	}
	if got[2].Warning != domain.ReferenceWarningUnsupported {
		t.Fatalf("expected unsupported type, got %#v", got[2])
	}
	if got[3].Warning != domain.ReferenceWarningMissing || got[3].ID != "" {
		t.Fatalf("expected missing row, got %#v", got[3])
	}
	if len(contacts.calls) != 1 || !slices.Equal(contacts.calls[0], []string{"A", "gone"}) {
		t.Fatalf("expected one batched fetch, got %#v", contacts.calls)
	}
}

// TestUpsertBlockLinkFor verifies in-place update and integrity checks.
func TestUpsertBlockLinkFor(t *testing.T) {
	repo := newFakeRepo()
	refs := NewReferenceManager(repo, nil, sequenceIDs("ref"))
	block := domain.Block{ID: "b1"}
	ctx := context.Background()

	link := domain.SingleLinkPayload{Item: domain.EntityRef{EntityType: domain.EntityTypeBlock, EntityID: "t1"}}
	if err := refs.UpsertBlockLinkFor(ctx, block, link); err != nil {
		t.Fatalf("UpsertBlockLinkFor() error = %v", err)
	}
	link.Item.EntityID = "t2"
	if err := refs.UpsertBlockLinkFor(ctx, block, link); err != nil {
		t.Fatalf("UpsertBlockLinkFor() update error = %v", err)
	}
	if len(repo.refs) != 1 || repo.refs["ref-1"].EntityID != "t2" || repo.refs["ref-1"].OrderIndex != nil {
		t.Fatalf("expected single row updated in place, got %#v", repo.refs)
	}

	_, row, err := refs.FindBlockLink(ctx, "b1", link, "org-1")
	if err != nil || row == nil || row.ID != "ref-1" {
		t.Fatalf("FindBlockLink() = %#v, %v", row, err)
	}

	if err := refs.UpsertBlockLinkFor(ctx, block, domain.SingleLinkPayload{Item: contact("A")}); !errors.Is(err, ErrInvalidItemType) {
		t.Fatalf("expected ErrInvalidItemType, got %v", err)
	}

	repo.refs["ref-x"] = domain.ReferenceEdge{ID: "ref-x", BlockID: "b1", EntityType: domain.EntityTypeBlock, EntityID: "t3", Path: domain.DefaultLinkPath}
	if err := refs.UpsertBlockLinkFor(ctx, block, link); !errors.Is(err, ErrMultipleRowsAtPath) {
		t.Fatalf("expected ErrMultipleRowsAtPath, got %v", err)
	}
	if _, _, err := refs.FindBlockLink(ctx, "b1", link, "org-1"); !errors.Is(err, ErrMultipleRowsAtPath) {
		t.Fatalf("expected ErrMultipleRowsAtPath from FindBlockLink, got %v", err)
	}
}

// TestFindBlockLinkEagerUsesBlockResolver verifies block links resolve within the organisation.
func TestFindBlockLinkEagerUsesBlockResolver(t *testing.T) {
	repo := newFakeRepo()
	repo.seedBlock("target", "org-1", "contact_card", nil)
	repo.seedBlock("foreign", "org-2", "contact_card", nil)
	registry, err := NewResolverRegistry(NewBlockResolver(repo))
	if err != nil {
		t.Fatalf("NewResolverRegistry() error = %v", err)
	}
	refs := NewReferenceManager(repo, registry, sequenceIDs("ref"))
	ctx := context.Background()

	link := domain.SingleLinkPayload{Item: domain.EntityRef{EntityType: domain.EntityTypeBlock, EntityID: "target"}, FetchPolicy: domain.FetchPolicyEager}
	if err := refs.UpsertBlockLinkFor(ctx, domain.Block{ID: "b1"}, link); err != nil {
		t.Fatalf("UpsertBlockLinkFor() error = %v", err)
	}
	got, _, err := refs.FindBlockLink(ctx, "b1", link, "org-1")
	if err != nil {
		t.Fatalf("FindBlockLink() error = %v", err)
	}
	if got.Entity == nil || got.Entity.ID != "target" || got.Entity.Attributes["type_key"] != "contact_card" {
		t.Fatalf("unexpected resolved link %#v", got)
	}

	foreign := link
	foreign.Item.EntityID = "foreign"
	if err := refs.UpsertBlockLinkFor(ctx, domain.Block{ID: "b2"}, foreign); err != nil {
		t.Fatalf("UpsertBlockLinkFor() error = %v", err)
	}
	got, _, err = refs.FindBlockLink(ctx, "b2", foreign, "org-1")
	if err != nil || got.Warning != domain.ReferenceWarningMissing {
		t.Fatalf("expected cross-organisation link missing, got %#v, %v", got, err)
	}
}

// TestResolverRegistryRejectsDuplicates verifies one resolver per entity type.
func TestResolverRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewResolverRegistry(&stubResolver{entityType: "contact"}, &stubResolver{entityType: "Contact"})
	if !errors.Is(err, ErrDuplicateResolver) {
		t.Fatalf("expected ErrDuplicateResolver, got %v", err)
	}
	registry, err := NewResolverRegistry(&stubResolver{entityType: "contact"}, NewBlockResolver(newFakeRepo()))
	if err != nil {
		t.Fatalf("NewResolverRegistry() error = %v", err)
	}
	if got := registry.EntityTypes(); !slices.Equal(got, []domain.EntityType{"block", "contact"}) {
		t.Fatalf("unexpected entity types %#v", got)
	}
}
