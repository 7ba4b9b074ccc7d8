package app

import (
	"strconv"
	"testing"

	"github.com/hylla/blockenv/internal/domain"
)

func hdr(blockID string, ts int64) domain.OperationHeader {
	return domain.OperationHeader{BlockID: blockID, Timestamp: ts}
}

// opSignature renders kind@timestamp pairs for comparison.
func opSignature(ops []domain.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, string(op.Kind())+"@"+op.Header().BlockID+"@"+strconv.FormatInt(op.Header().Timestamp, 10))
	}
	return out
}

func assertSignature(t *testing.T, got []domain.Operation, want ...string) {
	t.Helper()
	sig := opSignature(got)
	if len(sig) != len(want) {
		t.Fatalf("operations = %v, want %v", sig, want)
	}
	for idx := range want {
		if sig[idx] != want[idx] {
			t.Fatalf("operations = %v, want %v", sig, want)
		}
	}
}

// TestReduceBlockOperations covers every compaction rule.
func TestReduceBlockOperations(t *testing.T) {
	name := "renamed"
	cases := []struct {
		name string
		ops  []domain.Operation
		want []string
	}{
		{
			name: "add then remove",
			ops:  []domain.Operation{domain.AddOperation{OperationHeader: hdr("b", 1), TypeKey: "note"}, domain.RemoveOperation{OperationHeader: hdr("b", 2)}},
		},
		{
			name: "remove then add",
			ops:  []domain.Operation{domain.RemoveOperation{OperationHeader: hdr("b", 2)}, domain.AddOperation{OperationHeader: hdr("b", 1), TypeKey: "note"}},
		},
		{
			name: "add first regardless of timestamp",
			ops: []domain.Operation{
				domain.UpdateOperation{OperationHeader: hdr("b", 1), Name: &name},
				domain.AddOperation{OperationHeader: hdr("b", 2), TypeKey: "note"},
				domain.UpdateOperation{OperationHeader: hdr("b", 3), Name: &name},
			},
			want: []string{"ADD@b@2", "UPDATE@b@3"},
		},
		{
			name: "last of each kind",
			ops: []domain.Operation{
				domain.UpdateOperation{OperationHeader: hdr("b", 1), Name: &name},
				domain.ReorderOperation{OperationHeader: hdr("b", 2), ParentID: "p"},
				domain.UpdateOperation{OperationHeader: hdr("b", 3), Name: &name},
				domain.ReorderOperation{OperationHeader: hdr("b", 4), ParentID: "p"},
			},
			want: []string{"UPDATE@b@3", "REORDER@b@4"},
		},
		{
			name: "remove discards others",
			ops: []domain.Operation{
				domain.UpdateOperation{OperationHeader: hdr("b", 1), Name: &name},
				domain.RemoveOperation{OperationHeader: hdr("b", 2)},
				domain.MoveOperation{OperationHeader: hdr("b", 3), ToParentID: "p"},
			},
			want: []string{"REMOVE@b@2"},
		},
		{
			name: "out of order arrival",
			ops: []domain.Operation{
				domain.MoveOperation{OperationHeader: hdr("b", 9), ToParentID: "p2"},
				domain.UpdateOperation{OperationHeader: hdr("b", 4), Name: &name},
				domain.MoveOperation{OperationHeader: hdr("b", 2), ToParentID: "p1"},
			},
			want: []string{"UPDATE@b@4", "MOVE@b@9"},
		},
		{
			name: "equal timestamps use kind priority",
			ops: []domain.Operation{
				domain.ReorderOperation{OperationHeader: hdr("b", 5), ParentID: "p"},
				domain.MoveOperation{OperationHeader: hdr("b", 5), ToParentID: "p"},
				domain.UpdateOperation{OperationHeader: hdr("b", 5), Name: &name},
			},
			want: []string{"UPDATE@b@5", "MOVE@b@5", "REORDER@b@5"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertSignature(t, ReduceBlockOperations(tc.ops), tc.want...)
		})
	}
}

// TestReduceBlockOperationsEqualTimestampSameKind verifies later submissions win ties.
func TestReduceBlockOperationsEqualTimestampSameKind(t *testing.T) {
	first, second := "first", "second"
	got := ReduceBlockOperations([]domain.Operation{
		domain.UpdateOperation{OperationHeader: hdr("b", 7), Name: &first},
		domain.UpdateOperation{OperationHeader: hdr("b", 7), Name: &second},
	})
	if len(got) != 1 || *got[0].(domain.UpdateOperation).Name != "second" {
		t.Fatalf("expected later submission to win, got %#v", got)
	}
}

// TestFilterThenNormalizeDropsCascadedChildren verifies doomed child operations vanish.
func TestFilterThenNormalizeDropsCascadedChildren(t *testing.T) {
	ops := []domain.Operation{
		domain.AddOperation{OperationHeader: hdr("child", 1), ParentID: "parent", TypeKey: "note"},
		domain.MoveOperation{OperationHeader: hdr("child", 2), ToParentID: "parent"},
		domain.RemoveOperation{OperationHeader: hdr("parent", 3), ChildrenIDs: map[string]string{"child": "parent"}},
	}
	filtered := FilterCascadeDeletedOperations(ops)
	assertSignature(t, filtered, "REMOVE@parent@3")

	normalized := NormalizeOperations(filtered)
	if len(normalized) != 1 {
		t.Fatalf("expected only parent group, got %#v", normalized)
	}
	assertSignature(t, normalized["parent"], "REMOVE@parent@3")
}

// TestFilterKeepsNestedRemoves verifies REMOVE operations survive their own cascade.
func TestFilterKeepsNestedRemoves(t *testing.T) {
	ops := []domain.Operation{
		domain.RemoveOperation{OperationHeader: hdr("child", 1)},
		domain.RemoveOperation{OperationHeader: hdr("parent", 2), ChildrenIDs: map[string]string{"child": "parent"}},
	}
	assertSignature(t, FilterCascadeDeletedOperations(ops), "REMOVE@child@1", "REMOVE@parent@2")
}

// TestNormalizeOperationsOmitsEmptyGroups verifies created-then-removed blocks disappear.
func TestNormalizeOperationsOmitsEmptyGroups(t *testing.T) {
	name := "n"
	normalized := NormalizeOperations([]domain.Operation{
		domain.AddOperation{OperationHeader: hdr("tmp", 1), TypeKey: "note"},
		domain.UpdateOperation{OperationHeader: hdr("keep", 2), Name: &name},
		domain.RemoveOperation{OperationHeader: hdr("tmp", 3)},
	})
	if _, ok := normalized["tmp"]; ok {
		t.Fatal("expected tmp group to be omitted")
	}
	assertSignature(t, normalized["keep"], "UPDATE@keep@2")
}

// TestPlanApplyOrder verifies parents are added before dependents and groups stay ordered.
func TestPlanApplyOrder(t *testing.T) {
	name := "n"
	normalized := map[string][]domain.Operation{
		"child": {
			domain.AddOperation{OperationHeader: hdr("child", 5), ParentID: "parent", TypeKey: "note"},
			domain.UpdateOperation{OperationHeader: hdr("child", 3), Name: &name},
		},
		"parent": {
			domain.AddOperation{OperationHeader: hdr("parent", 1), TypeKey: "section"},
		},
		"other": {
			domain.MoveOperation{OperationHeader: hdr("other", 2), ToParentID: "parent"},
		},
	}
	assertSignature(t, PlanApplyOrder(normalized), "ADD@parent@1", "MOVE@other@2", "ADD@child@5", "UPDATE@child@3")
}

// TestPlanApplyOrderKeepsAddsInTimestampOrder verifies an early UPDATE on a
// block does not pull its ADD ahead of the parent's ADD.
func TestPlanApplyOrderKeepsAddsInTimestampOrder(t *testing.T) {
	name := "n"
	normalized := NormalizeOperations([]domain.Operation{
		domain.UpdateOperation{OperationHeader: hdr("tmp-child", 1), Name: &name},
		domain.AddOperation{OperationHeader: hdr("tmp-parent", 3), TypeKey: "section"},
		domain.AddOperation{OperationHeader: hdr("tmp-child", 5), ParentID: "tmp-parent", TypeKey: "note"},
	})
	assertSignature(t, PlanApplyOrder(normalized), "ADD@tmp-parent@3", "ADD@tmp-child@5", "UPDATE@tmp-child@1")
}
