package app

import (
	"cmp"
	"math"
	"slices"

	"github.com/hylla/blockenv/internal/domain"
)

// FilterCascadeDeletedOperations drops operations targeting blocks that a
// REMOVE in the same batch already deletes through its cascade set. REMOVE
// operations are always kept.
func FilterCascadeDeletedOperations(ops []domain.Operation) []domain.Operation {
	doomed := map[string]struct{}{}
	for _, op := range ops {
		remove, ok := op.(domain.RemoveOperation)
		if !ok {
			continue
		}
		for childID := range remove.ChildrenIDs {
			doomed[childID] = struct{}{}
		}
	}
	if len(doomed) == 0 {
		return slices.Clone(ops)
	}
	out := make([]domain.Operation, 0, len(ops))
	for _, op := range ops {
		if op.Kind() != domain.OperationRemove {
			if _, ok := doomed[op.Header().BlockID]; ok {
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

// NormalizeOperations groups operations by block id and reduces each group.
// Blocks whose reduction is empty are omitted.
func NormalizeOperations(ops []domain.Operation) map[string][]domain.Operation {
	groups := map[string][]domain.Operation{}
	for _, op := range ops {
		blockID := op.Header().BlockID
		groups[blockID] = append(groups[blockID], op)
	}
	out := make(map[string][]domain.Operation, len(groups))
	for blockID, group := range groups {
		if reduced := ReduceBlockOperations(group); len(reduced) > 0 {
			out[blockID] = reduced
		}
	}
	return out
}

// ReduceBlockOperations compacts the operations of one block:
//
//	ADD and REMOVE     -> nothing
//	REMOVE             -> [REMOVE]
//	ADD                -> [ADD, last of each other kind by timestamp]
//	otherwise          -> [last of each kind by timestamp]
//
// Operations sharing a timestamp are ordered by kind priority and then by
// submission order.
func ReduceBlockOperations(ops []domain.Operation) []domain.Operation {
	if len(ops) == 0 {
		return nil
	}
	ordered := slices.Clone(ops)
	slices.SortStableFunc(ordered, compareOperations)

	last := map[domain.OperationKind]domain.Operation{}
	for _, op := range ordered {
		last[op.Kind()] = op
	}
	add, hasAdd := last[domain.OperationAdd]
	remove, hasRemove := last[domain.OperationRemove]
	switch {
	case hasAdd && hasRemove:
		return nil
	case hasRemove:
		return []domain.Operation{remove}
	}

	rest := make([]domain.Operation, 0, len(last))
	for kind, op := range last {
		if kind == domain.OperationAdd {
			continue
		}
		rest = append(rest, op)
	}
	slices.SortStableFunc(rest, compareOperations)
	if hasAdd {
		return append([]domain.Operation{add}, rest...)
	}
	return rest
}

// PlanApplyOrder flattens a normalized batch into one apply sequence. An ADD
// sorts at its own timestamp, so adds across blocks keep their submitted
// order. The rest of an ADD's group sorts no earlier than the ADD itself.
// Ties break on kind priority, block id and then group order.
func PlanApplyOrder(normalized map[string][]domain.Operation) []domain.Operation {
	type planned struct {
		key int64
		seq int
		op  domain.Operation
	}
	items := make([]planned, 0, len(normalized))
	for _, group := range normalized {
		floor := int64(math.MinInt64)
		for _, op := range group {
			if op.Kind() == domain.OperationAdd {
				floor = op.Header().Timestamp
			}
		}
		for seq, op := range group {
			items = append(items, planned{key: max(op.Header().Timestamp, floor), seq: seq, op: op})
		}
	}
	slices.SortFunc(items, func(a, b planned) int {
		return cmp.Or(
			cmp.Compare(a.key, b.key),
			cmp.Compare(a.op.Kind().Priority(), b.op.Kind().Priority()),
			cmp.Compare(a.op.Header().BlockID, b.op.Header().BlockID),
			cmp.Compare(a.seq, b.seq),
		)
	})
	out := make([]domain.Operation, 0, len(items))
	for _, item := range items {
		out = append(out, item.op)
	}
	return out
}

// compareOperations orders by timestamp then kind priority.
func compareOperations(a, b domain.Operation) int {
	return cmp.Or(
		cmp.Compare(a.Header().Timestamp, b.Header().Timestamp),
		cmp.Compare(a.Kind().Priority(), b.Kind().Priority()),
	)
}
