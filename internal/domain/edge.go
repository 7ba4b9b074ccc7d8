package domain

import "sort"

// Edge is a parent-to-child relationship with an explicit sibling order.
// A child has at most one edge; per parent, OrderIndex values are 0..n-1.
type Edge struct {
	ParentID   string `json:"parent_id"`
	ChildID    string `json:"child_id"`
	OrderIndex int    `json:"order_index"`
}

// SortEdges orders edges by OrderIndex, breaking ties by child id.
func SortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].OrderIndex == edges[j].OrderIndex {
			return edges[i].ChildID < edges[j].ChildID
		}
		return edges[i].OrderIndex < edges[j].OrderIndex
	})
}
