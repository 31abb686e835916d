package tree

import "sort"

// Forest is an arena view of part of the tree: nodes by id plus a separately
// built parent → children index. Nodes do not point at each other, so a
// Forest can be walked, filtered and serialized without recursion and
// without shared mutable graphs.
type Forest struct {
	Roots    []int64
	Nodes    map[int64]*Node
	Children map[int64][]int64
}

// NewForest indexes nodes. Any node whose parent is not in the set becomes a
// root of the view. Siblings are ordered by order index, then id.
func NewForest(nodes []*Node) *Forest {
	f := &Forest{
		Nodes:    make(map[int64]*Node, len(nodes)),
		Children: make(map[int64][]int64),
	}
	for _, n := range nodes {
		f.Nodes[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID != nil {
			if _, ok := f.Nodes[*n.ParentID]; ok {
				f.Children[*n.ParentID] = append(f.Children[*n.ParentID], n.ID)
				continue
			}
		}
		f.Roots = append(f.Roots, n.ID)
	}
	f.sortIDs(f.Roots)
	for _, ids := range f.Children {
		f.sortIDs(ids)
	}
	return f
}

func (f *Forest) sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := f.Nodes[ids[i]], f.Nodes[ids[j]]
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		return a.ID < b.ID
	})
}

// Len returns the number of nodes in the view.
func (f *Forest) Len() int { return len(f.Nodes) }

// Walk visits nodes depth-first in sibling order using an explicit stack.
// level is the distance from the view root. Returning false from fn skips
// the node's children.
func (f *Forest) Walk(fn func(n *Node, level int) bool) {
	type frame struct {
		id    int64
		level int
	}
	stack := make([]frame, 0, len(f.Roots))
	for i := len(f.Roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{f.Roots[i], 0})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.Nodes[top.id], top.level) {
			continue
		}
		kids := f.Children[top.id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{kids[i], top.level + 1})
		}
	}
}

// BottomUp returns node ids ordered so every child precedes its parent.
// Useful for assembling nested documents without recursion.
func (f *Forest) BottomUp() []int64 {
	order := make([]int64, 0, len(f.Nodes))
	f.Walk(func(n *Node, _ int) bool {
		order = append(order, n.ID)
		return true
	})
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
