package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/arbor/internal/tree"
)

// GetTree returns the subtree under rootID (the whole forest when nil) down
// to maxDepth levels below the root(s); maxDepth <= 0 is unbounded.
// The result comes from one descendant fetch assembled into a Forest.
func (e *Engine) GetTree(ctx context.Context, rootID *int64, maxDepth int) (*tree.Forest, error) {
	if rootID == nil {
		all, err := e.store.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tree: %w", err)
		}
		if maxDepth > 0 {
			kept := all[:0]
			for _, n := range all {
				if n.Depth <= maxDepth {
					kept = append(kept, n)
				}
			}
			all = kept
		}
		return tree.NewForest(all), nil
	}

	root, err := e.store.GetByID(ctx, *rootID)
	if err != nil {
		return nil, fmt.Errorf("get tree %d: %w", *rootID, err)
	}
	if root == nil {
		return nil, fmt.Errorf("get tree %d: %w", *rootID, tree.ErrNotFound)
	}
	desc, err := e.store.Descendants(ctx, root.ID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("get tree %d: %w", *rootID, err)
	}
	return tree.NewForest(append([]*tree.Node{root}, desc...)), nil
}

// GetPathToNode returns the ancestors of id root first, with the node last.
func (e *Engine) GetPathToNode(ctx context.Context, id int64) ([]*tree.Node, error) {
	n, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("path to node %d: %w", id, err)
	}
	if n == nil {
		return nil, fmt.Errorf("path to node %d: %w", id, tree.ErrNotFound)
	}
	anc, err := e.store.Ancestors(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("path to node %d: %w", id, err)
	}
	return append(anc, n), nil
}

// NodeStats describes one node's place in the tree.
type NodeStats struct {
	NodeID              int64 `json:"node_id"`
	ChildCount          int   `json:"child_count"`
	DescendantCount     int   `json:"descendant_count"`
	Depth               int   `json:"depth"`
	IsLeaf              bool  `json:"is_leaf"`
	ContentCount        int   `json:"content_count"`
	SubtreeContentCount int   `json:"subtree_content_count"`
}

// GetStatistics aggregates counts for one node from a single subtree fetch.
func (e *Engine) GetStatistics(ctx context.Context, id int64) (*NodeStats, error) {
	n, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("statistics of node %d: %w", id, err)
	}
	if n == nil {
		return nil, fmt.Errorf("statistics of node %d: %w", id, tree.ErrNotFound)
	}
	desc, err := e.store.Descendants(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("statistics of node %d: %w", id, err)
	}

	st := &NodeStats{
		NodeID:              id,
		DescendantCount:     len(desc),
		Depth:               n.Depth,
		ContentCount:        n.ContentCount,
		SubtreeContentCount: n.ContentCount,
	}
	for _, d := range desc {
		if d.ParentKey() == id {
			st.ChildCount++
		}
		st.SubtreeContentCount += d.ContentCount
	}
	st.IsLeaf = st.ChildCount == 0
	return st, nil
}

// TreeStats summarizes the whole forest.
type TreeStats struct {
	TotalNodes     int     `json:"total_nodes"`
	ActiveNodes    int     `json:"active_nodes"`
	RootCount      int     `json:"root_count"`
	MaxDepth       int     `json:"max_depth"`
	NodesPerLevel  []int   `json:"nodes_per_level"` // index is depth
	TotalContent   int     `json:"total_content"`
	AverageContent float64 `json:"average_content"`
}

// GetTreeStatistics aggregates over every live node.
func (e *Engine) GetTreeStatistics(ctx context.Context) (*TreeStats, error) {
	all, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("tree statistics: %w", err)
	}
	st := &TreeStats{TotalNodes: len(all)}
	for _, n := range all {
		if n.IsActive {
			st.ActiveNodes++
		}
		if n.IsRoot() {
			st.RootCount++
		}
		if n.Depth > st.MaxDepth {
			st.MaxDepth = n.Depth
		}
		for len(st.NodesPerLevel) <= n.Depth {
			st.NodesPerLevel = append(st.NodesPerLevel, 0)
		}
		st.NodesPerLevel[n.Depth]++
		st.TotalContent += n.ContentCount
	}
	if st.TotalNodes > 0 {
		st.AverageContent = float64(st.TotalContent) / float64(st.TotalNodes)
	}
	return st, nil
}

// Violation is one broken invariant found by CheckConsistency.
type Violation struct {
	NodeID int64  `json:"node_id"`
	Kind   string `json:"kind"` // unreachable, path, depth, order
	Detail string `json:"detail"`
}

// CheckConsistency verifies the structural invariants without writing.
// Repair is RebuildPaths.
func (e *Engine) CheckConsistency(ctx context.Context) ([]Violation, error) {
	all, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("check consistency: %w", err)
	}
	want, unreachable := expectedPaths(all)

	var out []Violation
	for _, id := range unreachable {
		out = append(out, Violation{NodeID: id, Kind: "unreachable", Detail: "parent chain does not reach a live root"})
	}

	type scope struct {
		parent int64
		order  int
	}
	holder := make(map[scope]int64)
	for _, n := range all {
		if w, ok := want[n.ID]; ok && w.Path != n.Path {
			out = append(out, Violation{NodeID: n.ID, Kind: "path",
				Detail: fmt.Sprintf("path %q, expected %q", n.Path, w.Path)})
		}
		ancestors, err := tree.ParsePath(n.Path)
		switch {
		case err != nil:
			out = append(out, Violation{NodeID: n.ID, Kind: "path", Detail: err.Error()})
		case len(ancestors) != n.Depth:
			out = append(out, Violation{NodeID: n.ID, Kind: "depth",
				Detail: fmt.Sprintf("depth %d, path has %d ancestors", n.Depth, len(ancestors))})
		case tree.Contains(n.Path, n.ID):
			out = append(out, Violation{NodeID: n.ID, Kind: "path", Detail: "path contains the node itself"})
		}

		k := scope{n.ParentKey(), n.OrderIndex}
		if other, dup := holder[k]; dup {
			out = append(out, Violation{NodeID: n.ID, Kind: "order",
				Detail: fmt.Sprintf("order index %d shared with node %d", n.OrderIndex, other)})
			continue
		}
		holder[k] = n.ID
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Passthroughs for content services
// ---------------------------------------------------------------------------

// Get returns a live node or ErrNotFound.
func (e *Engine) Get(ctx context.Context, id int64) (*tree.Node, error) {
	n, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get node %d: %w", id, err)
	}
	if n == nil {
		return nil, fmt.Errorf("get node %d: %w", id, tree.ErrNotFound)
	}
	return n, nil
}

// GetByCode finds a node by business code within a sibling scope.
func (e *Engine) GetByCode(ctx context.Context, parentID *int64, code string) (*tree.Node, error) {
	n, err := e.store.GetByCode(ctx, parentID, code)
	if err != nil {
		return nil, fmt.Errorf("get node by code %q: %w", code, err)
	}
	if n == nil {
		return nil, fmt.Errorf("get node by code %q: %w", code, tree.ErrNotFound)
	}
	return n, nil
}

func (e *Engine) Roots(ctx context.Context) ([]*tree.Node, error) {
	return e.store.Roots(ctx)
}

func (e *Engine) Children(ctx context.Context, parentID int64) ([]*tree.Node, error) {
	return e.store.Children(ctx, parentID)
}

func (e *Engine) Ancestors(ctx context.Context, id int64) ([]*tree.Node, error) {
	return e.store.Ancestors(ctx, id)
}

func (e *Engine) Descendants(ctx context.Context, id int64, maxDepth int) ([]*tree.Node, error) {
	return e.store.Descendants(ctx, id, maxDepth)
}

func (e *Engine) CountDescendants(ctx context.Context, id int64) (int, error) {
	return e.store.CountDescendants(ctx, id)
}

func (e *Engine) Search(ctx context.Context, term string) ([]*tree.Node, error) {
	return e.store.Search(ctx, term)
}

func (e *Engine) ByType(ctx context.Context, typeID int64) ([]*tree.Node, error) {
	return e.store.ByType(ctx, typeID)
}

// SubtreeIDs returns the ids of id and all its live descendants as a bitmap,
// the shape content services use to filter linked items by category.
func (e *Engine) SubtreeIDs(ctx context.Context, id int64) (*roaring64.Bitmap, error) {
	n, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	desc, err := e.store.Descendants(ctx, n.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("subtree of node %d: %w", id, err)
	}
	bm := roaring64.BitmapOf(uint64(n.ID))
	for _, d := range desc {
		bm.Add(uint64(d.ID))
	}
	return bm, nil
}
