package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/arbor/internal/tree"
)

// CreateInput describes a new node.
type CreateInput struct {
	ParentID    *int64 // nil creates a root
	Code        string
	Name        string
	Description string
	TypeID      int64
	OrderIndex  int  // 0 appends after the last sibling
	Hidden      bool // created with IsVisible=false
	Inactive    bool // created with IsActive=false
}

// UpdateInput carries content changes. Nil fields are left alone.
// Version, when non-zero, must match the stored version.
type UpdateInput struct {
	Code        *string
	Name        *string
	Description *string
	TypeID      *int64
	IsActive    *bool
	IsVisible   *bool
	Version     int64
}

// MoveInput places a node under a new parent (nil for the root scope).
type MoveInput struct {
	ParentID   *int64
	OrderIndex int   // 0 appends; in the same scope 0 keeps the current slot
	Version    int64 // expected version of the moved node, 0 skips the check
}

// Create validates and inserts a node, assigning path, depth and order.
func (e *Engine) Create(ctx context.Context, actor string, in CreateInput) (*tree.Node, error) {
	var created *tree.Node
	err := e.write(ctx, actor, []int64{scopeKey(in.ParentID)}, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		n, err := createTx(ctx, tx, actor, at, in)
		created = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create node %q: %w", in.Name, err)
	}
	return created, nil
}

func createTx(ctx context.Context, tx tree.Tx, actor string, at time.Time, in CreateInput) (*tree.Node, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	code, err := validateCode(in.Code)
	if err != nil {
		return nil, err
	}
	if err := validateOrder(in.OrderIndex); err != nil {
		return nil, err
	}
	if _, err := usableType(ctx, tx, in.TypeID); err != nil {
		return nil, err
	}
	parent, err := loadParent(ctx, tx, in.ParentID)
	if err != nil {
		return nil, err
	}

	sibs, err := siblings(ctx, tx, in.ParentID)
	if err != nil {
		return nil, err
	}
	if err := checkSiblings(sibs, 0, code, name); err != nil {
		return nil, err
	}

	idx := in.OrderIndex
	if idx == 0 {
		idx = maxOrder(sibs) + 1
	} else if occupied(sibs, 0, idx) {
		if err := tx.ShiftOrder(ctx, in.ParentID, idx, 0, at, actor); err != nil {
			return nil, err
		}
	}

	n := &tree.Node{
		ParentID:    in.ParentID,
		Code:        code,
		Name:        name,
		Description: in.Description,
		TypeID:      in.TypeID,
		OrderIndex:  idx,
		IsActive:    !in.Inactive,
		IsVisible:   !in.Hidden,
		CreatedAt:   at,
		UpdatedAt:   at,
		CreatedBy:   actor,
		UpdatedBy:   actor,
	}
	tree.Materialize(n, parent)
	if err := tx.Insert(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Update applies content changes. Structural fields are never touched here.
func (e *Engine) Update(ctx context.Context, actor string, id int64, in UpdateInput) (*tree.Node, error) {
	cur, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update node %d: %w", id, err)
	}
	if cur == nil {
		return nil, fmt.Errorf("update node %d: %w", id, tree.ErrNotFound)
	}

	var updated *tree.Node
	err = e.write(ctx, actor, []int64{cur.ParentKey()}, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		n, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return tree.ErrNotFound
		}
		if n.ParentKey() != cur.ParentKey() {
			return fmt.Errorf("node moved concurrently: %w", tree.ErrConflict)
		}
		if in.Version != 0 && in.Version != n.Version {
			return fmt.Errorf("version %d, expected %d: %w", n.Version, in.Version, tree.ErrConflict)
		}
		expected := n.Version

		if in.Name != nil {
			if n.Name, err = validateName(*in.Name); err != nil {
				return err
			}
		}
		if in.Code != nil {
			if n.Code, err = validateCode(*in.Code); err != nil {
				return err
			}
		}
		if in.Description != nil {
			n.Description = *in.Description
		}
		if in.IsActive != nil {
			n.IsActive = *in.IsActive
		}
		if in.IsVisible != nil {
			n.IsVisible = *in.IsVisible
		}
		if in.TypeID != nil && *in.TypeID != n.TypeID {
			nt, err := usableType(ctx, tx, *in.TypeID)
			if err != nil {
				return err
			}
			if !nt.AllowsChildren {
				has, err := tx.HasChildren(ctx, id)
				if err != nil {
					return err
				}
				if has {
					return fmt.Errorf("type %q forbids children and node has some: %w", nt.Code, tree.ErrTypeNotAllowed)
				}
			}
			n.TypeID = nt.ID
		}

		if in.Name != nil || in.Code != nil {
			sibs, err := siblings(ctx, tx, n.ParentID)
			if err != nil {
				return err
			}
			if err := checkSiblings(sibs, id, n.Code, n.Name); err != nil {
				return err
			}
		}

		n.UpdatedAt = at
		n.UpdatedBy = actor
		if err := tx.Update(ctx, n, expected); err != nil {
			return err
		}
		updated = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update node %d: %w", id, err)
	}
	return updated, nil
}

// Move re-parents a node and rewrites the path and depth of its whole
// subtree in the same transaction.
func (e *Engine) Move(ctx context.Context, actor string, id int64, in MoveInput) (*tree.Node, error) {
	if err := validateOrder(in.OrderIndex); err != nil {
		return nil, fmt.Errorf("move node %d: %w", id, err)
	}
	if in.ParentID != nil && *in.ParentID == id {
		return nil, fmt.Errorf("move node %d under itself: %w", id, tree.ErrCycleDetected)
	}
	cur, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("move node %d: %w", id, err)
	}
	if cur == nil {
		return nil, fmt.Errorf("move node %d: %w", id, tree.ErrNotFound)
	}

	var moved *tree.Node
	scopes := []int64{cur.ParentKey(), scopeKey(in.ParentID)}
	err = e.write(ctx, actor, scopes, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		n, err := moveTx(ctx, tx, actor, at, id, cur.ParentKey(), in)
		moved = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("move node %d: %w", id, err)
	}
	return moved, nil
}

func moveTx(ctx context.Context, tx tree.Tx, actor string, at time.Time, id, lockedScope int64, in MoveInput) (*tree.Node, error) {
	old, err := tx.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, tree.ErrNotFound
	}
	if old.ParentKey() != lockedScope {
		return nil, fmt.Errorf("node moved concurrently: %w", tree.ErrConflict)
	}
	if in.Version != 0 && in.Version != old.Version {
		return nil, fmt.Errorf("version %d, expected %d: %w", old.Version, in.Version, tree.ErrConflict)
	}

	desc, err := tx.Descendants(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if in.ParentID != nil {
		sub := roaring64.New()
		for _, d := range desc {
			sub.Add(uint64(d.ID))
		}
		if sub.Contains(uint64(*in.ParentID)) {
			return nil, fmt.Errorf("target parent %d is a descendant: %w", *in.ParentID, tree.ErrCycleDetected)
		}
	}
	parent, err := loadParent(ctx, tx, in.ParentID)
	if err != nil {
		return nil, err
	}

	sibs, err := siblings(ctx, tx, in.ParentID)
	if err != nil {
		return nil, err
	}
	if err := checkSiblings(sibs, id, old.Code, old.Name); err != nil {
		return nil, err
	}

	sameScope := old.ParentKey() == scopeKey(in.ParentID)
	idx := in.OrderIndex
	switch {
	case idx == 0 && sameScope:
		idx = old.OrderIndex
	case idx == 0:
		idx = maxOrder(sibs) + 1
	}
	taken := occupied(sibs, id, idx)

	n := old.Clone()
	n.ParentID = in.ParentID
	tree.Materialize(n, parent)
	n.OrderIndex = idx
	if taken {
		// Park on 0 (never a real position) until the slot is opened.
		n.OrderIndex = 0
	}
	n.UpdatedAt = at
	n.UpdatedBy = actor
	if err := tx.Update(ctx, n, old.Version); err != nil {
		return nil, err
	}
	if taken {
		if err := tx.ShiftOrder(ctx, in.ParentID, idx, id, at, actor); err != nil {
			return nil, err
		}
		if err := tx.SetOrder(ctx, []tree.OrderUpdate{{ID: id, OrderIndex: idx}}, at, actor); err != nil {
			return nil, err
		}
	}

	oldPrefix, newPrefix := tree.ChildPrefix(old), tree.ChildPrefix(n)
	if oldPrefix != newPrefix && len(desc) > 0 {
		batch, err := tree.Rebase(desc, oldPrefix, newPrefix, n.Depth-old.Depth)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdatePaths(ctx, batch, at, actor); err != nil {
			return nil, err
		}
	}
	return tx.GetByID(ctx, id)
}

// Reorder renumbers a sibling scope 1..n. The listed children come first in
// the given order; the rest follow in their previous order.
func (e *Engine) Reorder(ctx context.Context, actor string, parentID *int64, ids []int64) ([]*tree.Node, error) {
	var out []*tree.Node
	err := e.write(ctx, actor, []int64{scopeKey(parentID)}, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		if parentID != nil {
			p, err := tx.GetByID(ctx, *parentID)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("parent %d: %w", *parentID, tree.ErrNotFound)
			}
		}
		sibs, err := siblings(ctx, tx, parentID)
		if err != nil {
			return err
		}

		byID := make(map[int64]*tree.Node, len(sibs))
		for _, s := range sibs {
			byID[s.ID] = s
		}
		listed := make(map[int64]bool, len(ids))
		order := make([]*tree.Node, 0, len(sibs))
		for _, id := range ids {
			if listed[id] {
				return fmt.Errorf("node %d listed twice: %w", id, tree.ErrValidation)
			}
			s, ok := byID[id]
			if !ok {
				return fmt.Errorf("node %d is not a child of scope %d: %w", id, scopeKey(parentID), tree.ErrNotFound)
			}
			listed[id] = true
			order = append(order, s)
		}
		for _, s := range sibs {
			if !listed[s.ID] {
				order = append(order, s)
			}
		}

		var batch []tree.OrderUpdate
		for i, s := range order {
			if s.OrderIndex != i+1 {
				batch = append(batch, tree.OrderUpdate{ID: s.ID, OrderIndex: i + 1})
			}
		}
		if err := tx.SetOrder(ctx, batch, at, actor); err != nil {
			return err
		}
		out, err = siblings(ctx, tx, parentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reorder scope %d: %w", scopeKey(parentID), err)
	}
	return out, nil
}

// Delete soft-deletes a node. A node with live children is only deleted
// with cascade, which takes its whole subtree along. Returns the number of
// nodes deleted.
func (e *Engine) Delete(ctx context.Context, actor string, id int64, cascade bool) (int, error) {
	cur, err := e.store.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("delete node %d: %w", id, err)
	}
	if cur == nil {
		return 0, fmt.Errorf("delete node %d: %w", id, tree.ErrNotFound)
	}

	var count int
	err = e.write(ctx, actor, []int64{cur.ParentKey()}, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		n, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return tree.ErrNotFound
		}
		has, err := tx.HasChildren(ctx, id)
		if err != nil {
			return err
		}
		if has && !cascade {
			return tree.ErrHasChildren
		}

		doomed := roaring64.BitmapOf(uint64(id))
		if has {
			desc, err := tx.Descendants(ctx, id, 0)
			if err != nil {
				return err
			}
			for _, d := range desc {
				doomed.Add(uint64(d.ID))
			}
		}
		ids := make([]int64, 0, doomed.GetCardinality())
		it := doomed.Iterator()
		for it.HasNext() {
			ids = append(ids, int64(it.Next()))
		}
		if err := tx.SoftDelete(ctx, ids, at, actor); err != nil {
			return err
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete node %d: %w", id, err)
	}
	return count, nil
}

// SetContentCount records how many content items are linked to a node.
// It is the write entry for the external categorization facility.
func (e *Engine) SetContentCount(ctx context.Context, actor string, id int64, count int) (*tree.Node, error) {
	if count < 0 {
		return nil, fmt.Errorf("set content count of node %d to %d: %w", id, count, tree.ErrValidation)
	}
	var out *tree.Node
	err := e.write(ctx, actor, nil, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		n, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return tree.ErrNotFound
		}
		n.ContentCount = count
		n.UpdatedAt = at
		n.UpdatedBy = actor
		if err := tx.Update(ctx, n, n.Version); err != nil {
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set content count of node %d: %w", id, err)
	}
	return out, nil
}

// RebuildReport summarizes a RebuildPaths run.
type RebuildReport struct {
	Scanned     int     `json:"scanned"`
	Repaired    int     `json:"repaired"`
	Unreachable []int64 `json:"unreachable,omitempty"` // live nodes whose parent chain never reaches a root
}

// RebuildPaths recomputes path and depth of every live node from the parent
// pointers and rewrites the rows that disagree, in one transaction.
func (e *Engine) RebuildPaths(ctx context.Context, actor string) (*RebuildReport, error) {
	var report RebuildReport
	err := e.write(ctx, actor, nil, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		nodes, err := tx.All(ctx)
		if err != nil {
			return err
		}
		want, unreachable := expectedPaths(nodes)

		var batch []tree.PathUpdate
		for _, n := range nodes {
			w, ok := want[n.ID]
			if ok && (w.Path != n.Path || w.Depth != n.Depth) {
				batch = append(batch, w)
			}
		}
		if err := tx.UpdatePaths(ctx, batch, at, actor); err != nil {
			return err
		}
		report = RebuildReport{Scanned: len(nodes), Repaired: len(batch), Unreachable: unreachable}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild paths: %w", err)
	}
	return &report, nil
}

// expectedPaths derives path and depth from parent pointers alone, walking
// breadth-first from the roots. Nodes never reached (parent missing or a
// parent cycle) are returned as unreachable, sorted by id.
func expectedPaths(nodes []*tree.Node) (map[int64]tree.PathUpdate, []int64) {
	kids := make(map[int64][]*tree.Node)
	var queue []*tree.Node
	for _, n := range nodes {
		if n.ParentID == nil {
			queue = append(queue, n)
			continue
		}
		kids[*n.ParentID] = append(kids[*n.ParentID], n)
	}

	want := make(map[int64]tree.PathUpdate, len(nodes))
	for _, r := range queue {
		want[r.ID] = tree.PathUpdate{ID: r.ID}
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		pw := want[p.ID]
		prefix := tree.ChildPrefix(&tree.Node{ID: p.ID, Path: pw.Path})
		for _, c := range kids[p.ID] {
			if _, seen := want[c.ID]; seen {
				continue
			}
			want[c.ID] = tree.PathUpdate{ID: c.ID, Path: prefix, Depth: pw.Depth + 1}
			queue = append(queue, c)
		}
	}

	lost := roaring64.New()
	for _, n := range nodes {
		if _, ok := want[n.ID]; !ok {
			lost.Add(uint64(n.ID))
		}
	}
	var unreachable []int64
	for _, id := range lost.ToArray() {
		unreachable = append(unreachable, int64(id))
	}
	return want, unreachable
}
