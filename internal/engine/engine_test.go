package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentic-research/arbor/internal/store"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const actor = "tester"

type fixture struct {
	e    *Engine
	cat  *tree.NodeType // allows children
	leaf *tree.NodeType // forbids children
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

// forEachEngine runs fn against an engine over each store implementation.
func forEachEngine(t *testing.T, fn func(t *testing.T, f *fixture)) {
	open := map[string]func(t *testing.T) tree.Store{
		"memory": func(t *testing.T) tree.Store { return store.NewMemoryStore() },
		"sqlite": func(t *testing.T) tree.Store {
			s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "arbor.db"), store.DefaultSQLiteOptions())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			e := New(open[name](t), WithClock(func() time.Time { return fixedNow }))
			ctx := context.Background()
			cat, err := e.EnsureSystemTypes(ctx, actor)
			require.NoError(t, err)
			leaf, err := e.CreateType(ctx, actor, TypeInput{Code: "topic", Name: "Topic"})
			require.NoError(t, err)
			fn(t, &fixture{e: e, cat: cat, leaf: leaf})
		})
	}
}

func (f *fixture) mk(t *testing.T, parent *tree.Node, name string) *tree.Node {
	t.Helper()
	in := CreateInput{Name: name, TypeID: f.cat.ID}
	if parent != nil {
		in.ParentID = tree.Int64(parent.ID)
	}
	n, err := f.e.Create(context.Background(), actor, in)
	require.NoError(t, err)
	return n
}

func (f *fixture) get(t *testing.T, id int64) *tree.Node {
	t.Helper()
	n, err := f.e.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

// snapshot renders every live row's structural state for before/after checks.
func (f *fixture) snapshot(t *testing.T) []string {
	t.Helper()
	all, err := f.e.Store().All(context.Background())
	require.NoError(t, err)
	out := make([]string, len(all))
	for i, n := range all {
		out[i] = fmt.Sprintf("%d p=%d path=%s d=%d o=%d v=%d", n.ID, n.ParentKey(), n.Path, n.Depth, n.OrderIndex, n.Version)
	}
	return out
}

func childIDs(t *testing.T, f *fixture, parentID *int64) []int64 {
	t.Helper()
	var (
		kids []*tree.Node
		err  error
	)
	if parentID == nil {
		kids, err = f.e.Roots(context.Background())
	} else {
		kids, err = f.e.Children(context.Background(), *parentID)
	}
	require.NoError(t, err)
	ids := make([]int64, len(kids))
	for i, k := range kids {
		ids[i] = k.ID
	}
	return ids
}

func TestScenario_MathAlgebraLinear(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		math := f.mk(t, nil, "Math")
		require.Equal(t, int64(1), math.ID)

		algebra := f.mk(t, math, "Algebra")
		require.Equal(t, int64(2), algebra.ID)
		assert.Equal(t, "-1-", algebra.Path)
		assert.Equal(t, 1, algebra.Depth)

		linear := f.mk(t, algebra, "Linear Equations")
		require.Equal(t, int64(3), linear.ID)
		assert.Equal(t, 2, linear.Depth)

		moved, err := f.e.Move(ctx, actor, algebra.ID, MoveInput{})
		require.NoError(t, err)
		assert.Nil(t, moved.ParentID)
		assert.Equal(t, "", moved.Path)
		assert.Equal(t, 0, moved.Depth)
		assert.Equal(t, 2, moved.OrderIndex, "appended after Math in the root scope")

		linear = f.get(t, linear.ID)
		assert.Equal(t, "-2-", linear.Path)
		assert.Equal(t, 1, linear.Depth)
		assert.Equal(t, actor, linear.UpdatedBy)
		assert.True(t, linear.UpdatedAt.Equal(fixedNow))
	})
}

func TestCreate_AssignsOrderAndValidates(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.mk(t, nil, "P")
		a := f.mk(t, p, "a")
		b := f.mk(t, p, "b")
		assert.Equal(t, 1, a.OrderIndex)
		assert.Equal(t, 2, b.OrderIndex)

		// Explicit taken index shifts the rest.
		x, err := f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(p.ID), Name: "x", TypeID: f.cat.ID, OrderIndex: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, x.OrderIndex)
		assert.Equal(t, []int64{x.ID, a.ID, b.ID}, childIDs(t, f, tree.Int64(p.ID)))

		_, err = f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(p.ID), Name: "  A ", TypeID: f.cat.ID})
		require.ErrorIs(t, err, tree.ErrDuplicateSibling)

		_, err = f.e.Create(ctx, actor, CreateInput{Name: "   ", TypeID: f.cat.ID})
		require.ErrorIs(t, err, tree.ErrValidation)

		_, err = f.e.Create(ctx, actor, CreateInput{Name: "neg", TypeID: f.cat.ID, OrderIndex: -1})
		require.ErrorIs(t, err, tree.ErrValidation)

		_, err = f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(999), Name: "orphan", TypeID: f.cat.ID})
		require.ErrorIs(t, err, tree.ErrNotFound)

		_, err = f.e.Create(ctx, actor, CreateInput{Name: "untyped", TypeID: 999})
		require.ErrorIs(t, err, tree.ErrNotFound)

		_, err = f.e.Create(ctx, "", CreateInput{Name: "anon", TypeID: f.cat.ID})
		require.ErrorIs(t, err, tree.ErrValidation)
	})
}

func TestCreate_CodeUniqueAmongSiblingsOnly(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := f.mk(t, nil, "A")
		b := f.mk(t, nil, "B")

		_, err := f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(a.ID), Code: "ALG", Name: "Algebra", TypeID: f.cat.ID})
		require.NoError(t, err)
		_, err = f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(b.ID), Code: "ALG", Name: "Algebra", TypeID: f.cat.ID})
		require.NoError(t, err)
		_, err = f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(a.ID), Code: "ALG", Name: "Other", TypeID: f.cat.ID})
		require.ErrorIs(t, err, tree.ErrDuplicateSibling)

		got, err := f.e.GetByCode(ctx, tree.Int64(b.ID), "ALG")
		require.NoError(t, err)
		assert.Equal(t, b.ID, *got.ParentID)
	})
}

func TestCreate_TypeLegality(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		topic, err := f.e.Create(ctx, actor, CreateInput{Name: "Topic", TypeID: f.leaf.ID})
		require.NoError(t, err)

		_, err = f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(topic.ID), Name: "Sub", TypeID: f.cat.ID})
		require.ErrorIs(t, err, tree.ErrTypeNotAllowed)

		off := false
		_, err = f.e.UpdateType(ctx, actor, f.leaf.ID, TypeUpdate{IsActive: &off})
		require.NoError(t, err)
		_, err = f.e.Create(ctx, actor, CreateInput{Name: "Another", TypeID: f.leaf.ID})
		require.ErrorIs(t, err, tree.ErrTypeNotAllowed)
		assert.Equal(t, "TypeNotAllowed", tree.KindOf(err))
	})
}

func TestUpdate_ContentOnly(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		math := f.mk(t, nil, "Math")
		algebra := f.mk(t, math, "Algebra")
		geometry := f.mk(t, math, "Geometry")

		name, desc, hidden := "Linear Algebra", "vectors", false
		got, err := f.e.Update(ctx, actor, algebra.ID, UpdateInput{Name: &name, Description: &desc, IsVisible: &hidden, Version: algebra.Version})
		require.NoError(t, err)
		assert.Equal(t, "Linear Algebra", got.Name)
		assert.False(t, got.IsVisible)
		assert.Equal(t, algebra.Version+1, got.Version)
		assert.Equal(t, algebra.Path, got.Path)
		assert.Equal(t, algebra.OrderIndex, got.OrderIndex)

		// Stale version.
		_, err = f.e.Update(ctx, actor, algebra.ID, UpdateInput{Description: &desc, Version: algebra.Version})
		require.ErrorIs(t, err, tree.ErrConflict)
		assert.Equal(t, "ConcurrencyConflict", tree.KindOf(err))

		clash := "geometry"
		_, err = f.e.Update(ctx, actor, algebra.ID, UpdateInput{Name: &clash})
		require.ErrorIs(t, err, tree.ErrDuplicateSibling)

		// Renaming to its own name in another case is fine.
		same := "GEOMETRY"
		_, err = f.e.Update(ctx, actor, geometry.ID, UpdateInput{Name: &same})
		require.NoError(t, err)

		_, err = f.e.Update(ctx, actor, 404, UpdateInput{Name: &same})
		require.ErrorIs(t, err, tree.ErrNotFound)
	})
}

func TestUpdate_TypeChangeRespectsChildren(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		math := f.mk(t, nil, "Math")
		f.mk(t, math, "Algebra")

		_, err := f.e.Update(ctx, actor, math.ID, UpdateInput{TypeID: &f.leaf.ID})
		require.ErrorIs(t, err, tree.ErrTypeNotAllowed)
	})
}

func TestMove_RejectsCycleWithoutWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := f.mk(t, nil, "A")
		b := f.mk(t, a, "B")
		c := f.mk(t, b, "C")
		before := f.snapshot(t)

		for _, target := range []int64{a.ID, b.ID, c.ID} {
			_, err := f.e.Move(ctx, actor, a.ID, MoveInput{ParentID: tree.Int64(target)})
			require.ErrorIs(t, err, tree.ErrCycleDetected, "target %d", target)
			assert.False(t, tree.Retryable(err))
		}
		assert.Equal(t, before, f.snapshot(t))

		_, err := f.e.Move(ctx, actor, 404, MoveInput{})
		require.ErrorIs(t, err, tree.ErrNotFound)
		_, err = f.e.Move(ctx, actor, c.ID, MoveInput{ParentID: tree.Int64(404)})
		require.ErrorIs(t, err, tree.ErrNotFound)
		assert.Equal(t, before, f.snapshot(t))
	})
}

func TestMove_CascadesToDescendants(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		r := f.mk(t, nil, "R")
		a := f.mk(t, r, "A")
		b := f.mk(t, a, "B")
		c := f.mk(t, b, "C")
		top := f.mk(t, nil, "Top")
		x := f.mk(t, top, "X")

		_, err := f.e.Move(ctx, actor, a.ID, MoveInput{ParentID: tree.Int64(x.ID), Version: a.Version})
		require.NoError(t, err)

		x = f.get(t, x.ID)
		a, b, c = f.get(t, a.ID), f.get(t, b.ID), f.get(t, c.ID)
		assert.Equal(t, x.Depth+1, a.Depth)
		assert.Equal(t, x.Depth+2, b.Depth)
		assert.Equal(t, x.Depth+3, c.Depth)
		assert.Equal(t, tree.FormatPath([]int64{top.ID, x.ID}), a.Path)
		assert.Equal(t, tree.FormatPath([]int64{top.ID, x.ID, a.ID, b.ID}), c.Path)

		desc, err := f.e.Descendants(ctx, r.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, desc)

		desc, err = f.e.Descendants(ctx, top.ID, 0)
		require.NoError(t, err)
		assert.Len(t, desc, 4)

		// The version check uses the pre-move version, which is now stale.
		_, err = f.e.Move(ctx, actor, a.ID, MoveInput{Version: 1})
		require.ErrorIs(t, err, tree.ErrConflict)

		v, err := f.e.CheckConsistency(ctx)
		require.NoError(t, err)
		assert.Empty(t, v)
	})
}

func TestMove_WithinScopeToTakenSlot(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.mk(t, nil, "P")
		a := f.mk(t, p, "a")
		b := f.mk(t, p, "b")
		c := f.mk(t, p, "c")

		got, err := f.e.Move(ctx, actor, c.ID, MoveInput{ParentID: tree.Int64(p.ID), OrderIndex: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, got.OrderIndex)
		assert.Equal(t, []int64{c.ID, a.ID, b.ID}, childIDs(t, f, tree.Int64(p.ID)))

		// Across scopes into a taken slot.
		q := f.mk(t, nil, "Q")
		z := f.mk(t, q, "z")
		_, err = f.e.Move(ctx, actor, z.ID, MoveInput{ParentID: tree.Int64(p.ID), OrderIndex: 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{c.ID, z.ID, a.ID, b.ID}, childIDs(t, f, tree.Int64(p.ID)))

		kids, err := f.e.Children(ctx, p.ID)
		require.NoError(t, err)
		seen := map[int]bool{}
		for _, k := range kids {
			assert.False(t, seen[k.OrderIndex], "order index %d repeated", k.OrderIndex)
			seen[k.OrderIndex] = true
		}
	})
}

func TestMove_DuplicateNameInTargetScope(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.mk(t, nil, "P")
		q := f.mk(t, nil, "Q")
		f.mk(t, p, "Same")
		dup := f.mk(t, q, "same")

		_, err := f.e.Move(ctx, actor, dup.ID, MoveInput{ParentID: tree.Int64(p.ID)})
		require.ErrorIs(t, err, tree.ErrDuplicateSibling)
	})
}

func TestReorder(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.mk(t, nil, "P")
		a := f.mk(t, p, "a")
		b := f.mk(t, p, "b")
		c := f.mk(t, p, "c")
		d := f.mk(t, p, "d")

		kids, err := f.e.Reorder(ctx, actor, tree.Int64(p.ID), []int64{d.ID, b.ID})
		require.NoError(t, err)
		got := make([]int64, len(kids))
		for i, k := range kids {
			got[i] = k.ID
			assert.Equal(t, i+1, k.OrderIndex)
		}
		assert.Equal(t, []int64{d.ID, b.ID, a.ID, c.ID}, got)

		_, err = f.e.Reorder(ctx, actor, tree.Int64(p.ID), []int64{a.ID, a.ID})
		require.ErrorIs(t, err, tree.ErrValidation)

		_, err = f.e.Reorder(ctx, actor, tree.Int64(p.ID), []int64{p.ID})
		require.ErrorIs(t, err, tree.ErrNotFound)

		_, err = f.e.Reorder(ctx, actor, tree.Int64(404), nil)
		require.ErrorIs(t, err, tree.ErrNotFound)

		// Roots are a scope too.
		q := f.mk(t, nil, "Q")
		_, err = f.e.Reorder(ctx, actor, nil, []int64{q.ID})
		require.NoError(t, err)
		assert.Equal(t, []int64{q.ID, p.ID}, childIDs(t, f, nil))
	})
}

func TestReorder_ClosesGapsLeftByDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.mk(t, nil, "P")
		a := f.mk(t, p, "a")
		b := f.mk(t, p, "b")
		c := f.mk(t, p, "c")

		_, err := f.e.Delete(ctx, actor, b.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 3, f.get(t, c.ID).OrderIndex, "gaps are allowed")

		_, err = f.e.Reorder(ctx, actor, tree.Int64(p.ID), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, f.get(t, a.ID).OrderIndex)
		assert.Equal(t, 2, f.get(t, c.ID).OrderIndex)
	})
}

func TestDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		math := f.mk(t, nil, "Math")
		algebra := f.mk(t, math, "Algebra")
		linear := f.mk(t, algebra, "Linear")
		geometry := f.mk(t, math, "Geometry")
		before := f.snapshot(t)

		_, err := f.e.Delete(ctx, actor, algebra.ID, false)
		require.ErrorIs(t, err, tree.ErrHasChildren)
		assert.Equal(t, before, f.snapshot(t))

		n, err := f.e.Delete(ctx, actor, algebra.ID, true)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		assert.Equal(t, []int64{geometry.ID}, childIDs(t, f, tree.Int64(math.ID)))
		desc, err := f.e.Descendants(ctx, math.ID, 0)
		require.NoError(t, err)
		assert.Len(t, desc, 1)

		forest, err := f.e.GetTree(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, forest.Len())
		assert.NotContains(t, forest.Nodes, linear.ID)

		_, err = f.e.Get(ctx, linear.ID)
		require.ErrorIs(t, err, tree.ErrNotFound)
		_, err = f.e.Delete(ctx, actor, linear.ID, true)
		require.ErrorIs(t, err, tree.ErrNotFound)
		_, err = f.e.Move(ctx, actor, geometry.ID, MoveInput{ParentID: tree.Int64(algebra.ID)})
		require.ErrorIs(t, err, tree.ErrNotFound)

		n, err = f.e.Delete(ctx, actor, geometry.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestQueries(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		math := f.mk(t, nil, "Math")
		algebra := f.mk(t, math, "Algebra")
		linear := f.mk(t, algebra, "Linear")
		quad := f.mk(t, algebra, "Quadratic")
		f.mk(t, math, "Geometry")
		physics := f.mk(t, nil, "Physics")

		_, err := f.e.SetContentCount(ctx, actor, linear.ID, 4)
		require.NoError(t, err)
		_, err = f.e.SetContentCount(ctx, actor, algebra.ID, 1)
		require.NoError(t, err)
		_, err = f.e.SetContentCount(ctx, actor, quad.ID, -1)
		require.ErrorIs(t, err, tree.ErrValidation)

		path, err := f.e.GetPathToNode(ctx, linear.ID)
		require.NoError(t, err)
		require.Len(t, path, 3)
		assert.Equal(t, []string{"Math", "Algebra", "Linear"}, []string{path[0].Name, path[1].Name, path[2].Name})

		st, err := f.e.GetStatistics(ctx, algebra.ID)
		require.NoError(t, err)
		assert.Equal(t, NodeStats{
			NodeID: algebra.ID, ChildCount: 2, DescendantCount: 2, Depth: 1,
			ContentCount: 1, SubtreeContentCount: 5,
		}, *st)

		st, err = f.e.GetStatistics(ctx, physics.ID)
		require.NoError(t, err)
		assert.True(t, st.IsLeaf)

		ts, err := f.e.GetTreeStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, ts.TotalNodes)
		assert.Equal(t, 6, ts.ActiveNodes)
		assert.Equal(t, 2, ts.RootCount)
		assert.Equal(t, 2, ts.MaxDepth)
		assert.Equal(t, []int{2, 2, 2}, ts.NodesPerLevel)
		assert.Equal(t, 5, ts.TotalContent)
		assert.InDelta(t, 5.0/6.0, ts.AverageContent, 1e-9)

		forest, err := f.e.GetTree(ctx, tree.Int64(math.ID), 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{math.ID}, forest.Roots)
		assert.Equal(t, 3, forest.Len())

		forest, err = f.e.GetTree(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{math.ID, physics.ID}, forest.Roots)

		bm, err := f.e.SubtreeIDs(ctx, algebra.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), bm.GetCardinality())
		assert.True(t, bm.Contains(uint64(quad.ID)))

		_, err = f.e.GetStatistics(ctx, 404)
		require.ErrorIs(t, err, tree.ErrNotFound)
	})
}

func TestTypeRegistry(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		_, err := f.e.CreateType(ctx, actor, TypeInput{Code: "topic", Name: "Anything"})
		require.ErrorIs(t, err, tree.ErrDuplicateType)
		_, err = f.e.CreateType(ctx, actor, TypeInput{Code: "t2", Name: "TOPIC"})
		require.ErrorIs(t, err, tree.ErrDuplicateType)
		_, err = f.e.CreateType(ctx, actor, TypeInput{Name: "No code"})
		require.ErrorIs(t, err, tree.ErrValidation)

		err = f.e.DeleteType(ctx, actor, f.cat.ID)
		require.ErrorIs(t, err, tree.ErrValidation, "system types stay")

		n, err := f.e.Create(ctx, actor, CreateInput{Name: "T", TypeID: f.leaf.ID})
		require.NoError(t, err)
		err = f.e.DeleteType(ctx, actor, f.leaf.ID)
		require.ErrorIs(t, err, tree.ErrTypeInUse)

		_, err = f.e.Delete(ctx, actor, n.ID, false)
		require.NoError(t, err)
		require.NoError(t, f.e.DeleteType(ctx, actor, f.leaf.ID))
		_, err = f.e.GetType(ctx, f.leaf.ID)
		require.ErrorIs(t, err, tree.ErrNotFound)

		// allowsChildren cannot be withdrawn while a node of the type has children.
		p := f.mk(t, nil, "P")
		f.mk(t, p, "c")
		no := false
		_, err = f.e.UpdateType(ctx, actor, f.cat.ID, TypeUpdate{AllowsChildren: &no})
		require.ErrorIs(t, err, tree.ErrTypeInUse)

		desc := "renamed"
		got, err := f.e.UpdateType(ctx, actor, f.cat.ID, TypeUpdate{Description: &desc, Version: f.cat.Version})
		require.NoError(t, err)
		assert.Equal(t, f.cat.Version+1, got.Version)
		_, err = f.e.UpdateType(ctx, actor, f.cat.ID, TypeUpdate{Description: &desc, Version: f.cat.Version})
		require.ErrorIs(t, err, tree.ErrConflict)

		byCode, err := f.e.GetTypeByCode(ctx, DefaultTypeCode)
		require.NoError(t, err)
		assert.Equal(t, "renamed", byCode.Description)

		again, err := f.e.EnsureSystemTypes(ctx, actor)
		require.NoError(t, err)
		assert.Equal(t, f.cat.ID, again.ID)
	})
}

func TestRebuildPathsRepairsCorruption(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := f.mk(t, nil, "A")
		b := f.mk(t, a, "B")
		c := f.mk(t, b, "C")

		// Corrupt two rows behind the engine's back.
		err := f.e.Store().WithTx(ctx, func(tx tree.Tx) error {
			return tx.UpdatePaths(ctx, []tree.PathUpdate{
				{ID: b.ID, Path: "-99-", Depth: 1},
				{ID: c.ID, Path: "-1-2-", Depth: 5},
			}, fixedNow, "vandal")
		})
		require.NoError(t, err)

		v, err := f.e.CheckConsistency(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, v)
		kinds := map[string]bool{}
		for _, x := range v {
			kinds[x.Kind] = true
		}
		assert.True(t, kinds["path"])
		assert.True(t, kinds["depth"])

		report, err := f.e.RebuildPaths(ctx, actor)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Scanned)
		assert.Equal(t, 2, report.Repaired)
		assert.Empty(t, report.Unreachable)

		v, err = f.e.CheckConsistency(ctx)
		require.NoError(t, err)
		assert.Empty(t, v)
		assert.Equal(t, "-1-2-", f.get(t, c.ID).Path)
		assert.Equal(t, 2, f.get(t, c.ID).Depth)
	})
}

func TestExpiredDeadlineIsTimeout(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		_, err := f.e.Create(ctx, actor, CreateInput{Name: "late", TypeID: f.cat.ID})
		require.ErrorIs(t, err, tree.ErrTimeout)
		assert.Equal(t, "Timeout", tree.KindOf(err))
		assert.True(t, tree.Retryable(err))
	})
}

func TestConcurrentCreatesKeepOrderUnique(t *testing.T) {
	forEachEngine(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.mk(t, nil, "P")

		const workers = 16
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.e.Create(ctx, actor, CreateInput{ParentID: tree.Int64(p.ID), Name: fmt.Sprintf("c%d", i), TypeID: f.cat.ID})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		kids, err := f.e.Children(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, kids, workers)
		for i, k := range kids {
			assert.Equal(t, i+1, k.OrderIndex)
		}
	})
}
