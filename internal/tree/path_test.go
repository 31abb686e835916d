package tree

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildPrefix(t *testing.T) {
	tests := []struct {
		node *Node
		want string
	}{
		{&Node{ID: 1}, "-1-"},
		{&Node{ID: 7, Path: "-1-", Depth: 1}, "-1-7-"},
		{&Node{ID: 42, Path: "-1-7-", Depth: 2}, "-1-7-42-"},
	}
	for _, tt := range tests {
		if got := ChildPrefix(tt.node); got != tt.want {
			t.Errorf("ChildPrefix(%d, %q) = %q, want %q", tt.node.ID, tt.node.Path, got, tt.want)
		}
	}
}

func TestMaterialize(t *testing.T) {
	math := &Node{ID: 1}
	Materialize(math, nil)
	assert.Equal(t, "", math.Path)
	assert.Equal(t, 0, math.Depth)

	algebra := &Node{ID: 2}
	Materialize(algebra, math)
	assert.Equal(t, "-1-", algebra.Path)
	assert.Equal(t, 1, algebra.Depth)

	linear := &Node{ID: 3}
	Materialize(linear, algebra)
	assert.Equal(t, "-1-2-", linear.Path)
	assert.Equal(t, 2, linear.Depth)

	// Back to root resets both fields.
	Materialize(algebra, nil)
	assert.Equal(t, "", algebra.Path)
	assert.Equal(t, 0, algebra.Depth)
}

func TestRebase(t *testing.T) {
	descendants := []*Node{
		{ID: 3, Path: "-1-2-", Depth: 2},
		{ID: 4, Path: "-1-2-3-", Depth: 3},
	}

	// Node 2 moves from under 1 to the root: its child prefix goes "-1-2-" → "-2-".
	got, err := Rebase(descendants, "-1-2-", "-2-", -1)
	require.NoError(t, err)
	assert.Equal(t, []PathUpdate{
		{ID: 3, Path: "-2-", Depth: 1},
		{ID: 4, Path: "-2-3-", Depth: 2},
	}, got)
}

func TestRebase_RejectsForeignRow(t *testing.T) {
	_, err := Rebase([]*Node{{ID: 9, Path: "-5-"}}, "-1-2-", "-2-", -1)
	require.Error(t, err)
}

func TestParsePath(t *testing.T) {
	ids, err := ParsePath("-1-7-42-")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 7, 42}, ids)

	ids, err = ParsePath("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, bad := range []string{"-", "--", "1-2-", "-1-x-", "-0-", "-1-2"} {
		if _, err := ParsePath(bad); err == nil {
			t.Errorf("ParsePath(%q) should fail", bad)
		}
	}
}

func TestFormatPath_RoundTrip(t *testing.T) {
	for _, ids := range [][]int64{nil, {1}, {1, 7}, {3, 10, 100, 1000}} {
		p := FormatPath(ids)
		back, err := ParsePath(p)
		require.NoError(t, err)
		assert.Equal(t, len(ids), len(back))
		for i := range ids {
			assert.Equal(t, ids[i], back[i])
		}
	}
}

func TestPrefixRange_IsExact(t *testing.T) {
	lo, hi := PrefixRange("-1-")
	inside := []string{"-1-", "-1-2-", "-1-20-", "-1-2-3-"}
	outside := []string{"", "-10-", "-11-2-", "-2-", "-1", "-0-"}

	for _, p := range inside {
		if !(p >= lo && p < hi) {
			t.Errorf("%q should fall inside [%q, %q)", p, lo, hi)
		}
	}
	for _, p := range outside {
		if p >= lo && p < hi {
			t.Errorf("%q should fall outside [%q, %q)", p, lo, hi)
		}
	}
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("-1-7-", 7))
	assert.True(t, Contains("-1-7-", 1))
	assert.False(t, Contains("-1-17-", 7))
	assert.False(t, Contains("", 1))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, "CycleDetected", KindOf(fmt.Errorf("move node 2: %w", ErrCycleDetected)))
	assert.Equal(t, "StoreUnavailable", KindOf(fmt.Errorf("query: %w: %w", ErrUnavailable, errors.New("busy"))))
	assert.Equal(t, "Internal", KindOf(errors.New("boom")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("x: %w", ErrUnavailable)))
	assert.True(t, Retryable(ErrTimeout))
	assert.False(t, Retryable(ErrCycleDetected))
	assert.False(t, Retryable(ErrHasChildren))
}

func TestForest_WalkAndBottomUp(t *testing.T) {
	nodes := []*Node{
		{ID: 1, OrderIndex: 1},
		{ID: 2, ParentID: Int64(1), OrderIndex: 2},
		{ID: 3, ParentID: Int64(1), OrderIndex: 1},
		{ID: 4, ParentID: Int64(3), OrderIndex: 1},
		{ID: 5, OrderIndex: 2},
	}
	f := NewForest(nodes)
	assert.Equal(t, []int64{1, 5}, f.Roots)
	assert.Equal(t, []int64{3, 2}, f.Children[1])

	var visited []string
	f.Walk(func(n *Node, level int) bool {
		visited = append(visited, fmt.Sprintf("%s%d", strings.Repeat(".", level), n.ID))
		return true
	})
	assert.Equal(t, []string{"1", ".3", "..4", ".2", "5"}, visited)

	pos := map[int64]int{}
	for i, id := range f.BottomUp() {
		pos[id] = i
	}
	for _, n := range nodes {
		if n.ParentID != nil {
			assert.Less(t, pos[n.ID], pos[*n.ParentID], "child %d must precede parent", n.ID)
		}
	}
}

func TestForest_WalkSkipsPrunedChildren(t *testing.T) {
	f := NewForest([]*Node{
		{ID: 1},
		{ID: 2, ParentID: Int64(1)},
	})
	var seen []int64
	f.Walk(func(n *Node, _ int) bool {
		seen = append(seen, n.ID)
		return false
	})
	assert.Equal(t, []int64{1}, seen)
}
