package tree

import (
	"fmt"
	"strconv"
	"strings"
)

// PathSep delimits ancestor ids in a materialized path.
const PathSep = "-"

// ChildPrefix returns the path every child of n carries. All descendants of
// n have paths starting with it, which is what makes prefix scans work.
//
//	root 1 (path "")      → "-1-"
//	node 7 (path "-1-")   → "-1-7-"
func ChildPrefix(n *Node) string {
	base := n.Path
	if base == "" {
		base = PathSep
	}
	return base + strconv.FormatInt(n.ID, 10) + PathSep
}

// Materialize sets n's path and depth from its parent. A nil parent makes n
// a root: empty path, depth 0.
func Materialize(n, parent *Node) {
	if parent == nil {
		n.Path = ""
		n.Depth = 0
		return
	}
	n.Path = ChildPrefix(parent)
	n.Depth = parent.Depth + 1
}

// Rebase computes the path rewrite for every descendant of a node whose child
// prefix changed from oldPrefix to newPrefix. depthDelta is the change in
// the moved node's own depth. The whole subtree is rewritten in one pass from
// a single descendant fetch.
func Rebase(descendants []*Node, oldPrefix, newPrefix string, depthDelta int) ([]PathUpdate, error) {
	out := make([]PathUpdate, 0, len(descendants))
	for _, d := range descendants {
		if !strings.HasPrefix(d.Path, oldPrefix) {
			return nil, fmt.Errorf("rebase node %d: path %q outside subtree %q", d.ID, d.Path, oldPrefix)
		}
		out = append(out, PathUpdate{
			ID:    d.ID,
			Path:  newPrefix + d.Path[len(oldPrefix):],
			Depth: d.Depth + depthDelta,
		})
	}
	return out, nil
}

// ParsePath returns the ancestor ids encoded in p, root first.
func ParsePath(p string) ([]int64, error) {
	if p == "" {
		return nil, nil
	}
	if !strings.HasPrefix(p, PathSep) || !strings.HasSuffix(p, PathSep) || len(p) < 3 {
		return nil, fmt.Errorf("malformed path %q", p)
	}
	parts := strings.Split(p[1:len(p)-1], PathSep)
	ids := make([]int64, 0, len(parts))
	for _, s := range parts {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("malformed path %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FormatPath renders ancestor ids (root first) as a materialized path.
func FormatPath(ancestors []int64) string {
	if len(ancestors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(PathSep)
	for _, id := range ancestors {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteString(PathSep)
	}
	return b.String()
}

// PrefixRange returns the half-open byte range [lo, hi) holding exactly the
// strings that start with prefix. prefix must end in PathSep; the next byte
// after '-' is '.', which never appears in a path.
func PrefixRange(prefix string) (lo, hi string) {
	return prefix, prefix[:len(prefix)-1] + "."
}

// Contains reports whether path lists id among its ancestors.
func Contains(path string, id int64) bool {
	return strings.Contains(path, PathSep+strconv.FormatInt(id, 10)+PathSep)
}
