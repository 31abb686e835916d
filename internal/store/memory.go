package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentic-research/arbor/internal/tree"
)

// MemoryStore is an in-process tree.Store.
//
// Reads take a shared lock. WithTx takes the exclusive lock for the whole
// unit of work and keeps an undo journal, so a failing transaction leaves
// no trace. Live nodes are indexed by parent and by path; the path index is
// a sorted slice, so prefix scans are a binary search plus the matches.
type MemoryStore struct {
	mu sync.RWMutex
	st *memState
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{
		nodes:    make(map[int64]*tree.Node),
		types:    make(map[int64]*tree.NodeType),
		children: make(map[int64][]int64),
		nextNode: 1,
		nextType: 1,
	}}
}

type pathKey struct {
	path string
	id   int64
}

func (a pathKey) less(b pathKey) bool {
	if a.path != b.path {
		return a.path < b.path
	}
	return a.id < b.id
}

// memState holds the data. Its methods assume the caller holds the lock.
type memState struct {
	nodes    map[int64]*tree.Node // every row, deleted included
	types    map[int64]*tree.NodeType
	children map[int64][]int64 // parent key → live child ids
	byPath   []pathKey         // live nodes sorted by (path, id)
	nextNode int64
	nextType int64
}

func (s *memState) index(n *tree.Node) {
	k := n.ParentKey()
	s.children[k] = append(s.children[k], n.ID)

	key := pathKey{n.Path, n.ID}
	i := sort.Search(len(s.byPath), func(i int) bool { return !s.byPath[i].less(key) })
	s.byPath = append(s.byPath, pathKey{})
	copy(s.byPath[i+1:], s.byPath[i:])
	s.byPath[i] = key
}

func (s *memState) unindex(n *tree.Node) {
	k := n.ParentKey()
	ids := s.children[k]
	for i, id := range ids {
		if id == n.ID {
			s.children[k] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.children[k]) == 0 {
		delete(s.children, k)
	}

	key := pathKey{n.Path, n.ID}
	i := sort.Search(len(s.byPath), func(i int) bool { return !s.byPath[i].less(key) })
	if i < len(s.byPath) && s.byPath[i] == key {
		s.byPath = append(s.byPath[:i], s.byPath[i+1:]...)
	}
}

// put replaces the row for n.ID (nil n removes it), keeping indexes in step.
func (s *memState) put(id int64, n *tree.Node) {
	if old, ok := s.nodes[id]; ok && !old.IsDeleted() {
		s.unindex(old)
	}
	if n == nil {
		delete(s.nodes, id)
		return
	}
	s.nodes[id] = n
	if !n.IsDeleted() {
		s.index(n)
	}
}

func (s *memState) live(id int64) *tree.Node {
	n, ok := s.nodes[id]
	if !ok || n.IsDeleted() {
		return nil
	}
	return n
}

func cloneAll(nodes []*tree.Node) []*tree.Node {
	out := make([]*tree.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

func sortByOrder(nodes []*tree.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].OrderIndex != nodes[j].OrderIndex {
			return nodes[i].OrderIndex < nodes[j].OrderIndex
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func sortByDepth(nodes []*tree.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.ParentKey() != b.ParentKey() {
			return a.ParentKey() < b.ParentKey()
		}
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		return a.ID < b.ID
	})
}

func (s *memState) scope(parentID *int64) []*tree.Node {
	var k int64
	if parentID != nil {
		k = *parentID
	}
	ids := s.children[k]
	out := make([]*tree.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id])
	}
	sortByOrder(out)
	return out
}

// prefixScan returns live nodes whose path starts with prefix.
func (s *memState) prefixScan(prefix string) []*tree.Node {
	lo, hi := tree.PrefixRange(prefix)
	i := sort.Search(len(s.byPath), func(i int) bool { return s.byPath[i].path >= lo })
	var out []*tree.Node
	for ; i < len(s.byPath) && s.byPath[i].path < hi; i++ {
		out = append(out, s.nodes[s.byPath[i].id])
	}
	return out
}

func (s *memState) getByID(id int64) *tree.Node { return s.live(id).Clone() }

func (s *memState) getByCode(parentID *int64, code string) *tree.Node {
	if code == "" {
		return nil
	}
	for _, n := range s.scope(parentID) {
		if n.Code == code {
			return n.Clone()
		}
	}
	return nil
}

func (s *memState) ancestors(id int64) ([]*tree.Node, error) {
	n := s.live(id)
	if n == nil {
		return nil, nil
	}
	ids, err := tree.ParsePath(n.Path)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %d: %w", id, err)
	}
	out := make([]*tree.Node, 0, len(ids))
	for _, aid := range ids {
		if a := s.live(aid); a != nil {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *memState) descendants(id int64, maxDepth int) []*tree.Node {
	n := s.live(id)
	if n == nil {
		return nil
	}
	var out []*tree.Node
	for _, d := range s.prefixScan(tree.ChildPrefix(n)) {
		if maxDepth > 0 && d.Depth > n.Depth+maxDepth {
			continue
		}
		out = append(out, d.Clone())
	}
	sortByDepth(out)
	return out
}

func (s *memState) filter(keep func(n *tree.Node) bool) []*tree.Node {
	var out []*tree.Node
	for _, k := range s.byPath {
		if n := s.nodes[k.id]; keep(n) {
			out = append(out, n.Clone())
		}
	}
	sortByDepth(out)
	return out
}

func (s *memState) search(term string) []*tree.Node {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	return s.filter(func(n *tree.Node) bool {
		return strings.Contains(strings.ToLower(n.Name), term) ||
			strings.Contains(strings.ToLower(n.Code), term) ||
			strings.Contains(strings.ToLower(n.Description), term)
	})
}

func (s *memState) maxOrder(parentID *int64) int {
	hi := 0
	for _, n := range s.scope(parentID) {
		if n.OrderIndex > hi {
			hi = n.OrderIndex
		}
	}
	return hi
}

func (s *memState) typeByCode(code string) *tree.NodeType {
	for _, t := range s.types {
		if t.Code == code {
			return t.Clone()
		}
	}
	return nil
}

func (s *memState) listTypes() []*tree.NodeType {
	out := make([]*tree.NodeType, 0, len(s.types))
	for _, t := range s.types {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memState) typeInUse(typeID int64) bool {
	for _, k := range s.byPath {
		if s.nodes[k.id].TypeID == typeID {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// tree.Reader
// ---------------------------------------------------------------------------

func (m *MemoryStore) read(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, mapCtxErr(err)
	}
	m.mu.RLock()
	return m.mu.RUnlock, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id int64) (*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.getByID(id), nil
}

func (m *MemoryStore) GetByCode(ctx context.Context, parentID *int64, code string) (*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.getByCode(parentID, code), nil
}

func (m *MemoryStore) Roots(ctx context.Context) ([]*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return cloneAll(m.st.scope(nil)), nil
}

func (m *MemoryStore) Children(ctx context.Context, parentID int64) ([]*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return cloneAll(m.st.scope(&parentID)), nil
}

func (m *MemoryStore) Ancestors(ctx context.Context, id int64) ([]*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.ancestors(id)
}

func (m *MemoryStore) Descendants(ctx context.Context, id int64, maxDepth int) ([]*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.descendants(id, maxDepth), nil
}

func (m *MemoryStore) ByType(ctx context.Context, typeID int64) ([]*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.filter(func(n *tree.Node) bool { return n.TypeID == typeID }), nil
}

func (m *MemoryStore) Search(ctx context.Context, term string) ([]*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.search(term), nil
}

func (m *MemoryStore) All(ctx context.Context) ([]*tree.Node, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.filter(func(*tree.Node) bool { return true }), nil
}

func (m *MemoryStore) HasChildren(ctx context.Context, id int64) (bool, error) {
	n, err := m.CountChildren(ctx, id)
	return n > 0, err
}

func (m *MemoryStore) CountChildren(ctx context.Context, id int64) (int, error) {
	done, err := m.read(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	return len(m.st.children[id]), nil
}

func (m *MemoryStore) CountDescendants(ctx context.Context, id int64) (int, error) {
	done, err := m.read(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	n := m.st.live(id)
	if n == nil {
		return 0, nil
	}
	return len(m.st.prefixScan(tree.ChildPrefix(n))), nil
}

func (m *MemoryStore) MaxOrderIndex(ctx context.Context, parentID *int64) (int, error) {
	done, err := m.read(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	return m.st.maxOrder(parentID), nil
}

func (m *MemoryStore) GetType(ctx context.Context, id int64) (*tree.NodeType, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.types[id].Clone(), nil
}

func (m *MemoryStore) GetTypeByCode(ctx context.Context, code string) (*tree.NodeType, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.typeByCode(code), nil
}

func (m *MemoryStore) ListTypes(ctx context.Context) ([]*tree.NodeType, error) {
	done, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.st.listTypes(), nil
}

func (m *MemoryStore) TypeInUse(ctx context.Context, typeID int64) (bool, error) {
	done, err := m.read(ctx)
	if err != nil {
		return false, err
	}
	defer done()
	return m.st.typeInUse(typeID), nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// WithTx runs fn with exclusive access. On error or context expiry every
// write made by fn is undone.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx tree.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		ctx:      ctx,
		st:       m.st,
		nextNode: m.st.nextNode,
		nextType: m.st.nextType,
		scopes:   make(map[int64]bool),
	}
	err := fn(tx)
	if err == nil {
		err = tx.checkOrder()
	}
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			err = mapCtxErr(cerr)
		}
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

type undoEntry struct {
	nodeID int64
	node   *tree.Node // previous row, nil if the row did not exist
	typeID int64
	typ    *tree.NodeType
}

type memTx struct {
	ctx      context.Context
	st       *memState
	journal  []undoEntry
	nextNode int64
	nextType int64
	scopes   map[int64]bool // sibling scopes touched, checked at commit
}

func (tx *memTx) rollback() {
	for i := len(tx.journal) - 1; i >= 0; i-- {
		e := tx.journal[i]
		if e.nodeID != 0 {
			tx.st.put(e.nodeID, e.node)
			continue
		}
		if e.typ == nil {
			delete(tx.st.types, e.typeID)
		} else {
			tx.st.types[e.typeID] = e.typ
		}
	}
	tx.st.nextNode = tx.nextNode
	tx.st.nextType = tx.nextType
}

func (tx *memTx) saveNode(id int64) {
	prev := tx.st.nodes[id].Clone()
	tx.journal = append(tx.journal, undoEntry{nodeID: id, node: prev})
}

func (tx *memTx) saveType(id int64) {
	tx.journal = append(tx.journal, undoEntry{typeID: id, typ: tx.st.types[id].Clone()})
}

// checkOrder enforces sibling order uniqueness on every scope the
// transaction touched, mirroring the unique index of the SQLite store.
func (tx *memTx) checkOrder() error {
	for k := range tx.scopes {
		seen := make(map[int]int64)
		for _, id := range tx.st.children[k] {
			n := tx.st.nodes[id]
			if other, dup := seen[n.OrderIndex]; dup {
				return fmt.Errorf("order index %d shared by nodes %d and %d: %w", n.OrderIndex, other, id, tree.ErrConflict)
			}
			seen[n.OrderIndex] = id
		}
	}
	return nil
}

func (tx *memTx) touch(n *tree.Node) { tx.scopes[n.ParentKey()] = true }

func (tx *memTx) stamp(n *tree.Node, at time.Time, actor string) {
	n.Version++
	n.UpdatedAt = at
	n.UpdatedBy = actor
}

func (tx *memTx) GetByID(_ context.Context, id int64) (*tree.Node, error) {
	return tx.st.getByID(id), nil
}

func (tx *memTx) GetByCode(_ context.Context, parentID *int64, code string) (*tree.Node, error) {
	return tx.st.getByCode(parentID, code), nil
}

func (tx *memTx) Roots(_ context.Context) ([]*tree.Node, error) {
	return cloneAll(tx.st.scope(nil)), nil
}

func (tx *memTx) Children(_ context.Context, parentID int64) ([]*tree.Node, error) {
	return cloneAll(tx.st.scope(&parentID)), nil
}

func (tx *memTx) Ancestors(_ context.Context, id int64) ([]*tree.Node, error) {
	return tx.st.ancestors(id)
}

func (tx *memTx) Descendants(_ context.Context, id int64, maxDepth int) ([]*tree.Node, error) {
	return tx.st.descendants(id, maxDepth), nil
}

func (tx *memTx) ByType(_ context.Context, typeID int64) ([]*tree.Node, error) {
	return tx.st.filter(func(n *tree.Node) bool { return n.TypeID == typeID }), nil
}

func (tx *memTx) Search(_ context.Context, term string) ([]*tree.Node, error) {
	return tx.st.search(term), nil
}

func (tx *memTx) All(_ context.Context) ([]*tree.Node, error) {
	return tx.st.filter(func(*tree.Node) bool { return true }), nil
}

func (tx *memTx) HasChildren(_ context.Context, id int64) (bool, error) {
	return len(tx.st.children[id]) > 0, nil
}

func (tx *memTx) CountChildren(_ context.Context, id int64) (int, error) {
	return len(tx.st.children[id]), nil
}

func (tx *memTx) CountDescendants(_ context.Context, id int64) (int, error) {
	n := tx.st.live(id)
	if n == nil {
		return 0, nil
	}
	return len(tx.st.prefixScan(tree.ChildPrefix(n))), nil
}

func (tx *memTx) MaxOrderIndex(_ context.Context, parentID *int64) (int, error) {
	return tx.st.maxOrder(parentID), nil
}

func (tx *memTx) GetType(_ context.Context, id int64) (*tree.NodeType, error) {
	return tx.st.types[id].Clone(), nil
}

func (tx *memTx) GetTypeByCode(_ context.Context, code string) (*tree.NodeType, error) {
	return tx.st.typeByCode(code), nil
}

func (tx *memTx) ListTypes(_ context.Context) ([]*tree.NodeType, error) {
	return tx.st.listTypes(), nil
}

func (tx *memTx) TypeInUse(_ context.Context, typeID int64) (bool, error) {
	return tx.st.typeInUse(typeID), nil
}

func (tx *memTx) Insert(ctx context.Context, n *tree.Node) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	n.ID = tx.st.nextNode
	tx.st.nextNode++
	n.Version = 1
	tx.journal = append(tx.journal, undoEntry{nodeID: n.ID})
	tx.st.put(n.ID, n.Clone())
	tx.touch(n)
	return nil
}

func (tx *memTx) Update(ctx context.Context, n *tree.Node, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	cur := tx.st.live(n.ID)
	if cur == nil {
		return fmt.Errorf("update node %d: %w", n.ID, tree.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("update node %d: version %d, expected %d: %w", n.ID, cur.Version, expectedVersion, tree.ErrConflict)
	}
	tx.saveNode(n.ID)
	tx.touch(cur)
	n.Version = expectedVersion + 1
	tx.st.put(n.ID, n.Clone())
	tx.touch(n)
	return nil
}

func (tx *memTx) UpdatePaths(ctx context.Context, batch []tree.PathUpdate, at time.Time, actor string) error {
	for i, u := range batch {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return mapCtxErr(err)
			}
		}
		cur := tx.st.live(u.ID)
		if cur == nil {
			return fmt.Errorf("update path of node %d: %w", u.ID, tree.ErrNotFound)
		}
		tx.saveNode(u.ID)
		next := cur.Clone()
		next.Path = u.Path
		next.Depth = u.Depth
		tx.stamp(next, at, actor)
		tx.st.put(u.ID, next)
	}
	return nil
}

func (tx *memTx) ShiftOrder(ctx context.Context, parentID *int64, from int, exclude int64, at time.Time, actor string) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	for _, n := range tx.st.scope(parentID) {
		if n.ID == exclude || n.OrderIndex < from {
			continue
		}
		tx.saveNode(n.ID)
		next := n.Clone()
		next.OrderIndex++
		tx.stamp(next, at, actor)
		tx.st.put(n.ID, next)
		tx.touch(next)
	}
	return nil
}

func (tx *memTx) SetOrder(ctx context.Context, batch []tree.OrderUpdate, at time.Time, actor string) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	for _, u := range batch {
		cur := tx.st.live(u.ID)
		if cur == nil {
			return fmt.Errorf("set order of node %d: %w", u.ID, tree.ErrNotFound)
		}
		tx.saveNode(u.ID)
		next := cur.Clone()
		next.OrderIndex = u.OrderIndex
		tx.stamp(next, at, actor)
		tx.st.put(u.ID, next)
		tx.touch(next)
	}
	return nil
}

func (tx *memTx) SoftDelete(ctx context.Context, ids []int64, at time.Time, actor string) error {
	for i, id := range ids {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return mapCtxErr(err)
			}
		}
		cur := tx.st.live(id)
		if cur == nil {
			return fmt.Errorf("delete node %d: %w", id, tree.ErrNotFound)
		}
		tx.saveNode(id)
		next := cur.Clone()
		ts := at
		next.DeletedAt = &ts
		next.DeletedBy = actor
		tx.stamp(next, at, actor)
		tx.st.put(id, next)
	}
	return nil
}

func (tx *memTx) InsertType(ctx context.Context, t *tree.NodeType) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	for _, other := range tx.st.types {
		if other.Code == t.Code || other.Name == t.Name {
			return fmt.Errorf("insert node type %q: %w", t.Code, tree.ErrConflict)
		}
	}
	t.ID = tx.st.nextType
	tx.st.nextType++
	t.Version = 1
	tx.journal = append(tx.journal, undoEntry{typeID: t.ID})
	tx.st.types[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) UpdateType(ctx context.Context, t *tree.NodeType, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	cur, ok := tx.st.types[t.ID]
	if !ok {
		return fmt.Errorf("update node type %d: %w", t.ID, tree.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("update node type %d: %w", t.ID, tree.ErrConflict)
	}
	for _, other := range tx.st.types {
		if other.ID != t.ID && (other.Code == t.Code || other.Name == t.Name) {
			return fmt.Errorf("update node type %d: %w", t.ID, tree.ErrConflict)
		}
	}
	tx.saveType(t.ID)
	t.Version = expectedVersion + 1
	tx.st.types[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) DeleteType(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}
	if _, ok := tx.st.types[id]; !ok {
		return fmt.Errorf("delete node type %d: %w", id, tree.ErrNotFound)
	}
	tx.saveType(id)
	delete(tx.st.types, id)
	return nil
}

// Verify interface compliance at compile time.
var (
	_ tree.Store = (*MemoryStore)(nil)
	_ tree.Tx    = (*memTx)(nil)
)
