package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/agentic-research/arbor/internal/tree"
	_ "modernc.org/sqlite"
)

// SQLiteOptions tunes the connection pool.
type SQLiteOptions struct {
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DefaultSQLiteOptions returns the settings used when none are given.
func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{MaxOpenConns: 4, BusyTimeout: 5 * time.Second}
}

// SQLiteStore persists the forest in a SQLite database.
//
// Layout: one nodes table with a (parent, order) index for sibling queries
// and a path index for prefix scans, one node_types table. A partial unique
// index keeps live sibling order indexes distinct even if two writers race.
//
// Write transactions start with BEGIN IMMEDIATE (the _txlock DSN option), so
// writers serialize on the database lock and every check made inside a
// transaction still holds at commit.
type SQLiteStore struct {
	sqlReader
	db   *sql.DB
	path string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS node_types (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	allows_children INTEGER NOT NULL,
	is_active INTEGER NOT NULL,
	is_visible INTEGER NOT NULL,
	is_system INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	created_by TEXT NOT NULL,
	updated_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER REFERENCES nodes(id),
	code TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	depth INTEGER NOT NULL,
	order_index INTEGER NOT NULL,
	content_count INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL,
	is_active INTEGER NOT NULL,
	is_visible INTEGER NOT NULL,
	deleted_at INTEGER,
	deleted_by TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	created_by TEXT NOT NULL,
	updated_by TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent_order ON nodes(parent_id, order_index);
CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes(path);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_nodes_live_order
	ON nodes(COALESCE(parent_id, 0), order_index) WHERE deleted_at IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS ux_nodes_live_code
	ON nodes(COALESCE(parent_id, 0), code) WHERE deleted_at IS NULL AND code <> '';
`

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = DefaultSQLiteOptions().MaxOpenConns
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultSQLiteOptions().BusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close() // ignore error
		return nil, wrap("create schema", err)
	}

	return &SQLiteStore{sqlReader: sqlReader{q: db}, db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// WithTx runs fn inside one database transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx tree.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin tx", err)
	}
	defer func() { _ = sqlTx.Rollback() }() // no-op after commit

	if err := fn(&sqliteTx{sqlReader: sqlReader{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return wrap("commit", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

const nodeCols = `id, parent_id, code, name, description, type_id, path, depth, order_index,
	content_count, version, is_active, is_visible, deleted_at, deleted_by,
	created_at, updated_at, created_by, updated_by`

const typeCols = `id, code, name, description, allows_children, is_active, is_visible, is_system,
	version, created_at, updated_at, created_by, updated_by`

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*tree.Node, error) {
	var (
		n                   tree.Node
		parent, deleted     sql.NullInt64
		created, updated    int64
		isActive, isVisible bool
	)
	err := sc.Scan(&n.ID, &parent, &n.Code, &n.Name, &n.Description, &n.TypeID, &n.Path, &n.Depth,
		&n.OrderIndex, &n.ContentCount, &n.Version, &isActive, &isVisible, &deleted, &n.DeletedBy,
		&created, &updated, &n.CreatedBy, &n.UpdatedBy)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		p := parent.Int64
		n.ParentID = &p
	}
	if deleted.Valid {
		d := time.Unix(0, deleted.Int64)
		n.DeletedAt = &d
	}
	n.IsActive, n.IsVisible = isActive, isVisible
	n.CreatedAt = time.Unix(0, created)
	n.UpdatedAt = time.Unix(0, updated)
	return &n, nil
}

func scanType(sc scanner) (*tree.NodeType, error) {
	var (
		t                tree.NodeType
		created, updated int64
	)
	err := sc.Scan(&t.ID, &t.Code, &t.Name, &t.Description, &t.AllowsChildren, &t.IsActive,
		&t.IsVisible, &t.IsSystem, &t.Version, &created, &updated, &t.CreatedBy, &t.UpdatedBy)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(0, created)
	t.UpdatedAt = time.Unix(0, updated)
	return &t, nil
}

// nullable turns an optional id into a driver value; nil binds as NULL.
func nullable(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nanos(t time.Time) int64 { return t.UnixNano() }

// ---------------------------------------------------------------------------
// tree.Reader
// ---------------------------------------------------------------------------

type sqlReader struct {
	q querier
}

func (r sqlReader) queryNodes(ctx context.Context, op, query string, args ...any) ([]*tree.Node, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []*tree.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

func (r sqlReader) queryNode(ctx context.Context, op, query string, args ...any) (*tree.Node, error) {
	n, err := scanNode(r.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return n, nil
}

func (r sqlReader) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

const byDepth = ` ORDER BY depth, COALESCE(parent_id, 0), order_index, id`

func (r sqlReader) GetByID(ctx context.Context, id int64) (*tree.Node, error) {
	return r.queryNode(ctx, "get node",
		`SELECT `+nodeCols+` FROM nodes WHERE id = ? AND deleted_at IS NULL`, id)
}

func (r sqlReader) GetByCode(ctx context.Context, parentID *int64, code string) (*tree.Node, error) {
	if code == "" {
		return nil, nil
	}
	return r.queryNode(ctx, "get node by code",
		`SELECT `+nodeCols+` FROM nodes WHERE parent_id IS ? AND code = ? AND deleted_at IS NULL`,
		nullable(parentID), code)
}

func (r sqlReader) Roots(ctx context.Context) ([]*tree.Node, error) {
	return r.queryNodes(ctx, "list roots",
		`SELECT `+nodeCols+` FROM nodes WHERE parent_id IS NULL AND deleted_at IS NULL ORDER BY order_index, id`)
}

func (r sqlReader) Children(ctx context.Context, parentID int64) ([]*tree.Node, error) {
	return r.queryNodes(ctx, "list children",
		`SELECT `+nodeCols+` FROM nodes WHERE parent_id = ? AND deleted_at IS NULL ORDER BY order_index, id`, parentID)
}

func (r sqlReader) Ancestors(ctx context.Context, id int64) ([]*tree.Node, error) {
	n, err := r.GetByID(ctx, id)
	if err != nil || n == nil {
		return nil, err
	}
	ids, err := tree.ParsePath(n.Path)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %d: %w", id, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, a := range ids {
		args[i] = a
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return r.queryNodes(ctx, "list ancestors",
		`SELECT `+nodeCols+` FROM nodes WHERE id IN (`+placeholders+`) AND deleted_at IS NULL ORDER BY depth`, args...)
}

func (r sqlReader) Descendants(ctx context.Context, id int64, maxDepth int) ([]*tree.Node, error) {
	n, err := r.GetByID(ctx, id)
	if err != nil || n == nil {
		return nil, err
	}
	lo, hi := tree.PrefixRange(tree.ChildPrefix(n))
	if maxDepth > 0 {
		return r.queryNodes(ctx, "list descendants",
			`SELECT `+nodeCols+` FROM nodes WHERE path >= ? AND path < ? AND deleted_at IS NULL AND depth <= ?`+byDepth,
			lo, hi, n.Depth+maxDepth)
	}
	return r.queryNodes(ctx, "list descendants",
		`SELECT `+nodeCols+` FROM nodes WHERE path >= ? AND path < ? AND deleted_at IS NULL`+byDepth, lo, hi)
}

func (r sqlReader) ByType(ctx context.Context, typeID int64) ([]*tree.Node, error) {
	return r.queryNodes(ctx, "list by type",
		`SELECT `+nodeCols+` FROM nodes WHERE type_id = ? AND deleted_at IS NULL`+byDepth, typeID)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r sqlReader) Search(ctx context.Context, term string) ([]*tree.Node, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	pattern := "%" + likeEscaper.Replace(term) + "%"
	return r.queryNodes(ctx, "search nodes",
		`SELECT `+nodeCols+` FROM nodes WHERE deleted_at IS NULL AND (
			lower(name) LIKE ? ESCAPE '\' OR lower(code) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\'
		)`+byDepth, pattern, pattern, pattern)
}

func (r sqlReader) All(ctx context.Context) ([]*tree.Node, error) {
	return r.queryNodes(ctx, "list nodes",
		`SELECT `+nodeCols+` FROM nodes WHERE deleted_at IS NULL`+byDepth)
}

func (r sqlReader) HasChildren(ctx context.Context, id int64) (bool, error) {
	n, err := r.count(ctx, "has children",
		`SELECT EXISTS(SELECT 1 FROM nodes WHERE parent_id = ? AND deleted_at IS NULL)`, id)
	return n == 1, err
}

func (r sqlReader) CountChildren(ctx context.Context, id int64) (int, error) {
	return r.count(ctx, "count children",
		`SELECT COUNT(*) FROM nodes WHERE parent_id = ? AND deleted_at IS NULL`, id)
}

func (r sqlReader) CountDescendants(ctx context.Context, id int64) (int, error) {
	n, err := r.GetByID(ctx, id)
	if err != nil || n == nil {
		return 0, err
	}
	lo, hi := tree.PrefixRange(tree.ChildPrefix(n))
	return r.count(ctx, "count descendants",
		`SELECT COUNT(*) FROM nodes WHERE path >= ? AND path < ? AND deleted_at IS NULL`, lo, hi)
}

func (r sqlReader) MaxOrderIndex(ctx context.Context, parentID *int64) (int, error) {
	return r.count(ctx, "max order index",
		`SELECT COALESCE(MAX(order_index), 0) FROM nodes WHERE parent_id IS ? AND deleted_at IS NULL`,
		nullable(parentID))
}

func (r sqlReader) queryType(ctx context.Context, op, query string, args ...any) (*tree.NodeType, error) {
	t, err := scanType(r.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	return t, nil
}

func (r sqlReader) GetType(ctx context.Context, id int64) (*tree.NodeType, error) {
	return r.queryType(ctx, "get node type", `SELECT `+typeCols+` FROM node_types WHERE id = ?`, id)
}

func (r sqlReader) GetTypeByCode(ctx context.Context, code string) (*tree.NodeType, error) {
	return r.queryType(ctx, "get node type by code", `SELECT `+typeCols+` FROM node_types WHERE code = ?`, code)
}

func (r sqlReader) ListTypes(ctx context.Context) ([]*tree.NodeType, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+typeCols+` FROM node_types ORDER BY id`)
	if err != nil {
		return nil, wrap("list node types", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []*tree.NodeType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, wrap("list node types", err)
		}
		out = append(out, t)
	}
	return out, wrap("list node types", rows.Err())
}

func (r sqlReader) TypeInUse(ctx context.Context, typeID int64) (bool, error) {
	n, err := r.count(ctx, "type in use",
		`SELECT EXISTS(SELECT 1 FROM nodes WHERE type_id = ? AND deleted_at IS NULL)`, typeID)
	return n == 1, err
}

// ---------------------------------------------------------------------------
// tree.Writer
// ---------------------------------------------------------------------------

type sqliteTx struct {
	sqlReader
	tx *sql.Tx
}

// expectOne turns a zero-row write into NotFound or Conflict depending on
// whether the live row exists.
func (t *sqliteTx) expectOne(ctx context.Context, op string, res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if affected == 1 {
		return nil
	}
	n, err := t.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("%s %d: %w", op, id, tree.ErrNotFound)
	}
	return fmt.Errorf("%s %d: version %d: %w", op, id, n.Version, tree.ErrConflict)
}

func (t *sqliteTx) Insert(ctx context.Context, n *tree.Node) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO nodes (parent_id, code, name, description, type_id, path, depth, order_index,
			content_count, version, is_active, is_visible, created_at, updated_at, created_by, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)`,
		nullable(n.ParentID), n.Code, n.Name, n.Description, n.TypeID, n.Path, n.Depth, n.OrderIndex,
		n.ContentCount, n.IsActive, n.IsVisible, nanos(n.CreatedAt), nanos(n.UpdatedAt), n.CreatedBy, n.UpdatedBy)
	if err != nil {
		return wrap("insert node", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap("insert node", err)
	}
	n.ID = id
	n.Version = 1
	return nil
}

func (t *sqliteTx) Update(ctx context.Context, n *tree.Node, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE nodes SET parent_id = ?, code = ?, name = ?, description = ?, type_id = ?, path = ?,
			depth = ?, order_index = ?, content_count = ?, is_active = ?, is_visible = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		nullable(n.ParentID), n.Code, n.Name, n.Description, n.TypeID, n.Path, n.Depth, n.OrderIndex,
		n.ContentCount, n.IsActive, n.IsVisible, nanos(n.UpdatedAt), n.UpdatedBy, n.ID, expectedVersion)
	if err != nil {
		return wrap("update node", err)
	}
	if err := t.expectOne(ctx, "update node", res, n.ID); err != nil {
		return err
	}
	n.Version = expectedVersion + 1
	return nil
}

func (t *sqliteTx) UpdatePaths(ctx context.Context, batch []tree.PathUpdate, at time.Time, actor string) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		UPDATE nodes SET path = ?, depth = ?, version = version + 1, updated_at = ?, updated_by = ?
		WHERE id = ? AND deleted_at IS NULL`)
	if err != nil {
		return wrap("prepare path update", err)
	}
	defer func() { _ = stmt.Close() }() // safe to ignore

	for _, u := range batch {
		res, err := stmt.ExecContext(ctx, u.Path, u.Depth, nanos(at), actor, u.ID)
		if err != nil {
			return wrap("update path", err)
		}
		if err := t.expectOne(ctx, "update path of node", res, u.ID); err != nil {
			return err
		}
	}
	return nil
}

// ShiftOrder runs in two statements: first park the affected rows on
// negative indexes, then flip them back one higher. SQLite checks unique
// indexes row by row, so a single "order_index + 1" could collide midway.
func (t *sqliteTx) ShiftOrder(ctx context.Context, parentID *int64, from int, exclude int64, at time.Time, actor string) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE nodes SET order_index = -(order_index + 1), version = version + 1, updated_at = ?, updated_by = ?
		WHERE parent_id IS ? AND deleted_at IS NULL AND order_index >= ? AND id <> ?`,
		nanos(at), actor, nullable(parentID), from, exclude); err != nil {
		return wrap("shift order", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE nodes SET order_index = -order_index
		WHERE parent_id IS ? AND deleted_at IS NULL AND order_index < 0`, nullable(parentID)); err != nil {
		return wrap("shift order", err)
	}
	return nil
}

// SetOrder parks every row of the batch on a distinct negative index before
// assigning the final values, for the same reason as ShiftOrder.
func (t *sqliteTx) SetOrder(ctx context.Context, batch []tree.OrderUpdate, at time.Time, actor string) error {
	if len(batch) == 0 {
		return nil
	}
	park, err := t.tx.PrepareContext(ctx, `
		UPDATE nodes SET order_index = ?, version = version + 1, updated_at = ?, updated_by = ?
		WHERE id = ? AND deleted_at IS NULL`)
	if err != nil {
		return wrap("prepare order update", err)
	}
	defer func() { _ = park.Close() }() // safe to ignore

	for i, u := range batch {
		res, err := park.ExecContext(ctx, -(i + 1), nanos(at), actor, u.ID)
		if err != nil {
			return wrap("set order", err)
		}
		if err := t.expectOne(ctx, "set order of node", res, u.ID); err != nil {
			return err
		}
	}

	final, err := t.tx.PrepareContext(ctx, `UPDATE nodes SET order_index = ? WHERE id = ?`)
	if err != nil {
		return wrap("prepare order update", err)
	}
	defer func() { _ = final.Close() }() // safe to ignore

	for _, u := range batch {
		if _, err := final.ExecContext(ctx, u.OrderIndex, u.ID); err != nil {
			return wrap("set order", err)
		}
	}
	return nil
}

func (t *sqliteTx) SoftDelete(ctx context.Context, ids []int64, at time.Time, actor string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		UPDATE nodes SET deleted_at = ?, deleted_by = ?, version = version + 1, updated_at = ?, updated_by = ?
		WHERE id = ? AND deleted_at IS NULL`)
	if err != nil {
		return wrap("prepare delete", err)
	}
	defer func() { _ = stmt.Close() }() // safe to ignore

	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, nanos(at), actor, nanos(at), actor, id)
		if err != nil {
			return wrap("delete node", err)
		}
		if err := t.expectOne(ctx, "delete node", res, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) InsertType(ctx context.Context, nt *tree.NodeType) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO node_types (code, name, description, allows_children, is_active, is_visible, is_system,
			version, created_at, updated_at, created_by, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		nt.Code, nt.Name, nt.Description, nt.AllowsChildren, nt.IsActive, nt.IsVisible, nt.IsSystem,
		nanos(nt.CreatedAt), nanos(nt.UpdatedAt), nt.CreatedBy, nt.UpdatedBy)
	if err != nil {
		return wrap("insert node type", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap("insert node type", err)
	}
	nt.ID = id
	nt.Version = 1
	return nil
}

func (t *sqliteTx) UpdateType(ctx context.Context, nt *tree.NodeType, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE node_types SET code = ?, name = ?, description = ?, allows_children = ?, is_active = ?,
			is_visible = ?, updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		nt.Code, nt.Name, nt.Description, nt.AllowsChildren, nt.IsActive, nt.IsVisible,
		nanos(nt.UpdatedAt), nt.UpdatedBy, nt.ID, expectedVersion)
	if err != nil {
		return wrap("update node type", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrap("update node type", err)
	}
	if affected == 0 {
		cur, err := t.GetType(ctx, nt.ID)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("update node type %d: %w", nt.ID, tree.ErrNotFound)
		}
		return fmt.Errorf("update node type %d: %w", nt.ID, tree.ErrConflict)
	}
	nt.Version = expectedVersion + 1
	return nil
}

func (t *sqliteTx) DeleteType(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM node_types WHERE id = ?`, id)
	if err != nil {
		return wrap("delete node type", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrap("delete node type", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete node type %d: %w", id, tree.ErrNotFound)
	}
	return nil
}

// Verify interface compliance at compile time.
var (
	_ tree.Store = (*SQLiteStore)(nil)
	_ tree.Tx    = (*sqliteTx)(nil)
)
