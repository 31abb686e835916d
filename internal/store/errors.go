// Package store implements tree.Store: an in-memory store for embedding and
// tests, and a SQLite store for persistence.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/arbor/internal/tree"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", tree.ErrTimeout, err)
	}
	return err
}

// classify folds driver failures into the tree error taxonomy: transient
// failures become ErrUnavailable, lost uniqueness races become ErrConflict.
// Anything else is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", tree.ErrTimeout, err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%w: %w", tree.ErrUnavailable, err)
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
			sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL:
			return fmt.Errorf("%w: %w", tree.ErrUnavailable, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || strings.Contains(se.Error(), "UNIQUE") {
				return fmt.Errorf("%w: %w", tree.ErrConflict, err)
			}
		}
	}
	return err
}

// wrap adds an operation label after classification.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, classify(err))
}
