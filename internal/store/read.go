package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/namegraph/internal/entity"
)

// Find returns the row of kind with id, or nil if there is none.
func (x *executor) Find(ctx context.Context, kind entity.Kind, id string) (entity.Row, error) {
	key := cacheKey(kind, id)
	if x.cache != nil {
		if row, ok := x.cache.Get(key); ok {
			return cloneRow(row), nil
		}
	}

	c, err := codecFor(kind)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	query := "SELECT " + columnList(c) + " FROM " + c.table + " WHERE id = ?"
	row, err := c.scan(x.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", kind, id, err)
	}

	if x.cache != nil && x.populate {
		x.cache.Add(key, cloneRow(row))
	}
	return row, nil
}

// Find returns the row of kind with id outside any transaction.
func (d *DB) Find(ctx context.Context, kind entity.Kind, id string) (entity.Row, error) {
	return d.base.Find(ctx, kind, id)
}

// Get is a typed Find. The bool is false when the row is absent.
func Get[T entity.Row](ctx context.Context, s Store, id string) (T, bool, error) {
	var zero T
	row, err := s.Find(ctx, zero.Kind(), id)
	if err != nil || row == nil {
		return zero, false, err
	}
	t, ok := row.(T)
	if !ok {
		return zero, false, fmt.Errorf("find %s %s: unexpected row type %T", zero.Kind(), id, row)
	}
	return t, true, nil
}

// All returns every row of kind ordered by id.
// Returns an empty slice (not nil) if there are none.
func (d *DB) All(ctx context.Context, kind entity.Kind) ([]entity.Row, error) {
	c, err := codecFor(kind)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	query := "SELECT " + columnList(c) + " FROM " + c.table + " ORDER BY id ASC"
	return d.list(ctx, c, query)
}

// Children returns the live domains whose parent is parentID, ordered by
// name then id. Unnamed children sort first.
func (d *DB) Children(ctx context.Context, parentID string) ([]entity.Domain, error) {
	c := codecs[entity.KindDomain]
	query := "SELECT " + columnList(c) + " FROM domains WHERE parent_id = ? ORDER BY name ASC, id ASC"
	rows, err := d.list(ctx, c, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", parentID, err)
	}
	out := make([]entity.Domain, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(entity.Domain))
	}
	return out, nil
}

// CountChildren returns the number of live domains whose parent is parentID.
func (x *executor) CountChildren(ctx context.Context, parentID string) (int64, error) {
	var n int64
	err := x.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM domains WHERE parent_id = ?", parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count children of %s: %w", parentID, err)
	}
	return n, nil
}

// CountChildren counts the children of parentID outside any transaction.
func (d *DB) CountChildren(ctx context.Context, parentID string) (int64, error) {
	return d.base.CountChildren(ctx, parentID)
}

// EventsFor returns the audit log entries recorded against subject in
// block order.
func (d *DB) EventsFor(ctx context.Context, subject string) ([]entity.Event, error) {
	c := codecs[entity.KindEvent]
	query := "SELECT " + columnList(c) + " FROM events WHERE subject = ? ORDER BY block_number ASC, id ASC"
	rows, err := d.list(ctx, c, query, subject)
	if err != nil {
		return nil, fmt.Errorf("events for %s: %w", subject, err)
	}
	out := make([]entity.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(entity.Event))
	}
	return out, nil
}

// Counts returns the number of rows of every kind.
func (d *DB) Counts(ctx context.Context) (map[entity.Kind]int64, error) {
	counts := make(map[entity.Kind]int64, len(entity.Kinds))
	for _, kind := range entity.Kinds {
		var n int64
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+codecs[kind].table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}
		counts[kind] = n
	}
	return counts, nil
}

// CursorID is the cursor row id of a chain.
func CursorID(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

// Cursor returns the last applied position on chainID.
func (d *DB) Cursor(ctx context.Context, chainID uint64) (entity.Cursor, bool, error) {
	return Get[entity.Cursor](ctx, d, CursorID(chainID))
}

func (d *DB) list(ctx context.Context, c *codec, query string, args ...any) ([]entity.Row, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []entity.Row{}
	for rows.Next() {
		row, err := c.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func columnList(c *codec) string {
	s := c.columns[0]
	for _, col := range c.columns[1:] {
		s += ", " + col
	}
	return s
}
