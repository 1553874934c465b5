package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/namegraph/internal/entity"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// executor implements Store over a querier. Inside a transaction populate is
// false: rows read there may be uncommitted and must not enter the cache.
type executor struct {
	q        querier
	cache    *lru.Cache[string, entity.Row]
	populate bool
	touched  []string
}

func cacheKey(kind entity.Kind, id string) string {
	return string(kind) + "/" + id
}

func (x *executor) evict(kind entity.Kind, id string) {
	if x.cache == nil {
		return
	}
	key := cacheKey(kind, id)
	x.cache.Remove(key)
	x.touched = append(x.touched, key)
}

// UpsertIgnore inserts row. An existing row with the same id is left as is.
func (x *executor) UpsertIgnore(ctx context.Context, row entity.Row) error {
	c, err := codecFor(row.Kind())
	if err != nil {
		return fmt.Errorf("upsert ignore: %w", err)
	}
	vals, err := c.values(row)
	if err != nil {
		return fmt.Errorf("upsert ignore %s %s: %w", row.Kind(), row.Key(), err)
	}

	query := insertSQL(c) + " ON CONFLICT(id) DO NOTHING"
	if _, err := x.q.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("upsert ignore %s %s: %w", row.Kind(), row.Key(), err)
	}
	x.evict(row.Kind(), row.Key())
	return nil
}

// UpsertMerge inserts row, or applies patch to the existing row. An empty
// patch behaves like UpsertIgnore.
func (x *executor) UpsertMerge(ctx context.Context, row entity.Row, patch entity.Patch) error {
	if len(patch) == 0 {
		return x.UpsertIgnore(ctx, row)
	}
	c, err := codecFor(row.Kind())
	if err != nil {
		return fmt.Errorf("upsert merge: %w", err)
	}
	vals, err := c.values(row)
	if err != nil {
		return fmt.Errorf("upsert merge %s %s: %w", row.Kind(), row.Key(), err)
	}

	cols := patch.Columns()
	sets := make([]string, 0, len(cols))
	for _, col := range cols {
		if !c.hasColumn(col) {
			return fmt.Errorf("upsert merge %s %s: unknown column %q", row.Kind(), row.Key(), col)
		}
		v, err := encodeValue(patch[col])
		if err != nil {
			return fmt.Errorf("upsert merge %s %s: %s: %w", row.Kind(), row.Key(), col, err)
		}
		sets = append(sets, col+" = ?")
		vals = append(vals, v)
	}

	query := insertSQL(c) + " ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
	if _, err := x.q.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("upsert merge %s %s: %w", row.Kind(), row.Key(), err)
	}
	x.evict(row.Kind(), row.Key())
	return nil
}

// Delete removes the row with id. Deleting an absent row is not an error.
func (x *executor) Delete(ctx context.Context, kind entity.Kind, id string) error {
	c, err := codecFor(kind)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if _, err := x.q.ExecContext(ctx, "DELETE FROM "+c.table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	x.evict(kind, id)
	return nil
}

func insertSQL(c *codec) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(c.columns)), ", ")
	return "INSERT INTO " + c.table + " (" + strings.Join(c.columns, ", ") + ") VALUES (" + marks + ")"
}

// UpsertIgnore inserts row outside any transaction.
func (d *DB) UpsertIgnore(ctx context.Context, row entity.Row) error {
	return d.base.UpsertIgnore(ctx, row)
}

// UpsertMerge inserts or patches row outside any transaction.
func (d *DB) UpsertMerge(ctx context.Context, row entity.Row, patch entity.Patch) error {
	return d.base.UpsertMerge(ctx, row, patch)
}

// Delete removes a row outside any transaction.
func (d *DB) Delete(ctx context.Context, kind entity.Kind, id string) error {
	return d.base.Delete(ctx, kind, id)
}

// Atomic runs fn against a transaction. The transaction commits only if fn
// returns nil; fn's error is returned unwrapped.
func (d *DB) Atomic(ctx context.Context, fn func(Store) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	x := &executor{q: tx, cache: d.cache}
	// Keys written in the transaction are evicted again once it ends.
	defer func() { d.evictKeys(x.touched) }()

	if err := fn(x); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (d *DB) evictKeys(keys []string) {
	if d.cache == nil {
		return
	}
	for _, k := range keys {
		d.cache.Remove(k)
	}
}
