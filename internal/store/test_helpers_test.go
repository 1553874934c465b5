package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/namegraph/internal/entity"
)

// createTestStore opens a fresh on-disk store under t.TempDir.
func createTestStore(t *testing.T, opts ...Option) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const zeroAddr = "0x0000000000000000000000000000000000000000"

func testDomain(id, owner string) entity.Domain {
	return entity.Domain{ID: id, OwnerID: owner, CreatedAt: 100}
}
