package testutil

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/store"
)

// OpenStore opens a fresh store in t.TempDir and closes it on cleanup.
func OpenStore(t *testing.T, opts ...store.Option) *store.DB {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "namegraph.db"), opts...)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Addr returns a distinct, readable test address ending in n.
func Addr(n uint16) common.Address {
	var a common.Address
	a[18] = byte(n >> 8)
	a[19] = byte(n)
	return a
}
