package testutil

import (
	"strconv"
	"sync"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/ident"
)

// BlockTime is the timestamp step between consecutive test blocks.
const BlockTime = 12

// Chain hands out deterministic, strictly increasing log positions for a
// test chain: block numbers, log indexes, timestamps and event ids.
//
// Unlike a real chain it can be reset, so the same scenario replays with
// identical ids.
//
// Thread-safety: all methods are safe for concurrent use.
type Chain struct {
	mu      sync.Mutex
	chainID uint64
	scheme  ident.Scheme
	block   uint64
	log     uint
}

// NewChain starts a chain at block 1, log index 0.
func NewChain(chainID uint64, scheme ident.Scheme) *Chain {
	return &Chain{chainID: chainID, scheme: scheme, block: 1}
}

// Next returns the next log position in the current block.
func (c *Chain) Next() entity.Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.meta()
	c.log++
	return m
}

// NextBlock advances to a new block and returns its first log position.
func (c *Chain) NextBlock() entity.Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	c.log = 0
	m := c.meta()
	c.log++
	return m
}

// Reset rewinds to block 1, log index 0.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block, c.log = 1, 0
}

func (c *Chain) meta() entity.Meta {
	return entity.Meta{
		EventID:     c.scheme.EventID(c.block, c.log),
		ChainID:     c.chainID,
		BlockNumber: c.block,
		Timestamp:   1_700_000_000 + c.block*BlockTime,
		TxHash:      "0x" + strconv.FormatUint(c.block, 16),
	}
}

// FixedRunID returns a run id generator that always yields id, so logs and
// golden output do not depend on uuid generation.
func FixedRunID(id string) func() string {
	if id == "" {
		id = "test-run"
	}
	return func() string { return id }
}
