// Package migration arbitrates between the superseded registry deployment
// and its successor.
//
// Migration is one-way and per node. Once the successor has written a node
// (isMigrated = true), events from the legacy deployment for that node are
// dropped. A node the engine has never seen counts as not migrated.
package migration

import (
	"context"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/domaingraph"
	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/ident"
)

// Gate wraps a Maintainer with the legacy/successor split.
type Gate struct {
	graph  *domaingraph.Maintainer
	logger *slog.Logger
}

// New returns a Gate over graph. logger may be nil.
func New(graph *domaingraph.Maintainer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gate{graph: graph, logger: logger}
}

// IsMigrated reports whether the successor deployment owns node.
func (g *Gate) IsMigrated(ctx context.Context, node common.Hash) (bool, error) {
	d, found, err := g.graph.Domain(ctx, node)
	if err != nil {
		return false, err
	}
	return found && d.IsMigrated, nil
}

func (g *Gate) skip(ctx context.Context, op string, node common.Hash) (bool, error) {
	migrated, err := g.IsMigrated(ctx, node)
	if err != nil {
		return false, err
	}
	if migrated {
		g.logger.Debug("legacy event on migrated node dropped", "op", op, "node", ident.HashID(node))
	}
	return migrated, nil
}

// LegacySetOwner applies a legacy NewOwner unless the node has migrated.
func (g *Gate) LegacySetOwner(ctx context.Context, meta entity.Meta, parent, labelHash common.Hash, owner common.Address) error {
	if skip, err := g.skip(ctx, "NewOwner", ident.Node(parent, labelHash)); err != nil || skip {
		return err
	}
	return g.graph.SetOwner(ctx, meta, parent, labelHash, owner, false)
}

// LegacyTransfer applies a legacy Transfer unless the node has migrated.
func (g *Gate) LegacyTransfer(ctx context.Context, meta entity.Meta, node common.Hash, owner common.Address) error {
	if skip, err := g.skip(ctx, "Transfer", node); err != nil || skip {
		return err
	}
	return g.graph.Transfer(ctx, meta, node, owner)
}

// LegacySetResolver applies a legacy NewResolver unless the node has
// migrated. The root node is exempt: its resolver stayed under the legacy
// registry's control.
func (g *Gate) LegacySetResolver(ctx context.Context, meta entity.Meta, node common.Hash, resolver common.Address) error {
	if node != ident.RootNode {
		if skip, err := g.skip(ctx, "NewResolver", node); err != nil || skip {
			return err
		}
	}
	return g.graph.SetResolver(ctx, meta, node, resolver)
}

// LegacySetTTL applies a legacy NewTTL unless the node has migrated.
func (g *Gate) LegacySetTTL(ctx context.Context, meta entity.Meta, node common.Hash, ttl uint64) error {
	if skip, err := g.skip(ctx, "NewTTL", node); err != nil || skip {
		return err
	}
	return g.graph.SetTTL(ctx, meta, node, ttl)
}

// SuccessorSetOwner applies a successor NewOwner and marks the node
// migrated.
func (g *Gate) SuccessorSetOwner(ctx context.Context, meta entity.Meta, parent, labelHash common.Hash, owner common.Address) error {
	return g.graph.SetOwner(ctx, meta, parent, labelHash, owner, true)
}

// SuccessorTransfer applies a successor Transfer.
func (g *Gate) SuccessorTransfer(ctx context.Context, meta entity.Meta, node common.Hash, owner common.Address) error {
	return g.graph.Transfer(ctx, meta, node, owner)
}

// SuccessorSetResolver applies a successor NewResolver.
func (g *Gate) SuccessorSetResolver(ctx context.Context, meta entity.Meta, node common.Hash, resolver common.Address) error {
	return g.graph.SetResolver(ctx, meta, node, resolver)
}

// SuccessorSetTTL applies a successor NewTTL.
func (g *Gate) SuccessorSetTTL(ctx context.Context, meta entity.Meta, node common.Hash, ttl uint64) error {
	return g.graph.SetTTL(ctx, meta, node, ttl)
}
