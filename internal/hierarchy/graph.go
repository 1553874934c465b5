// Package hierarchy maintains the v2 registry graph: registries, the labels
// they hold, the subregistries and resolvers those labels point at, and the
// token ownership of each label.
//
// Subregistry and resolver updates for one label may arrive in either
// order. Each touches only its own column of the Label row, so both orders
// converge. A registry bound as the subregistry of one label keeps that
// binding until it is released; conflicting bindings are dropped.
package hierarchy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/store"
)

// Graph applies v2 registry events.
type Graph struct {
	store  store.Store
	logger *slog.Logger
}

// New returns a Graph over s. logger may be nil.
func New(s store.Store, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Graph{store: s, logger: logger}
}

// TokenTransfer is one ERC-1155 token movement. A TransferBatch yields one
// per id, each with its own transfer index in the event id.
type TokenTransfer struct {
	Event    string
	Registry common.Address
	Operator common.Address
	From     common.Address
	To       common.Address
	TokenID  *big.Int
	Value    *big.Int
}

// IsKnownRegistry reports whether contract has been seen as a registry on
// chainID, either as an emitter or as a bound subregistry.
func (g *Graph) IsKnownRegistry(ctx context.Context, chainID uint64, contract common.Address) (bool, error) {
	_, found, err := store.Get[entity.Registry](ctx, g.store, ident.RegistryID(chainID, contract))
	return found, err
}

// Registry returns a registry row.
func (g *Graph) Registry(ctx context.Context, chainID uint64, contract common.Address) (entity.Registry, bool, error) {
	return store.Get[entity.Registry](ctx, g.store, ident.RegistryID(chainID, contract))
}

// Label returns the label slot tokenID occupies in registry.
func (g *Graph) Label(ctx context.Context, chainID uint64, registry common.Address, tokenID *big.Int) (entity.Label, bool, error) {
	return store.Get[entity.Label](ctx, g.store, ident.LabelID(ident.RegistryID(chainID, registry), tokenID))
}

func (g *Graph) ensureRegistry(ctx context.Context, chainID uint64, contract common.Address) (string, error) {
	id := ident.RegistryID(chainID, contract)
	row := entity.Registry{ID: id, ChainID: chainID, Address: ident.AddressID(contract)}
	return id, g.store.UpsertIgnore(ctx, row)
}

func labelStub(registryID string, tokenID *big.Int) entity.Label {
	return entity.Label{
		ID:         ident.LabelID(registryID, tokenID),
		RegistryID: registryID,
		TokenID:    ident.MaskTokenID(tokenID).String(),
	}
}

// SubregistryUpdate binds the label tokenID in registry to subregistry, or
// unbinds it when subregistry is the zero address.
func (g *Graph) SubregistryUpdate(ctx context.Context, meta entity.Meta, registry common.Address, tokenID *big.Int, subregistry common.Address, flags uint64) error {
	registryID, err := g.ensureRegistry(ctx, meta.ChainID, registry)
	if err != nil {
		return fmt.Errorf("subregistry update: %w", err)
	}
	row := labelStub(registryID, tokenID)

	cur, found, err := store.Get[entity.Label](ctx, g.store, row.ID)
	if err != nil {
		return fmt.Errorf("subregistry update %s: %w", row.ID, err)
	}

	args := map[string]any{
		"id":          tokenID,
		"subregistry": subregistry,
		"flags":       flags,
	}

	if subregistry == ident.ZeroAddress {
		if found && cur.SubregistryID != nil {
			if err := g.release(ctx, *cur.SubregistryID, row.ID); err != nil {
				return fmt.Errorf("subregistry update %s: %w", row.ID, err)
			}
		}
		if err := g.store.UpsertMerge(ctx, row, entity.Patch{entity.FieldSubregistryID: nil}); err != nil {
			return fmt.Errorf("subregistry update %s: %w", row.ID, err)
		}
		return store.Record(ctx, g.store, meta, "SubregistryUpdate", row.ID, args)
	}

	subID, err := g.ensureRegistry(ctx, meta.ChainID, subregistry)
	if err != nil {
		return fmt.Errorf("subregistry update %s: %w", row.ID, err)
	}
	sub, _, err := store.Get[entity.Registry](ctx, g.store, subID)
	if err != nil {
		return fmt.Errorf("subregistry update %s: %w", row.ID, err)
	}
	if sub.LabelID != nil && *sub.LabelID != row.ID {
		g.logger.Warn("subregistry already bound, update dropped",
			"subregistry", subID, "bound_to", *sub.LabelID, "label", row.ID)
		return store.Record(ctx, g.store, meta, "SubregistryUpdate", row.ID, args)
	}

	if found && cur.SubregistryID != nil && *cur.SubregistryID != subID {
		if err := g.release(ctx, *cur.SubregistryID, row.ID); err != nil {
			return fmt.Errorf("subregistry update %s: %w", row.ID, err)
		}
	}
	if err := g.store.UpsertMerge(ctx, sub, entity.Patch{entity.FieldLabelID: row.ID}); err != nil {
		return fmt.Errorf("subregistry update %s: %w", row.ID, err)
	}
	row.SubregistryID = &subID
	if err := g.store.UpsertMerge(ctx, row, entity.Patch{entity.FieldSubregistryID: subID}); err != nil {
		return fmt.Errorf("subregistry update %s: %w", row.ID, err)
	}
	return store.Record(ctx, g.store, meta, "SubregistryUpdate", row.ID, args)
}

// ResolverUpdate points the label tokenID in registry at resolver, or clears
// the pointer when resolver is the zero address.
func (g *Graph) ResolverUpdate(ctx context.Context, meta entity.Meta, registry common.Address, tokenID *big.Int, resolver common.Address, flags uint64) error {
	registryID, err := g.ensureRegistry(ctx, meta.ChainID, registry)
	if err != nil {
		return fmt.Errorf("resolver update: %w", err)
	}
	row := labelStub(registryID, tokenID)

	var patch entity.Patch
	if resolver == ident.ZeroAddress {
		patch = entity.Patch{entity.FieldResolverID: nil}
	} else {
		resolverID := ident.V2ResolverID(meta.ChainID, resolver)
		res := entity.V2Resolver{ID: resolverID, ChainID: meta.ChainID, Address: ident.AddressID(resolver)}
		if err := g.store.UpsertIgnore(ctx, res); err != nil {
			return fmt.Errorf("resolver update %s: %w", row.ID, err)
		}
		row.ResolverID = &resolverID
		patch = entity.Patch{entity.FieldResolverID: resolverID}
	}
	if err := g.store.UpsertMerge(ctx, row, patch); err != nil {
		return fmt.Errorf("resolver update %s: %w", row.ID, err)
	}
	return store.Record(ctx, g.store, meta, "ResolverUpdate", row.ID, map[string]any{
		"id":       tokenID,
		"resolver": resolver,
		"flags":    flags,
	})
}

// Transfer applies one token movement. A transfer to a non-zero address
// creates or updates the label's v2 domain; a burn deletes it and releases
// the subregistry bound to the label.
func (g *Graph) Transfer(ctx context.Context, meta entity.Meta, t TokenTransfer) error {
	registryID, err := g.ensureRegistry(ctx, meta.ChainID, t.Registry)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	label := labelStub(registryID, t.TokenID)

	if t.To == ident.ZeroAddress {
		if err := g.store.Delete(ctx, entity.KindV2Domain, label.ID); err != nil {
			return fmt.Errorf("transfer %s: %w", label.ID, err)
		}
		cur, found, err := store.Get[entity.Label](ctx, g.store, label.ID)
		if err != nil {
			return fmt.Errorf("transfer %s: %w", label.ID, err)
		}
		if found && cur.SubregistryID != nil {
			if err := g.release(ctx, *cur.SubregistryID, label.ID); err != nil {
				return fmt.Errorf("transfer %s: %w", label.ID, err)
			}
		}
	} else {
		ownerID := ident.AddressID(t.To)
		if err := store.EnsureAccount(ctx, g.store, ownerID); err != nil {
			return fmt.Errorf("transfer %s: %w", label.ID, err)
		}
		if err := g.store.UpsertIgnore(ctx, label); err != nil {
			return fmt.Errorf("transfer %s: %w", label.ID, err)
		}
		d := entity.V2Domain{
			ID:         label.ID,
			RegistryID: registryID,
			TokenID:    label.TokenID,
			LabelID:    label.ID,
			OwnerID:    ownerID,
		}
		if err := g.store.UpsertMerge(ctx, d, entity.Patch{entity.FieldOwnerID: ownerID}); err != nil {
			return fmt.Errorf("transfer %s: %w", label.ID, err)
		}
	}

	event := t.Event
	if event == "" {
		event = "TransferSingle"
	}
	return store.Record(ctx, g.store, meta, event, label.ID, map[string]any{
		"operator": t.Operator,
		"from":     t.From,
		"to":       t.To,
		"id":       t.TokenID,
		"value":    t.Value,
	})
}

// SetLabelName applies NewSubname. Labels that are not indexable, or that
// do not hash to the token, are skipped.
func (g *Graph) SetLabelName(ctx context.Context, meta entity.Meta, registry common.Address, tokenID *big.Int, label string) error {
	registryID, err := g.ensureRegistry(ctx, meta.ChainID, registry)
	if err != nil {
		return fmt.Errorf("new subname: %w", err)
	}
	row := labelStub(registryID, tokenID)

	if !ident.IsIndexableLabel(label) {
		g.logger.Debug("subname not indexable", "label", row.ID)
		return nil
	}
	if ident.MaskTokenID(ident.TokenIDFromHash(ident.LabelHash(label))).Cmp(ident.MaskTokenID(tokenID)) != 0 {
		g.logger.Warn("subname does not hash to token", "label", row.ID, "name", label)
		return nil
	}

	row.LabelName = &label
	if err := g.store.UpsertMerge(ctx, row, entity.Patch{entity.FieldLabelName: label}); err != nil {
		return fmt.Errorf("new subname %s: %w", row.ID, err)
	}
	return store.Record(ctx, g.store, meta, "NewSubname", row.ID, map[string]any{
		"labelId": tokenID,
		"label":   label,
	})
}

// release clears subID's back-reference if it still points at labelID.
func (g *Graph) release(ctx context.Context, subID, labelID string) error {
	sub, found, err := store.Get[entity.Registry](ctx, g.store, subID)
	if err != nil {
		return err
	}
	if !found || sub.LabelID == nil || *sub.LabelID != labelID {
		return nil
	}
	g.logger.Debug("subregistry released", "subregistry", subID, "label", labelID)
	return g.store.UpsertMerge(ctx, sub, entity.Patch{entity.FieldLabelID: nil})
}
