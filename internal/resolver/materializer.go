// Package resolver materializes resolver records. Any contract can emit
// resolver-shaped events, so a Resolver row is created by whichever event
// reaches it first and is never assumed to exist.
package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/store"
)

// Materializer applies resolver events.
type Materializer struct {
	store  store.Store
	logger *slog.Logger
}

// New returns a Materializer over s. logger may be nil.
func New(s store.Store, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Materializer{store: s, logger: logger}
}

// Resolver returns the record set contract holds for node.
func (m *Materializer) Resolver(ctx context.Context, contract common.Address, node common.Hash) (entity.Resolver, bool, error) {
	return store.Get[entity.Resolver](ctx, m.store, ident.ResolverID(contract, node))
}

func stub(contract common.Address, node common.Hash) entity.Resolver {
	return entity.Resolver{
		ID:       ident.ResolverID(contract, node),
		DomainID: ident.HashID(node),
		Address:  ident.AddressID(contract),
	}
}

// ensure inserts the resolver if needed and returns its current row.
func (m *Materializer) ensure(ctx context.Context, contract common.Address, node common.Hash) (entity.Resolver, error) {
	row := stub(contract, node)
	if err := m.store.UpsertIgnore(ctx, row); err != nil {
		return row, err
	}
	cur, _, err := store.Get[entity.Resolver](ctx, m.store, row.ID)
	return cur, err
}

// active reports whether the domain at node currently points at resolverID.
func (m *Materializer) active(ctx context.Context, node common.Hash, resolverID string) (entity.Domain, bool, error) {
	d, found, err := store.Get[entity.Domain](ctx, m.store, ident.HashID(node))
	if err != nil || !found {
		return d, false, err
	}
	return d, d.ResolverID != nil && *d.ResolverID == resolverID, nil
}

// SetAddress applies AddrChanged. The domain's resolved address follows
// only when this resolver is the one the domain points at.
func (m *Materializer) SetAddress(ctx context.Context, meta entity.Meta, contract common.Address, node common.Hash, addr common.Address) error {
	row := stub(contract, node)
	addrID := ident.AddressID(addr)

	if err := store.EnsureAccount(ctx, m.store, addrID); err != nil {
		return fmt.Errorf("set address %s: %w", row.ID, err)
	}
	row.AddrID = &addrID
	if err := m.store.UpsertMerge(ctx, row, entity.Patch{entity.FieldAddrID: addrID}); err != nil {
		return fmt.Errorf("set address %s: %w", row.ID, err)
	}

	d, isActive, err := m.active(ctx, node, row.ID)
	if err != nil {
		return fmt.Errorf("set address %s: %w", row.ID, err)
	}
	if isActive {
		if err := m.store.UpsertMerge(ctx, d, entity.Patch{entity.FieldResolvedAddressID: addrID}); err != nil {
			return fmt.Errorf("set address %s: %w", row.ID, err)
		}
	} else {
		m.logger.Debug("address on inactive resolver", "resolver", row.ID)
	}

	return store.Record(ctx, m.store, meta, "AddrChanged", row.ID, map[string]any{
		"node": node,
		"a":    addr,
	})
}

// SetCoinTypeAddress applies AddressChanged. The coin type joins the
// resolver's set; the address itself lives only in the audit log.
func (m *Materializer) SetCoinTypeAddress(ctx context.Context, meta entity.Meta, contract common.Address, node common.Hash, coinType *big.Int, addr []byte) error {
	cur, err := m.ensure(ctx, contract, node)
	if err != nil {
		return fmt.Errorf("set coin type %s: %w", cur.ID, err)
	}
	if coins, added := appendUnique(cur.CoinTypes, coinType.String()); added {
		if err := m.store.UpsertMerge(ctx, cur, entity.Patch{entity.FieldCoinTypes: coins}); err != nil {
			return fmt.Errorf("set coin type %s: %w", cur.ID, err)
		}
	}
	return store.Record(ctx, m.store, meta, "AddressChanged", cur.ID, map[string]any{
		"node":       node,
		"coinType":   coinType,
		"newAddress": addr,
	})
}

// SetText applies TextChanged. value is nil for resolvers that do not emit
// it.
func (m *Materializer) SetText(ctx context.Context, meta entity.Meta, contract common.Address, node common.Hash, key string, value *string) error {
	cur, err := m.ensure(ctx, contract, node)
	if err != nil {
		return fmt.Errorf("set text %s: %w", cur.ID, err)
	}
	if texts, added := appendUnique(cur.Texts, key); added {
		if err := m.store.UpsertMerge(ctx, cur, entity.Patch{entity.FieldTexts: texts}); err != nil {
			return fmt.Errorf("set text %s: %w", cur.ID, err)
		}
	}
	return store.Record(ctx, m.store, meta, "TextChanged", cur.ID, map[string]any{
		"node":  node,
		"key":   key,
		"value": value,
	})
}

// SetContentHash applies ContenthashChanged and the older ContentChanged.
func (m *Materializer) SetContentHash(ctx context.Context, meta entity.Meta, event string, contract common.Address, node common.Hash, hash []byte) error {
	row := stub(contract, node)
	var value any
	if len(hash) > 0 {
		encoded := hexutil.Encode(hash)
		row.ContentHash = &encoded
		value = encoded
	}
	if err := m.store.UpsertMerge(ctx, row, entity.Patch{entity.FieldContentHash: value}); err != nil {
		return fmt.Errorf("set content hash %s: %w", row.ID, err)
	}
	return store.Record(ctx, m.store, meta, event, row.ID, map[string]any{
		"node": node,
		"hash": hash,
	})
}

// Touch applies an event that carries no modeled record (NameChanged,
// ABIChanged and the like): the resolver is created and the event logged.
func (m *Materializer) Touch(ctx context.Context, meta entity.Meta, event string, contract common.Address, node common.Hash, args map[string]any) error {
	row := stub(contract, node)
	if err := m.store.UpsertIgnore(ctx, row); err != nil {
		return fmt.Errorf("%s %s: %w", event, row.ID, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	args["node"] = node
	return store.Record(ctx, m.store, meta, event, row.ID, args)
}

// BumpVersion applies VersionChanged, which invalidates every record the
// resolver holds for node. The domain's resolved address is cleared first,
// while the domain still points at this resolver.
func (m *Materializer) BumpVersion(ctx context.Context, meta entity.Meta, contract common.Address, node common.Hash, version uint64) error {
	row := stub(contract, node)

	d, isActive, err := m.active(ctx, node, row.ID)
	if err != nil {
		return fmt.Errorf("bump version %s: %w", row.ID, err)
	}
	if isActive && d.ResolvedAddressID != nil {
		if err := m.store.UpsertMerge(ctx, d, entity.Patch{entity.FieldResolvedAddressID: nil}); err != nil {
			return fmt.Errorf("bump version %s: %w", row.ID, err)
		}
	}

	patch := entity.Patch{
		entity.FieldAddrID:      nil,
		entity.FieldContentHash: nil,
		entity.FieldTexts:       []string{},
		entity.FieldCoinTypes:   []string{},
	}
	if err := m.store.UpsertMerge(ctx, row, patch); err != nil {
		return fmt.Errorf("bump version %s: %w", row.ID, err)
	}
	return store.Record(ctx, m.store, meta, "VersionChanged", row.ID, map[string]any{
		"node":       node,
		"newVersion": version,
	})
}

func appendUnique(set []string, v string) ([]string, bool) {
	if slices.Contains(set, v) {
		return set, false
	}
	return append(slices.Clone(set), v), true
}
