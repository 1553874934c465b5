// Package domaingraph maintains Domain rows: ownership, resolver pointers,
// TTLs, subdomain counts, and the pruning of domains that become empty.
//
// Every operation re-reads the rows it depends on. Nothing is cached between
// calls, so a sibling event that already adjusted a parent's count is seen
// by the next one.
package domaingraph

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/heal"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/store"
)

var (
	zeroID = ident.AddressID(ident.ZeroAddress)
	rootID = ident.HashID(ident.RootNode)
)

// Maintainer applies registry events to the domain graph.
type Maintainer struct {
	store  store.Store
	healer heal.Healer
	logger *slog.Logger
}

// New returns a Maintainer over s. healer and logger may be nil.
func New(s store.Store, healer heal.Healer, logger *slog.Logger) *Maintainer {
	if healer == nil {
		healer = heal.None
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Maintainer{store: s, healer: healer, logger: logger}
}

// EnsureRoot inserts the root domain, owned by the zero address, once.
func (m *Maintainer) EnsureRoot(ctx context.Context) error {
	if err := store.EnsureAccount(ctx, m.store, zeroID); err != nil {
		return fmt.Errorf("ensure root: %w", err)
	}
	if err := m.store.UpsertIgnore(ctx, entity.Domain{ID: rootID, OwnerID: zeroID}); err != nil {
		return fmt.Errorf("ensure root: %w", err)
	}
	return nil
}

// Domain returns the domain at node.
func (m *Maintainer) Domain(ctx context.Context, node common.Hash) (entity.Domain, bool, error) {
	return store.Get[entity.Domain](ctx, m.store, ident.HashID(node))
}

// SetOwner assigns owner to the node labelHash under parent. The first time
// the node is linked to its parent, the parent's children are recounted;
// later calls only update the owner and migration flag.
func (m *Maintainer) SetOwner(ctx context.Context, meta entity.Meta, parent, labelHash common.Hash, owner common.Address, migrated bool) error {
	node := ident.Node(parent, labelHash)
	nodeID, parentID := ident.HashID(node), ident.HashID(parent)
	labelHashID := ident.HashID(labelHash)

	cur, found, err := store.Get[entity.Domain](ctx, m.store, nodeID)
	if err != nil {
		return fmt.Errorf("set owner %s: %w", nodeID, err)
	}
	parentRow, parentFound, err := store.Get[entity.Domain](ctx, m.store, parentID)
	if err != nil {
		return fmt.Errorf("set owner %s: %w", nodeID, err)
	}

	// Heal before writing anything so a healing failure leaves no trace.
	var label *string
	if !found || cur.Name == nil {
		label, err = m.healLabel(ctx, labelHash)
		if err != nil {
			return fmt.Errorf("set owner %s: %w", nodeID, err)
		}
		if label == nil && found {
			label = cur.LabelName
		}
	}

	ownerID := ident.AddressID(owner)
	if err := store.EnsureAccount(ctx, m.store, ownerID); err != nil {
		return fmt.Errorf("set owner %s: %w", nodeID, err)
	}

	row := entity.Domain{
		ID:         nodeID,
		ParentID:   &parentID,
		LabelHash:  &labelHashID,
		OwnerID:    ownerID,
		IsMigrated: migrated,
		CreatedAt:  meta.Timestamp,
	}
	patch := entity.Patch{
		entity.FieldOwnerID:    ownerID,
		entity.FieldIsMigrated: migrated,
	}
	linking := !found || cur.ParentID == nil
	if linking {
		patch[entity.FieldParentID] = parentID
		patch[entity.FieldLabelHash] = labelHashID
	}
	if !found {
		// Children linked before this node existed are already in place.
		row.SubdomainCount, err = m.store.CountChildren(ctx, nodeID)
		if err != nil {
			return fmt.Errorf("set owner %s: %w", nodeID, err)
		}
	}
	if label != nil {
		row.LabelName = label
		patch[entity.FieldLabelName] = *label
		if name, ok := childName(*label, parent, parentRow, parentFound); ok {
			row.Name = &name
			patch[entity.FieldName] = name
		}
	}

	if err := m.store.UpsertMerge(ctx, row, patch); err != nil {
		return fmt.Errorf("set owner %s: %w", nodeID, err)
	}
	if linking && parentFound {
		if err := m.recount(ctx, parentRow); err != nil {
			return fmt.Errorf("set owner %s: %w", nodeID, err)
		}
	}

	err = store.Record(ctx, m.store, meta, "NewOwner", nodeID, map[string]any{
		"node":     parent,
		"label":    labelHash,
		"owner":    owner,
		"migrated": migrated,
	})
	if err != nil {
		return err
	}

	if owner == ident.ZeroAddress {
		return m.GarbageCollect(ctx, node)
	}
	return nil
}

// Transfer changes the owner of an existing node. A transfer to the zero
// address of a node that no longer exists is what a replay of an already
// collected node looks like, and is skipped.
func (m *Maintainer) Transfer(ctx context.Context, meta entity.Meta, node common.Hash, owner common.Address) error {
	nodeID := ident.HashID(node)
	cur, found, err := store.Get[entity.Domain](ctx, m.store, nodeID)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", nodeID, err)
	}
	if !found {
		if owner == ident.ZeroAddress {
			m.logger.Debug("transfer to zero of absent domain", "node", nodeID)
			return nil
		}
		return fmt.Errorf("%w: transfer of unknown domain %s", entity.ErrInvariant, nodeID)
	}

	ownerID := ident.AddressID(owner)
	if err := store.EnsureAccount(ctx, m.store, ownerID); err != nil {
		return fmt.Errorf("transfer %s: %w", nodeID, err)
	}
	if err := m.store.UpsertMerge(ctx, cur, entity.Patch{entity.FieldOwnerID: ownerID}); err != nil {
		return fmt.Errorf("transfer %s: %w", nodeID, err)
	}
	err = store.Record(ctx, m.store, meta, "Transfer", nodeID, map[string]any{
		"node":  node,
		"owner": owner,
	})
	if err != nil {
		return err
	}

	if owner == ident.ZeroAddress {
		return m.GarbageCollect(ctx, node)
	}
	return nil
}

// SetResolver points the node at resolver, or clears the pointer and the
// denormalized address when resolver is the zero address.
func (m *Maintainer) SetResolver(ctx context.Context, meta entity.Meta, node common.Hash, resolver common.Address) error {
	nodeID := ident.HashID(node)
	cur, found, err := store.Get[entity.Domain](ctx, m.store, nodeID)
	if err != nil {
		return fmt.Errorf("set resolver %s: %w", nodeID, err)
	}
	if !found {
		if resolver == ident.ZeroAddress {
			m.logger.Debug("resolver cleared on absent domain", "node", nodeID)
			return nil
		}
		return fmt.Errorf("%w: resolver set on unknown domain %s", entity.ErrInvariant, nodeID)
	}

	args := map[string]any{"node": node, "resolver": resolver}

	if resolver == ident.ZeroAddress {
		patch := entity.Patch{
			entity.FieldResolverID:        nil,
			entity.FieldResolvedAddressID: nil,
		}
		if err := m.store.UpsertMerge(ctx, cur, patch); err != nil {
			return fmt.Errorf("set resolver %s: %w", nodeID, err)
		}
		if err := store.Record(ctx, m.store, meta, "NewResolver", nodeID, args); err != nil {
			return err
		}
		return m.GarbageCollect(ctx, node)
	}

	resolverID := ident.ResolverID(resolver, node)
	res := entity.Resolver{ID: resolverID, DomainID: nodeID, Address: ident.AddressID(resolver)}
	if err := m.store.UpsertIgnore(ctx, res); err != nil {
		return fmt.Errorf("set resolver %s: %w", nodeID, err)
	}
	// The resolver may already hold an address from events seen before this
	// pointer was set.
	res, _, err = store.Get[entity.Resolver](ctx, m.store, resolverID)
	if err != nil {
		return fmt.Errorf("set resolver %s: %w", nodeID, err)
	}

	patch := entity.Patch{
		entity.FieldResolverID:        resolverID,
		entity.FieldResolvedAddressID: res.AddrID,
	}
	if err := m.store.UpsertMerge(ctx, cur, patch); err != nil {
		return fmt.Errorf("set resolver %s: %w", nodeID, err)
	}
	return store.Record(ctx, m.store, meta, "NewResolver", nodeID, args)
}

// SetTTL records the node's TTL. Absent nodes are skipped.
func (m *Maintainer) SetTTL(ctx context.Context, meta entity.Meta, node common.Hash, ttl uint64) error {
	nodeID := ident.HashID(node)
	cur, found, err := store.Get[entity.Domain](ctx, m.store, nodeID)
	if err != nil {
		return fmt.Errorf("set ttl %s: %w", nodeID, err)
	}
	if !found {
		m.logger.Debug("ttl on absent domain", "node", nodeID)
		return nil
	}
	if err := m.store.UpsertMerge(ctx, cur, entity.Patch{entity.FieldTTL: ttl}); err != nil {
		return fmt.Errorf("set ttl %s: %w", nodeID, err)
	}
	return store.Record(ctx, m.store, meta, "NewTTL", nodeID, map[string]any{"node": node, "ttl": ttl})
}

// GarbageCollect deletes node if it is empty and has a parent, recounts the
// parent's children, and repeats on the parent. It stops at the root, at a
// node without a parent, or at the first non-empty ancestor.
func (m *Maintainer) GarbageCollect(ctx context.Context, node common.Hash) error {
	id := ident.HashID(node)
	for {
		d, found, err := store.Get[entity.Domain](ctx, m.store, id)
		if err != nil {
			return fmt.Errorf("garbage collect %s: %w", id, err)
		}
		if !found || d.ParentID == nil || !d.Empty(zeroID) {
			return nil
		}

		if err := m.store.Delete(ctx, entity.KindDomain, id); err != nil {
			return fmt.Errorf("garbage collect %s: %w", id, err)
		}
		m.logger.Debug("domain collected", "node", id, "parent", *d.ParentID)

		parent, parentFound, err := store.Get[entity.Domain](ctx, m.store, *d.ParentID)
		if err != nil {
			return fmt.Errorf("garbage collect %s: %w", id, err)
		}
		if !parentFound {
			return nil
		}
		if err := m.recount(ctx, parent); err != nil {
			return fmt.Errorf("garbage collect %s: %w", id, err)
		}
		id = parent.ID
	}
}

// recount sets d's subdomain count to the number of its live children.
func (m *Maintainer) recount(ctx context.Context, d entity.Domain) error {
	n, err := m.store.CountChildren(ctx, d.ID)
	if err != nil {
		return err
	}
	if n == d.SubdomainCount {
		return nil
	}
	return m.store.UpsertMerge(ctx, d, entity.Patch{entity.FieldSubdomainCount: n})
}

// healLabel returns the indexable label of labelHash, or nil.
func (m *Maintainer) healLabel(ctx context.Context, labelHash common.Hash) (*string, error) {
	label, found, err := heal.Lookup(ctx, m.healer, labelHash)
	if err != nil {
		return nil, err
	}
	if !found || !ident.IsIndexableLabel(label) {
		return nil, nil
	}
	return &label, nil
}

func childName(label string, parent common.Hash, parentRow entity.Domain, parentFound bool) (string, bool) {
	if parent == ident.RootNode {
		return label, true
	}
	if parentFound && parentRow.Name != nil {
		return ident.JoinName(label, *parentRow.Name), true
	}
	return "", false
}
