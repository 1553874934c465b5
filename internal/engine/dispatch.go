package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/domaingraph"
	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/hierarchy"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/manifest"
	"github.com/roach88/namegraph/internal/migration"
	"github.com/roach88/namegraph/internal/registrar"
	"github.com/roach88/namegraph/internal/resolver"
	"github.com/roach88/namegraph/internal/store"
)

// DNS record events are accepted from resolvers and deliberately produce
// no state.
var dnsEvents = map[string]bool{
	"DNSRecordChanged":   true,
	"DNSRecordDeleted":   true,
	"DNSZoneCleared":     true,
	"DNSZonehashChanged": true,
}

var resolverEvents = map[string]bool{
	"AddrChanged":          true,
	"AddressChanged":       true,
	"TextChanged":          true,
	"ContenthashChanged":   true,
	"ContentChanged":       true,
	"VersionChanged":       true,
	"NameChanged":          true,
	"ABIChanged":           true,
	"PubkeyChanged":        true,
	"InterfaceChanged":     true,
	"AuthorisationChanged": true,
}

var hierarchyEvents = map[string]bool{
	"SubregistryUpdate": true,
	"ResolverUpdate":    true,
	"TransferSingle":    true,
	"TransferBatch":     true,
	"NewSubname":        true,
}

func metaFor(scheme ident.Scheme, ev Event, transferIndex ...int) entity.Meta {
	return entity.Meta{
		EventID:     scheme.EventID(ev.BlockNumber, ev.LogIndex, transferIndex...),
		ChainID:     ev.ChainID,
		BlockNumber: ev.BlockNumber,
		Timestamp:   ev.BlockTimestamp,
		TxHash:      ident.HashID(ev.TransactionHash),
	}
}

// dispatch picks the handler for ev. Routed contracts are tried by role
// first. Resolver events are then accepted from any contract, and v2 events
// from any registry already in the graph.
func (e *Engine) dispatch(ctx context.Context, s store.Store, ev Event) (Outcome, error) {
	if route, ok := e.router.Lookup(ev.ChainID, ev.Contract); ok {
		var handled bool
		var err error
		switch route.Role {
		case manifest.RoleRegistryLegacy, manifest.RoleRegistry:
			handled, err = e.registryEvent(ctx, s, route, ev)
		case manifest.RoleRegistrar:
			handled, err = e.registrarEvent(ctx, s, route.Namespace, ev)
		case manifest.RoleController:
			handled, err = e.controllerEvent(ctx, s, route.Namespace, ev)
		case manifest.RoleHierarchy:
			handled, err = e.hierarchyEvent(ctx, s, route.Hierarchy.Scheme(), ev)
		}
		if err != nil {
			return "", err
		}
		if handled {
			return OutcomeApplied, nil
		}
	}

	switch {
	case dnsEvents[ev.Name]:
		e.logger.Debug("dns event ignored", "event", ev.Name, "contract", ident.AddressID(ev.Contract))
		return OutcomeIgnored, nil
	case resolverEvents[ev.Name]:
		if err := e.resolverEvent(ctx, s, e.router.ResolverScheme(ev.ChainID), ev); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	case hierarchyEvents[ev.Name]:
		h, ok := e.router.Hierarchy(ev.ChainID)
		if !ok {
			break
		}
		known, err := hierarchy.New(s, e.logger).IsKnownRegistry(ctx, ev.ChainID, ev.Contract)
		if err != nil {
			return "", err
		}
		if !known {
			break
		}
		if _, err := e.hierarchyEvent(ctx, s, h.Scheme(), ev); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}

	e.logger.Debug("event ignored", "event", ev.Name, "contract", ident.AddressID(ev.Contract))
	return OutcomeIgnored, nil
}

func (e *Engine) registryEvent(ctx context.Context, s store.Store, route manifest.Route, ev Event) (bool, error) {
	gate := migration.New(domaingraph.New(s, e.healer, e.logger), e.logger)
	meta := metaFor(route.Namespace.Scheme(), ev)
	legacy := route.Role == manifest.RoleRegistryLegacy

	switch ev.Name {
	case "NewOwner":
		node, err := ev.Args.Hash("node")
		if err != nil {
			return false, err
		}
		label, err := ev.Args.Hash("label")
		if err != nil {
			return false, err
		}
		owner, err := ev.Args.Address("owner")
		if err != nil {
			return false, err
		}
		if legacy {
			return true, gate.LegacySetOwner(ctx, meta, node, label, owner)
		}
		return true, gate.SuccessorSetOwner(ctx, meta, node, label, owner)

	case "Transfer":
		node, err := ev.Args.Hash("node")
		if err != nil {
			return false, err
		}
		owner, err := ev.Args.Address("owner")
		if err != nil {
			return false, err
		}
		if legacy {
			return true, gate.LegacyTransfer(ctx, meta, node, owner)
		}
		return true, gate.SuccessorTransfer(ctx, meta, node, owner)

	case "NewResolver":
		node, err := ev.Args.Hash("node")
		if err != nil {
			return false, err
		}
		res, err := ev.Args.Address("resolver")
		if err != nil {
			return false, err
		}
		if legacy {
			return true, gate.LegacySetResolver(ctx, meta, node, res)
		}
		return true, gate.SuccessorSetResolver(ctx, meta, node, res)

	case "NewTTL":
		node, err := ev.Args.Hash("node")
		if err != nil {
			return false, err
		}
		ttl, err := ev.Args.Uint64("ttl")
		if err != nil {
			return false, err
		}
		if legacy {
			return true, gate.LegacySetTTL(ctx, meta, node, ttl)
		}
		return true, gate.SuccessorSetTTL(ctx, meta, node, ttl)
	}
	return false, nil
}

func (e *Engine) registrarEvent(ctx context.Context, s store.Store, ns *manifest.Namespace, ev Event) (bool, error) {
	h := registrar.New(s, e.healer, registrar.NewNamespace(ns.Name, ns.Scheme()), e.logger)
	meta := metaFor(ns.Scheme(), ev)

	switch ev.Name {
	case "NameRegistered", "NameMigrated":
		id, err := ev.Args.BigInt("id")
		if err != nil {
			return false, err
		}
		owner, err := ev.Args.Address("owner")
		if err != nil {
			return false, err
		}
		expires, err := ev.Args.Uint64("expires")
		if err != nil {
			return false, err
		}
		if ev.Name == "NameMigrated" {
			return true, h.Migrate(ctx, meta, common.BigToHash(id), owner, expires)
		}
		return true, h.Register(ctx, meta, common.BigToHash(id), owner, expires)

	case "NameRenewed":
		id, err := ev.Args.BigInt("id")
		if err != nil {
			return false, err
		}
		expires, err := ev.Args.Uint64("expires")
		if err != nil {
			return false, err
		}
		return true, h.Renew(ctx, meta, common.BigToHash(id), expires)

	case "Transfer":
		from, err := ev.Args.Address("from")
		if err != nil {
			return false, err
		}
		to, err := ev.Args.Address("to")
		if err != nil {
			return false, err
		}
		id, err := ev.Args.BigInt("tokenId")
		if err != nil {
			return false, err
		}
		return true, h.Transfer(ctx, meta, common.BigToHash(id), from, to)
	}
	return false, nil
}

func (e *Engine) controllerEvent(ctx context.Context, s store.Store, ns *manifest.Namespace, ev Event) (bool, error) {
	if ev.Name != "NameRegistered" && ev.Name != "NameRenewed" {
		return false, nil
	}
	h := registrar.New(s, e.healer, registrar.NewNamespace(ns.Name, ns.Scheme()), e.logger)
	meta := metaFor(ns.Scheme(), ev)

	name, err := ev.Args.String("name")
	if err != nil {
		return false, err
	}
	label, err := ev.Args.Hash("label")
	if err != nil {
		return false, err
	}
	cost, err := controllerCost(ev.Args)
	if err != nil {
		return false, err
	}
	p := registrar.Preimage{Name: name, LabelHash: label, Cost: cost}

	if ev.Name == "NameRegistered" {
		owner, err := ev.Args.Address("owner")
		if err != nil {
			return false, err
		}
		expires, err := ev.Args.Uint64("expires")
		if err != nil {
			return false, err
		}
		p.Owner, p.Expires = &owner, &expires
	}
	return true, h.RegisterPreimage(ctx, meta, ev.Name, p)
}

// controllerCost reads the price paid. Older controllers emit cost, newer
// ones split it into baseCost and premium.
func controllerCost(a Args) (*big.Int, error) {
	if a.Has("cost") {
		return a.BigInt("cost")
	}
	if !a.Has("baseCost") {
		return nil, nil
	}
	base, err := a.BigInt("baseCost")
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Set(base)
	if a.Has("premium") {
		premium, err := a.BigInt("premium")
		if err != nil {
			return nil, err
		}
		total.Add(total, premium)
	}
	return total, nil
}

func (e *Engine) resolverEvent(ctx context.Context, s store.Store, scheme ident.Scheme, ev Event) error {
	m := resolver.New(s, e.logger)
	meta := metaFor(scheme, ev)

	node, err := ev.Args.Hash("node")
	if err != nil {
		return err
	}

	switch ev.Name {
	case "AddrChanged":
		addr, err := ev.Args.Address("a")
		if err != nil {
			return err
		}
		return m.SetAddress(ctx, meta, ev.Contract, node, addr)

	case "AddressChanged":
		coinType, err := ev.Args.BigInt("coinType")
		if err != nil {
			return err
		}
		addr, err := ev.Args.Bytes("newAddress")
		if err != nil {
			return err
		}
		return m.SetCoinTypeAddress(ctx, meta, ev.Contract, node, coinType, addr)

	case "TextChanged":
		key, err := ev.Args.String("key")
		if err != nil {
			return err
		}
		value, err := ev.Args.OptString("value")
		if err != nil {
			return err
		}
		return m.SetText(ctx, meta, ev.Contract, node, key, value)

	case "ContenthashChanged", "ContentChanged":
		hash, err := ev.Args.Bytes("hash")
		if err != nil {
			return err
		}
		return m.SetContentHash(ctx, meta, ev.Name, ev.Contract, node, hash)

	case "VersionChanged":
		version, err := ev.Args.Uint64("newVersion")
		if err != nil {
			return err
		}
		return m.BumpVersion(ctx, meta, ev.Contract, node, version)
	}

	args, err := touchArgs(ev)
	if err != nil {
		return err
	}
	return m.Touch(ctx, meta, ev.Name, ev.Contract, node, args)
}

// touchArgs decodes the arguments kept in the audit log for resolver
// events that carry no modeled record.
func touchArgs(ev Event) (map[string]any, error) {
	a := ev.Args
	switch ev.Name {
	case "NameChanged":
		name, err := a.String("name")
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": name}, nil
	case "ABIChanged":
		contentType, err := a.BigInt("contentType")
		if err != nil {
			return nil, err
		}
		return map[string]any{"contentType": contentType}, nil
	case "PubkeyChanged":
		x, err := a.Hash("x")
		if err != nil {
			return nil, err
		}
		y, err := a.Hash("y")
		if err != nil {
			return nil, err
		}
		return map[string]any{"x": x, "y": y}, nil
	case "InterfaceChanged":
		id, err := a.Bytes("interfaceID")
		if err != nil {
			return nil, err
		}
		impl, err := a.Address("implementer")
		if err != nil {
			return nil, err
		}
		return map[string]any{"interfaceID": id, "implementer": impl}, nil
	case "AuthorisationChanged":
		owner, err := a.Address("owner")
		if err != nil {
			return nil, err
		}
		target, err := a.Address("target")
		if err != nil {
			return nil, err
		}
		ok, err := a.Bool("isAuthorised")
		if err != nil {
			return nil, err
		}
		return map[string]any{"owner": owner, "target": target, "isAuthorised": ok}, nil
	}
	return nil, fmt.Errorf("%w: no resolver handler for %s", ErrDecode, ev.Name)
}

func (e *Engine) hierarchyEvent(ctx context.Context, s store.Store, scheme ident.Scheme, ev Event) (bool, error) {
	g := hierarchy.New(s, e.logger)

	switch ev.Name {
	case "SubregistryUpdate", "ResolverUpdate":
		idArg := "id"
		if !ev.Args.Has(idArg) {
			idArg = "labelHash"
		}
		id, err := ev.Args.BigInt(idArg)
		if err != nil {
			return false, err
		}
		var flags uint64
		if ev.Args.Has("flags") {
			if flags, err = ev.Args.Uint64("flags"); err != nil {
				return false, err
			}
		}
		if ev.Name == "SubregistryUpdate" {
			sub, err := ev.Args.Address("subregistry")
			if err != nil {
				return false, err
			}
			return true, g.SubregistryUpdate(ctx, metaFor(scheme, ev), ev.Contract, id, sub, flags)
		}
		res, err := ev.Args.Address("resolver")
		if err != nil {
			return false, err
		}
		return true, g.ResolverUpdate(ctx, metaFor(scheme, ev), ev.Contract, id, res, flags)

	case "TransferSingle":
		t, err := tokenTransfer(ev)
		if err != nil {
			return false, err
		}
		if t.TokenID, err = ev.Args.BigInt("id"); err != nil {
			return false, err
		}
		if t.Value, err = ev.Args.BigInt("value"); err != nil {
			return false, err
		}
		return true, g.Transfer(ctx, metaFor(scheme, ev), t)

	case "TransferBatch":
		t, err := tokenTransfer(ev)
		if err != nil {
			return false, err
		}
		ids, err := ev.Args.BigInts("ids")
		if err != nil {
			return false, err
		}
		values, err := ev.Args.BigInts("values")
		if err != nil {
			return false, err
		}
		if len(ids) != len(values) {
			return false, fmt.Errorf("%w: %d ids but %d values", ErrDecode, len(ids), len(values))
		}
		for i := range ids {
			t.TokenID, t.Value = ids[i], values[i]
			if err := g.Transfer(ctx, metaFor(scheme, ev, i), t); err != nil {
				return false, err
			}
		}
		return true, nil

	case "NewSubname":
		id, err := ev.Args.BigInt("labelId")
		if err != nil {
			return false, err
		}
		label, err := ev.Args.String("label")
		if err != nil {
			return false, err
		}
		return true, g.SetLabelName(ctx, metaFor(scheme, ev), ev.Contract, id, label)
	}
	return false, nil
}

func tokenTransfer(ev Event) (hierarchy.TokenTransfer, error) {
	t := hierarchy.TokenTransfer{Event: ev.Name, Registry: ev.Contract}
	var err error
	if t.Operator, err = ev.Args.Address("operator"); err != nil {
		return t, err
	}
	if t.From, err = ev.Args.Address("from"); err != nil {
		return t, err
	}
	if t.To, err = ev.Args.Address("to"); err != nil {
		return t, err
	}
	return t, nil
}
