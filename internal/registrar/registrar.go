// Package registrar maintains Registration rows from base registrar and
// registrar controller events.
//
// A name moves through Unregistered, Registered, any number of renewals and
// transfers, and finally expiry (see entity.Registration.Status). The
// controller's plaintext label may arrive before or after the registrar's
// NameRegistered; both orders converge on the same rows.
package registrar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/heal"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/store"
)

// Namespace is the name a registrar hands out labels under, e.g. "eth".
type Namespace struct {
	Name   string
	Node   common.Hash
	Scheme ident.Scheme
}

// NewNamespace derives the namespace node from its name.
func NewNamespace(name string, scheme ident.Scheme) Namespace {
	return Namespace{Name: name, Node: ident.NameHash(name), Scheme: scheme}
}

// Handler applies registrar events for one namespace.
type Handler struct {
	store  store.Store
	healer heal.Healer
	ns     Namespace
	logger *slog.Logger
}

// New returns a Handler for ns. healer and logger may be nil.
func New(s store.Store, healer heal.Healer, ns Namespace, logger *slog.Logger) *Handler {
	if healer == nil {
		healer = heal.None
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{store: s, healer: healer, ns: ns, logger: logger}
}

// Preimage is the plaintext label a controller publishes alongside a
// registration or renewal. Owner and Expires are set only for registrations.
type Preimage struct {
	Name      string
	LabelHash common.Hash
	Cost      *big.Int
	Owner     *common.Address
	Expires   *uint64
}

func (h *Handler) ids(labelHash common.Hash) (node common.Hash, nodeID, regID string) {
	node = ident.Node(h.ns.Node, labelHash)
	return node, ident.HashID(node), h.ns.Scheme.RegistrationID(labelHash, node)
}

// Registration returns the registration of labelHash in this namespace.
func (h *Handler) Registration(ctx context.Context, labelHash common.Hash) (entity.Registration, bool, error) {
	_, _, regID := h.ids(labelHash)
	return store.Get[entity.Registration](ctx, h.store, regID)
}

// Register applies NameRegistered.
func (h *Handler) Register(ctx context.Context, meta entity.Meta, labelHash common.Hash, owner common.Address, expires uint64) error {
	return h.register(ctx, meta, "NameRegistered", labelHash, owner, expires)
}

// Migrate applies NameMigrated, which carries a registration over from the
// previous registrar and is handled exactly like a registration.
func (h *Handler) Migrate(ctx context.Context, meta entity.Meta, labelHash common.Hash, owner common.Address, expires uint64) error {
	return h.register(ctx, meta, "NameMigrated", labelHash, owner, expires)
}

func (h *Handler) register(ctx context.Context, meta entity.Meta, event string, labelHash common.Hash, owner common.Address, expires uint64) error {
	node, nodeID, regID := h.ids(labelHash)

	cur, err := h.domain(ctx, nodeID, "registration of "+regID)
	if err != nil {
		return err
	}

	label := cur.LabelName
	if label == nil {
		healed, ok, err := heal.Lookup(ctx, h.healer, labelHash)
		if err != nil {
			return fmt.Errorf("register %s: %w", regID, err)
		}
		if ok && ident.IsIndexableLabel(healed) {
			label = &healed
		}
	}

	ownerID := ident.AddressID(owner)
	if err := store.EnsureAccount(ctx, h.store, ownerID); err != nil {
		return fmt.Errorf("register %s: %w", regID, err)
	}

	domainPatch := entity.Patch{
		entity.FieldRegistrantID: ownerID,
		entity.FieldExpiryDate:   entity.GraceEnd(expires),
	}
	regRow := entity.Registration{
		ID:               regID,
		DomainID:         nodeID,
		RegistrationDate: meta.Timestamp,
		ExpiryDate:       expires,
		RegistrantID:     ownerID,
	}
	regPatch := entity.Patch{
		entity.FieldDomainID:         nodeID,
		entity.FieldRegistrationDate: meta.Timestamp,
		entity.FieldExpiryDate:       expires,
		entity.FieldRegistrantID:     ownerID,
	}
	if label != nil {
		h.labelPatch(domainPatch, *label)
		regRow.LabelName = label
		regPatch[entity.FieldLabelName] = *label
	}

	if err := h.store.UpsertMerge(ctx, cur, domainPatch); err != nil {
		return fmt.Errorf("register %s: %w", regID, err)
	}
	if err := h.store.UpsertMerge(ctx, regRow, regPatch); err != nil {
		return fmt.Errorf("register %s: %w", regID, err)
	}
	return store.Record(ctx, h.store, meta, event, regID, map[string]any{
		"id":      ident.TokenIDFromHash(labelHash),
		"node":    node,
		"owner":   owner,
		"expires": expires,
	})
}

// RegisterPreimage applies a controller NameRegistered or NameRenewed. The
// label is written to the domain and registration; when the registration is
// not known yet and the preimage carries owner and expiry, it is created from
// them so the registrar event that follows finds it in place. The domain
// itself must already exist.
func (h *Handler) RegisterPreimage(ctx context.Context, meta entity.Meta, event string, p Preimage) error {
	node, nodeID, regID := h.ids(p.LabelHash)

	if !ident.IsIndexableLabel(p.Name) {
		h.logger.Debug("preimage not indexable", "registration", regID)
		return nil
	}
	if ident.LabelHash(p.Name) != p.LabelHash {
		h.logger.Warn("preimage does not hash to label", "registration", regID, "name", p.Name)
		return nil
	}

	d, err := h.domain(ctx, nodeID, "preimage of "+regID)
	if err != nil {
		return err
	}
	reg, regFound, err := store.Get[entity.Registration](ctx, h.store, regID)
	if err != nil {
		return fmt.Errorf("register preimage %s: %w", regID, err)
	}

	label := p.Name
	domainPatch := entity.Patch{}
	h.labelPatch(domainPatch, label)
	if err := h.store.UpsertMerge(ctx, d, domainPatch); err != nil {
		return fmt.Errorf("register preimage %s: %w", regID, err)
	}

	regPatch := entity.Patch{entity.FieldLabelName: label}
	var cost *string
	if p.Cost != nil {
		cost = entity.Ptr(p.Cost.String())
		regPatch[entity.FieldCost] = *cost
	}

	switch {
	case regFound:
		if err := h.store.UpsertMerge(ctx, reg, regPatch); err != nil {
			return fmt.Errorf("register preimage %s: %w", regID, err)
		}
	case p.Owner != nil && p.Expires != nil:
		ownerID := ident.AddressID(*p.Owner)
		if err := store.EnsureAccount(ctx, h.store, ownerID); err != nil {
			return fmt.Errorf("register preimage %s: %w", regID, err)
		}
		row := entity.Registration{
			ID:               regID,
			DomainID:         nodeID,
			RegistrationDate: meta.Timestamp,
			ExpiryDate:       *p.Expires,
			Cost:             cost,
			RegistrantID:     ownerID,
			LabelName:        &label,
		}
		if err := h.store.UpsertMerge(ctx, row, regPatch); err != nil {
			return fmt.Errorf("register preimage %s: %w", regID, err)
		}
	default:
		h.logger.Debug("preimage for unknown registration", "registration", regID)
	}

	args := map[string]any{"name": p.Name, "label": p.LabelHash, "node": node, "cost": p.Cost}
	if p.Owner != nil {
		args["owner"] = *p.Owner
	}
	if p.Expires != nil {
		args["expires"] = *p.Expires
	}
	return store.Record(ctx, h.store, meta, event, regID, args)
}

// Renew extends the registration and its domain. Renewing a registration
// or domain that does not exist is an invariant violation: the registrar
// only renews names it registered.
func (h *Handler) Renew(ctx context.Context, meta entity.Meta, labelHash common.Hash, expires uint64) error {
	node, nodeID, regID := h.ids(labelHash)

	reg, found, err := store.Get[entity.Registration](ctx, h.store, regID)
	if err != nil {
		return fmt.Errorf("renew %s: %w", regID, err)
	}
	if !found {
		return fmt.Errorf("%w: renewal of unknown registration %s", entity.ErrInvariant, regID)
	}
	d, err := h.domain(ctx, nodeID, "renewal of "+regID)
	if err != nil {
		return err
	}

	if err := h.store.UpsertMerge(ctx, reg, entity.Patch{entity.FieldExpiryDate: expires}); err != nil {
		return fmt.Errorf("renew %s: %w", regID, err)
	}
	domainPatch := entity.Patch{entity.FieldExpiryDate: entity.GraceEnd(expires)}
	if err := h.store.UpsertMerge(ctx, d, domainPatch); err != nil {
		return fmt.Errorf("renew %s: %w", regID, err)
	}
	return store.Record(ctx, h.store, meta, "NameRenewed", regID, map[string]any{
		"id":      ident.TokenIDFromHash(labelHash),
		"node":    node,
		"expires": expires,
	})
}

// Transfer moves the registration to a new registrant. Transfers of a
// registration not seen yet (the mint that precedes NameRegistered) are
// skipped.
func (h *Handler) Transfer(ctx context.Context, meta entity.Meta, labelHash common.Hash, from, to common.Address) error {
	_, nodeID, regID := h.ids(labelHash)

	reg, found, err := store.Get[entity.Registration](ctx, h.store, regID)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", regID, err)
	}
	if !found {
		h.logger.Debug("transfer of unknown registration", "registration", regID)
		return nil
	}

	toID := ident.AddressID(to)
	if err := store.EnsureAccount(ctx, h.store, toID); err != nil {
		return fmt.Errorf("transfer %s: %w", regID, err)
	}
	patch := entity.Patch{entity.FieldRegistrantID: toID}
	if err := h.store.UpsertMerge(ctx, reg, patch); err != nil {
		return fmt.Errorf("transfer %s: %w", regID, err)
	}

	d, domainFound, err := store.Get[entity.Domain](ctx, h.store, nodeID)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", regID, err)
	}
	if domainFound {
		if err := h.store.UpsertMerge(ctx, d, patch); err != nil {
			return fmt.Errorf("transfer %s: %w", regID, err)
		}
	}
	return store.Record(ctx, h.store, meta, "Transfer", regID, map[string]any{
		"from":    from,
		"to":      to,
		"tokenId": ident.TokenIDFromHash(labelHash),
	})
}

// domain returns the domain at nodeID. The registry's NewOwner creates it
// before any registrar event for the name.
func (h *Handler) domain(ctx context.Context, nodeID, what string) (entity.Domain, error) {
	d, found, err := store.Get[entity.Domain](ctx, h.store, nodeID)
	if err != nil {
		return entity.Domain{}, fmt.Errorf("%s: %w", what, err)
	}
	if !found {
		return entity.Domain{}, fmt.Errorf("%w: %s on unknown domain %s", entity.ErrInvariant, what, nodeID)
	}
	return d, nil
}

func (h *Handler) labelPatch(p entity.Patch, label string) {
	p[entity.FieldLabelName] = label
	p[entity.FieldName] = ident.JoinName(label, h.ns.Name)
}
