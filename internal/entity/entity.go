package entity

import (
	"errors"
	"slices"
)

// ErrInvariant marks a data-integrity violation: an update that requires an
// existing row found none. Handlers wrap it; the engine classifies on it.
var ErrInvariant = errors.New("invariant violation")

// Kind names an entity table.
type Kind string

const (
	KindAccount      Kind = "account"
	KindDomain       Kind = "domain"
	KindRegistration Kind = "registration"
	KindResolver     Kind = "resolver"
	KindEvent        Kind = "event"
	KindRegistry     Kind = "registry"
	KindLabel        Kind = "label"
	KindV2Resolver   Kind = "v2_resolver"
	KindV2Domain     Kind = "v2_domain"
	KindCursor       Kind = "cursor"
)

// Kinds lists every kind in dependency order.
var Kinds = []Kind{
	KindAccount, KindDomain, KindRegistration, KindResolver, KindEvent,
	KindRegistry, KindLabel, KindV2Resolver, KindV2Domain, KindCursor,
}

// Row is implemented by every entity.
type Row interface {
	Kind() Kind
	Key() string
}

// Patch maps column names to the values written when a row already exists.
// Values are strings, *string, bool, int64, uint64, *uint64 or []string;
// nil clears a nullable column.
type Patch map[string]any

// Columns returns the patch keys in sorted order.
func (p Patch) Columns() []string {
	cols := make([]string, 0, len(p))
	for k := range p {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols
}

// Column names usable in a Patch.
const (
	FieldName              = "name"
	FieldLabelName         = "label_name"
	FieldLabelHash         = "label_hash"
	FieldParentID          = "parent_id"
	FieldSubdomainCount    = "subdomain_count"
	FieldResolvedAddressID = "resolved_address_id"
	FieldResolverID        = "resolver_id"
	FieldTTL               = "ttl"
	FieldIsMigrated        = "is_migrated"
	FieldOwnerID           = "owner_id"
	FieldRegistrantID      = "registrant_id"
	FieldExpiryDate        = "expiry_date"
	FieldDomainID          = "domain_id"
	FieldRegistrationDate  = "registration_date"
	FieldCost              = "cost"
	FieldAddrID            = "addr_id"
	FieldContentHash       = "content_hash"
	FieldTexts             = "texts"
	FieldCoinTypes         = "coin_types"
	FieldLabelID           = "label_id"
	FieldSubregistryID     = "subregistry_id"
	FieldBlockNumber       = "block_number"
	FieldLogIndex          = "log_index"
)

// Ptr returns a pointer to v, for nullable fields.
func Ptr[T any](v T) *T {
	return &v
}

// Meta identifies the log event a handler is applying.
type Meta struct {
	EventID     string
	ChainID     uint64
	BlockNumber uint64
	Timestamp   uint64
	TxHash      string
}
