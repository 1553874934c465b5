package entity

// Account exists so ownership fields always reference a known address.
type Account struct {
	ID string `json:"id"`
}

func (Account) Kind() Kind { return KindAccount }
func (a Account) Key() string { return a.ID }

// Domain is one name node.
type Domain struct {
	ID                string  `json:"id"`
	Name              *string `json:"name"`
	LabelName         *string `json:"label_name"`
	LabelHash         *string `json:"label_hash"`
	ParentID          *string `json:"parent_id"`
	SubdomainCount    int64   `json:"subdomain_count"`
	ResolvedAddressID *string `json:"resolved_address_id"`
	ResolverID        *string `json:"resolver_id"`
	TTL               *uint64 `json:"ttl"`
	IsMigrated        bool    `json:"is_migrated"`
	CreatedAt         uint64  `json:"created_at"`
	OwnerID           string  `json:"owner_id"`
	RegistrantID      *string `json:"registrant_id"`
	ExpiryDate        *uint64 `json:"expiry_date"`
}

func (Domain) Kind() Kind { return KindDomain }
func (d Domain) Key() string { return d.ID }

// Empty reports whether the domain holds nothing worth keeping: no resolver,
// no owner and no children.
func (d Domain) Empty(zeroOwner string) bool {
	return d.ResolverID == nil && d.OwnerID == zeroOwner && d.SubdomainCount == 0
}

// Registration is a time-bounded lease on a name.
type Registration struct {
	ID               string  `json:"id"`
	DomainID         string  `json:"domain_id"`
	RegistrationDate uint64  `json:"registration_date"`
	ExpiryDate       uint64  `json:"expiry_date"`
	Cost             *string `json:"cost"`
	RegistrantID     string  `json:"registrant_id"`
	LabelName        *string `json:"label_name"`
}

func (Registration) Kind() Kind { return KindRegistration }
func (r Registration) Key() string { return r.ID }

// Resolver is the record set one resolver contract holds for one node.
type Resolver struct {
	ID          string   `json:"id"`
	DomainID    string   `json:"domain_id"`
	Address     string   `json:"address"`
	AddrID      *string  `json:"addr_id"`
	ContentHash *string  `json:"content_hash"`
	Texts       []string `json:"texts"`
	CoinTypes   []string `json:"coin_types"`
}

func (Resolver) Kind() Kind { return KindResolver }
func (r Resolver) Key() string { return r.ID }

// Event is an immutable audit-log entry for one applied log event.
type Event struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Subject       string `json:"subject"`
	ChainID       uint64 `json:"chain_id"`
	BlockNumber   uint64 `json:"block_number"`
	TransactionID string `json:"transaction_id"`
	Args          string `json:"args"`
}

func (Event) Kind() Kind { return KindEvent }
func (e Event) Key() string { return e.ID }

// Registry is a v2 registry contract.
type Registry struct {
	ID      string  `json:"id"`
	ChainID uint64  `json:"chain_id"`
	Address string  `json:"address"`
	LabelID *string `json:"label_id"`
}

func (Registry) Kind() Kind { return KindRegistry }
func (r Registry) Key() string { return r.ID }

// Label is a token slot in a v2 registry.
type Label struct {
	ID            string  `json:"id"`
	RegistryID    string  `json:"registry_id"`
	TokenID       string  `json:"token_id"`
	LabelName     *string `json:"label_name"`
	SubregistryID *string `json:"subregistry_id"`
	ResolverID    *string `json:"resolver_id"`
}

func (Label) Kind() Kind { return KindLabel }
func (l Label) Key() string { return l.ID }

// V2Resolver is a resolver contract referenced from a v2 label.
type V2Resolver struct {
	ID      string `json:"id"`
	ChainID uint64 `json:"chain_id"`
	Address string `json:"address"`
}

func (V2Resolver) Kind() Kind { return KindV2Resolver }
func (r V2Resolver) Key() string { return r.ID }

// V2Domain is the ownership record of a v2 label token.
type V2Domain struct {
	ID         string `json:"id"`
	RegistryID string `json:"registry_id"`
	TokenID    string `json:"token_id"`
	LabelID    string `json:"label_id"`
	OwnerID    string `json:"owner_id"`
}

func (V2Domain) Kind() Kind { return KindV2Domain }
func (d V2Domain) Key() string { return d.ID }

// Cursor records the last event applied on a chain.
type Cursor struct {
	ID          string `json:"id"`
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint64 `json:"log_index"`
}

func (Cursor) Kind() Kind { return KindCursor }
func (c Cursor) Key() string { return c.ID }

// Before reports whether (block, logIndex) was already applied.
func (c Cursor) Before(block, logIndex uint64) bool {
	if block != c.BlockNumber {
		return block < c.BlockNumber
	}
	return logIndex <= c.LogIndex
}
