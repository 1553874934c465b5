package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/namegraph/internal/entity"
)

type scanner interface {
	Scan(dest ...any) error
}

// codec maps one entity kind to its table. columns[0] is always "id".
type codec struct {
	table   string
	columns []string
	values  func(entity.Row) ([]any, error)
	scan    func(scanner) (entity.Row, error)
}

func (c *codec) hasColumn(name string) bool {
	return name != "id" && slices.Contains(c.columns, name)
}

var codecs = map[entity.Kind]*codec{
	entity.KindAccount: {
		table:   "accounts",
		columns: []string{"id"},
		values: func(r entity.Row) ([]any, error) {
			return []any{r.(entity.Account).ID}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var a entity.Account
			if err := s.Scan(&a.ID); err != nil {
				return nil, err
			}
			return a, nil
		},
	},
	entity.KindDomain: {
		table: "domains",
		columns: []string{
			"id", "name", "label_name", "label_hash", "parent_id", "subdomain_count",
			"resolved_address_id", "resolver_id", "ttl", "is_migrated", "created_at",
			"owner_id", "registrant_id", "expiry_date",
		},
		values: func(r entity.Row) ([]any, error) {
			d := r.(entity.Domain)
			return []any{
				d.ID, nullString(d.Name), nullString(d.LabelName), nullString(d.LabelHash),
				nullString(d.ParentID), d.SubdomainCount, nullString(d.ResolvedAddressID),
				nullString(d.ResolverID), nullUint(d.TTL), d.IsMigrated, int64(d.CreatedAt),
				d.OwnerID, nullString(d.RegistrantID), nullUint(d.ExpiryDate),
			}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var d entity.Domain
			var name, label, labelHash, parent, resolved, resolver, registrant sql.NullString
			var ttl, expiry sql.NullInt64
			var created int64
			err := s.Scan(&d.ID, &name, &label, &labelHash, &parent, &d.SubdomainCount,
				&resolved, &resolver, &ttl, &d.IsMigrated, &created, &d.OwnerID, &registrant, &expiry)
			if err != nil {
				return nil, err
			}
			d.Name, d.LabelName, d.LabelHash = stringPtr(name), stringPtr(label), stringPtr(labelHash)
			d.ParentID, d.ResolvedAddressID, d.ResolverID = stringPtr(parent), stringPtr(resolved), stringPtr(resolver)
			d.RegistrantID = stringPtr(registrant)
			d.TTL, d.ExpiryDate = uintPtr(ttl), uintPtr(expiry)
			d.CreatedAt = uint64(created)
			return d, nil
		},
	},
	entity.KindRegistration: {
		table: "registrations",
		columns: []string{
			"id", "domain_id", "registration_date", "expiry_date", "cost", "registrant_id", "label_name",
		},
		values: func(r entity.Row) ([]any, error) {
			g := r.(entity.Registration)
			return []any{
				g.ID, g.DomainID, int64(g.RegistrationDate), int64(g.ExpiryDate),
				nullString(g.Cost), g.RegistrantID, nullString(g.LabelName),
			}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var g entity.Registration
			var regDate, expiry int64
			var cost, label sql.NullString
			if err := s.Scan(&g.ID, &g.DomainID, &regDate, &expiry, &cost, &g.RegistrantID, &label); err != nil {
				return nil, err
			}
			g.RegistrationDate, g.ExpiryDate = uint64(regDate), uint64(expiry)
			g.Cost, g.LabelName = stringPtr(cost), stringPtr(label)
			return g, nil
		},
	},
	entity.KindResolver: {
		table:   "resolvers",
		columns: []string{"id", "domain_id", "address", "addr_id", "content_hash", "texts", "coin_types"},
		values: func(r entity.Row) ([]any, error) {
			v := r.(entity.Resolver)
			texts, err := encodeList(v.Texts)
			if err != nil {
				return nil, err
			}
			coins, err := encodeList(v.CoinTypes)
			if err != nil {
				return nil, err
			}
			return []any{v.ID, v.DomainID, v.Address, nullString(v.AddrID), nullString(v.ContentHash), texts, coins}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var v entity.Resolver
			var addr, content sql.NullString
			var texts, coins string
			if err := s.Scan(&v.ID, &v.DomainID, &v.Address, &addr, &content, &texts, &coins); err != nil {
				return nil, err
			}
			v.AddrID, v.ContentHash = stringPtr(addr), stringPtr(content)
			var err error
			if v.Texts, err = decodeList(texts); err != nil {
				return nil, fmt.Errorf("texts: %w", err)
			}
			if v.CoinTypes, err = decodeList(coins); err != nil {
				return nil, fmt.Errorf("coin_types: %w", err)
			}
			return v, nil
		},
	},
	entity.KindEvent: {
		table:   "events",
		columns: []string{"id", "name", "subject", "chain_id", "block_number", "transaction_id", "args"},
		values: func(r entity.Row) ([]any, error) {
			e := r.(entity.Event)
			return []any{e.ID, e.Name, e.Subject, int64(e.ChainID), int64(e.BlockNumber), e.TransactionID, e.Args}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var e entity.Event
			var chain, block int64
			if err := s.Scan(&e.ID, &e.Name, &e.Subject, &chain, &block, &e.TransactionID, &e.Args); err != nil {
				return nil, err
			}
			e.ChainID, e.BlockNumber = uint64(chain), uint64(block)
			return e, nil
		},
	},
	entity.KindRegistry: {
		table:   "registries",
		columns: []string{"id", "chain_id", "address", "label_id"},
		values: func(r entity.Row) ([]any, error) {
			g := r.(entity.Registry)
			return []any{g.ID, int64(g.ChainID), g.Address, nullString(g.LabelID)}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var g entity.Registry
			var chain int64
			var label sql.NullString
			if err := s.Scan(&g.ID, &chain, &g.Address, &label); err != nil {
				return nil, err
			}
			g.ChainID, g.LabelID = uint64(chain), stringPtr(label)
			return g, nil
		},
	},
	entity.KindLabel: {
		table:   "labels",
		columns: []string{"id", "registry_id", "token_id", "label_name", "subregistry_id", "resolver_id"},
		values: func(r entity.Row) ([]any, error) {
			l := r.(entity.Label)
			return []any{l.ID, l.RegistryID, l.TokenID, nullString(l.LabelName), nullString(l.SubregistryID), nullString(l.ResolverID)}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var l entity.Label
			var name, sub, res sql.NullString
			if err := s.Scan(&l.ID, &l.RegistryID, &l.TokenID, &name, &sub, &res); err != nil {
				return nil, err
			}
			l.LabelName, l.SubregistryID, l.ResolverID = stringPtr(name), stringPtr(sub), stringPtr(res)
			return l, nil
		},
	},
	entity.KindV2Resolver: {
		table:   "v2_resolvers",
		columns: []string{"id", "chain_id", "address"},
		values: func(r entity.Row) ([]any, error) {
			v := r.(entity.V2Resolver)
			return []any{v.ID, int64(v.ChainID), v.Address}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var v entity.V2Resolver
			var chain int64
			if err := s.Scan(&v.ID, &chain, &v.Address); err != nil {
				return nil, err
			}
			v.ChainID = uint64(chain)
			return v, nil
		},
	},
	entity.KindV2Domain: {
		table:   "v2_domains",
		columns: []string{"id", "registry_id", "token_id", "label_id", "owner_id"},
		values: func(r entity.Row) ([]any, error) {
			d := r.(entity.V2Domain)
			return []any{d.ID, d.RegistryID, d.TokenID, d.LabelID, d.OwnerID}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var d entity.V2Domain
			if err := s.Scan(&d.ID, &d.RegistryID, &d.TokenID, &d.LabelID, &d.OwnerID); err != nil {
				return nil, err
			}
			return d, nil
		},
	},
	entity.KindCursor: {
		table:   "cursors",
		columns: []string{"id", "chain_id", "block_number", "log_index"},
		values: func(r entity.Row) ([]any, error) {
			c := r.(entity.Cursor)
			return []any{c.ID, int64(c.ChainID), int64(c.BlockNumber), int64(c.LogIndex)}, nil
		},
		scan: func(s scanner) (entity.Row, error) {
			var c entity.Cursor
			var chain, block, log int64
			if err := s.Scan(&c.ID, &chain, &block, &log); err != nil {
				return nil, err
			}
			c.ChainID, c.BlockNumber, c.LogIndex = uint64(chain), uint64(block), uint64(log)
			return c, nil
		},
	},
}

func codecFor(kind entity.Kind) (*codec, error) {
	c, ok := codecs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return c, nil
}

// encodeValue converts a patch value to a driver value. uint64 values are
// stored bit-for-bit in INTEGER columns.
func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, int64, bool:
		return x, nil
	case int:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case *string:
		return nullString(x), nil
	case *uint64:
		return nullUint(x), nil
	case []string:
		return encodeList(x)
	default:
		return nil, fmt.Errorf("unsupported patch value %T", v)
	}
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullUint(u *uint64) any {
	if u == nil {
		return nil
	}
	return int64(*u)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func uintPtr(ni sql.NullInt64) *uint64 {
	if !ni.Valid {
		return nil
	}
	u := uint64(ni.Int64)
	return &u
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	list := []string{}
	if s == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// cloneRow copies the slices of rows that carry them so cached values are
// never aliased by callers.
func cloneRow(r entity.Row) entity.Row {
	if v, ok := r.(entity.Resolver); ok {
		v.Texts = slices.Clone(v.Texts)
		v.CoinTypes = slices.Clone(v.CoinTypes)
		return v
	}
	return r
}
