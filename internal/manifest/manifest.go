// Package manifest loads the deployment manifest: which contracts on which
// chains play which role, and under which namespace their events land.
//
// Manifests are CUE files checked against an embedded schema, then decoded
// into Go values and checked for conflicting routes.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/ident"
)

//go:embed schema.cue
var schemaSource []byte

//go:embed default.cue
var defaultSource []byte

// Role is what a contract does in the naming system.
type Role string

const (
	RoleRegistryLegacy Role = "registry_legacy"
	RoleRegistry       Role = "registry"
	RoleRegistrar      Role = "registrar"
	RoleController     Role = "controller"
	RoleHierarchy      Role = "hierarchy"
)

// Manifest is a decoded deployment manifest.
type Manifest struct {
	Namespaces  []Namespace `json:"namespaces"`
	Hierarchies []Hierarchy `json:"hierarchy"`
}

// Namespace is a name a registrar hands out labels under, with the
// contracts that serve it.
type Namespace struct {
	Name        string    `json:"name"`
	ChainID     uint64    `json:"chain_id"`
	Canonical   bool      `json:"canonical"`
	EventPrefix string    `json:"event_prefix"`
	Contracts   Contracts `json:"contracts"`
}

// Contracts lists a namespace's contract addresses.
type Contracts struct {
	RegistryLegacy string   `json:"registry_legacy,omitempty"`
	Registry       string   `json:"registry"`
	Registrar      string   `json:"registrar,omitempty"`
	Controllers    []string `json:"controllers"`
}

// Hierarchy is a v2 registry tree on one chain.
type Hierarchy struct {
	ChainID        uint64   `json:"chain_id"`
	EventPrefix    string   `json:"event_prefix"`
	RootRegistries []string `json:"root_registries"`
}

// Scheme returns the identifier scheme of the namespace.
func (n Namespace) Scheme() ident.Scheme {
	return ident.Scheme{Prefix: n.EventPrefix, Canonical: n.Canonical}
}

// Scheme returns the identifier scheme of the hierarchy.
func (h Hierarchy) Scheme() ident.Scheme {
	return ident.Scheme{Prefix: h.EventPrefix}
}

// Route binds one contract to a role. Exactly one of Namespace and
// Hierarchy is set.
type Route struct {
	ChainID   uint64
	Address   common.Address
	Role      Role
	Namespace *Namespace
	Hierarchy *Hierarchy
}

// Error is a manifest problem, with the CUE position when one is known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(path, src)
}

// Default returns the embedded mainnet manifest.
func Default() (*Manifest, error) {
	return Parse("default.cue", defaultSource)
}

// Parse validates src against the schema and decodes it.
func Parse(filename string, src []byte) (*Manifest, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Manifest")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var m Manifest
	if err := v.Decode(&m); err != nil {
		return nil, formatCUEError(err)
	}
	if _, err := m.Routes(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Canonical returns the canonical namespace, if the manifest has one.
func (m *Manifest) Canonical() (*Namespace, bool) {
	for i := range m.Namespaces {
		if m.Namespaces[i].Canonical {
			return &m.Namespaces[i], true
		}
	}
	return nil, false
}

// NamespaceFor returns the first namespace on chainID. Resolver events from
// unrouted contracts take their identifiers from it.
func (m *Manifest) NamespaceFor(chainID uint64) (*Namespace, bool) {
	for i := range m.Namespaces {
		if m.Namespaces[i].ChainID == chainID {
			return &m.Namespaces[i], true
		}
	}
	return nil, false
}

// Routes lists every contract route. It fails if more than one namespace is
// canonical, if a contract is claimed twice on the same chain, or if two
// chains share an event prefix. Event ids carry the prefix but not the chain,
// so each prefix must belong to a single chain.
func (m *Manifest) Routes() ([]Route, error) {
	var routes []Route
	seen := make(map[string]string)
	prefixes := make(map[string]uint64)
	canonical := ""

	claimPrefix := func(field, prefix string, chainID uint64) error {
		if prev, ok := prefixes[prefix]; ok && prev != chainID {
			return &Error{Field: field + ".event_prefix", Message: fmt.Sprintf("event prefix %q already used on chain %d", prefix, prev)}
		}
		prefixes[prefix] = chainID
		return nil
	}

	add := func(field string, r Route) error {
		key := fmt.Sprintf("%d/%s", r.ChainID, strings.ToLower(r.Address.Hex()))
		if prev, dup := seen[key]; dup {
			return &Error{Field: field, Message: fmt.Sprintf("contract %s already routed by %s", r.Address.Hex(), prev)}
		}
		seen[key] = field
		routes = append(routes, r)
		return nil
	}

	for i := range m.Namespaces {
		ns := &m.Namespaces[i]
		field := fmt.Sprintf("namespaces[%d]", i)
		if ns.Canonical {
			if canonical != "" {
				return nil, &Error{Field: field, Message: fmt.Sprintf("%s and %s are both canonical", canonical, ns.Name)}
			}
			canonical = ns.Name
		}
		if err := claimPrefix(field, ns.EventPrefix, ns.ChainID); err != nil {
			return nil, err
		}

		c := ns.Contracts
		named := []contractRef{
			{RoleRegistryLegacy, c.RegistryLegacy, "registry_legacy"},
			{RoleRegistry, c.Registry, "registry"},
			{RoleRegistrar, c.Registrar, "registrar"},
		}
		for j, addr := range c.Controllers {
			named = append(named, contractRef{RoleController, addr, fmt.Sprintf("controllers[%d]", j)})
		}
		for _, n := range named {
			if n.addr == "" {
				continue
			}
			r := Route{ChainID: ns.ChainID, Address: common.HexToAddress(n.addr), Role: n.role, Namespace: ns}
			if err := add(field+".contracts."+n.name, r); err != nil {
				return nil, err
			}
		}
	}

	for i := range m.Hierarchies {
		h := &m.Hierarchies[i]
		if err := claimPrefix(fmt.Sprintf("hierarchy[%d]", i), h.EventPrefix, h.ChainID); err != nil {
			return nil, err
		}
		for j, addr := range h.RootRegistries {
			r := Route{ChainID: h.ChainID, Address: common.HexToAddress(addr), Role: RoleHierarchy, Hierarchy: h}
			if err := add(fmt.Sprintf("hierarchy[%d].root_registries[%d]", i, j), r); err != nil {
				return nil, err
			}
		}
	}
	return routes, nil
}

type contractRef struct {
	role Role
	addr string
	name string
}

func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Field: "cue", Message: first.Error()}
}
