package ident

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Scheme derives the namespace-dependent identifiers. The zero value is a
// non-canonical namespace with no event prefix.
type Scheme struct {
	// Prefix is prepended to event ids; empty means no prefix.
	Prefix string

	// Canonical marks the top-level namespace whose registrations are keyed
	// by label hash for compatibility with existing identifiers.
	Canonical bool
}

// EventID returns prefix-block-logIndex, with a trailing transfer index for
// events that fan out into several records (batch transfers).
func (s Scheme) EventID(block uint64, logIndex uint, transferIndex ...int) string {
	var b strings.Builder
	if s.Prefix != "" {
		b.WriteString(s.Prefix)
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatUint(block, 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(uint64(logIndex), 10))
	for _, idx := range transferIndex {
		b.WriteByte('-')
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

// RegistrationID returns the label hash in the canonical namespace and the
// node everywhere else. The two hash domains share one id space; see
// DESIGN.md for why this is kept.
func (s Scheme) RegistrationID(labelHash, node common.Hash) string {
	if s.Canonical {
		return HashID(labelHash)
	}
	return HashID(node)
}
