// Package heal recovers human-readable labels from label hashes.
//
// A Healer answers three ways: the label (found), no label (not found, not
// an error), or an error. Callers treat an error as fatal for the event being
// processed and a miss as "proceed without a name".
package heal

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/ident"
)

// ErrHealing wraps every failure to reach or understand the healing service.
var ErrHealing = errors.New("label healing failed")

// Healer looks up the label whose keccak256 is labelHash.
type Healer interface {
	Heal(ctx context.Context, labelHash common.Hash) (label string, found bool, err error)
}

// Lookup asks h for the label of labelHash. Any error it returns wraps
// ErrHealing.
func Lookup(ctx context.Context, h Healer, labelHash common.Hash) (string, bool, error) {
	label, found, err := h.Heal(ctx, labelHash)
	if err != nil && !errors.Is(err, ErrHealing) {
		err = fmt.Errorf("%w: %w", ErrHealing, err)
	}
	return label, found, err
}

// Func adapts a function to Healer.
type Func func(ctx context.Context, labelHash common.Hash) (string, bool, error)

// Heal calls f.
func (f Func) Heal(ctx context.Context, labelHash common.Hash) (string, bool, error) {
	return f(ctx, labelHash)
}

// Static heals from a fixed set of known labels. The zero value knows none.
type Static map[common.Hash]string

// NewStatic indexes labels by their hash.
func NewStatic(labels ...string) Static {
	s := make(Static, len(labels))
	for _, l := range labels {
		s.Add(l)
	}
	return s
}

// Add makes label healable.
func (s Static) Add(label string) {
	s[ident.LabelHash(label)] = label
}

// Heal returns the known label for labelHash.
func (s Static) Heal(_ context.Context, labelHash common.Hash) (string, bool, error) {
	label, ok := s[labelHash]
	return label, ok, nil
}

// None never heals anything.
var None Healer = Static(nil)
