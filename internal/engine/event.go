package engine

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/roach88/namegraph/internal/ident"
)

// ErrDecode marks an event whose arguments are missing or malformed.
var ErrDecode = errors.New("decode failed")

// Event is one decoded log event as delivered by the chain reader.
type Event struct {
	ChainID         uint64
	BlockNumber     uint64
	BlockTimestamp  uint64
	TransactionHash common.Hash
	LogIndex        uint
	Contract        common.Address
	Name            string
	Args            Args
}

// Args holds decoded event arguments by ABI name. Values may be Go types
// (common.Hash, common.Address, *big.Int, uint64, []byte, string) or the
// plain strings and numbers of an event file.
//
// Hash-valued string arguments may be written as "namehash:alice.eth" or
// "labelhash:alice" and are expanded on read.
type Args map[string]any

// Has reports whether name is present.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) get(name string) (any, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: missing arg %q", ErrDecode, name)
	}
	return v, nil
}

func badArg(name string, v any) error {
	return fmt.Errorf("%w: arg %q: unexpected value %v (%T)", ErrDecode, name, v, v)
}

// Hash reads a 32-byte argument.
func (a Args) Hash(name string) (common.Hash, error) {
	v, err := a.get(name)
	if err != nil {
		return common.Hash{}, err
	}
	switch x := v.(type) {
	case common.Hash:
		return x, nil
	case [32]byte:
		return common.Hash(x), nil
	case string:
		if h, ok := expandHash(x); ok {
			return h, nil
		}
		b, err := hexutil.Decode(x)
		if err != nil || len(b) != common.HashLength {
			return common.Hash{}, badArg(name, v)
		}
		return common.BytesToHash(b), nil
	}
	return common.Hash{}, badArg(name, v)
}

// Address reads an address argument.
func (a Args) Address(name string) (common.Address, error) {
	v, err := a.get(name)
	if err != nil {
		return common.Address{}, err
	}
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case string:
		if !common.IsHexAddress(x) {
			return common.Address{}, badArg(name, v)
		}
		return common.HexToAddress(x), nil
	case int, int64, uint64:
		// YAML reads short hex literals such as 0x100 as integers.
		n, _ := toBig(x)
		if n != nil && n.BitLen() <= 8*common.AddressLength {
			return common.BigToAddress(n), nil
		}
	}
	return common.Address{}, badArg(name, v)
}

// BigInt reads an unsigned integer argument of up to 256 bits. Strings may
// be decimal or 0x-prefixed hex.
func (a Args) BigInt(name string) (*big.Int, error) {
	v, err := a.get(name)
	if err != nil {
		return nil, err
	}
	n, ok := toBig(v)
	if !ok {
		return nil, badArg(name, v)
	}
	return n, nil
}

// Uint64 reads an integer argument that fits in 64 bits.
func (a Args) Uint64(name string) (uint64, error) {
	n, err := a.BigInt(name)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, badArg(name, n)
	}
	return n.Uint64(), nil
}

// String reads a string argument.
func (a Args) String(name string) (string, error) {
	v, err := a.get(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", badArg(name, v)
	}
	return s, nil
}

// OptString reads a string argument that older contracts do not emit.
func (a Args) OptString(name string) (*string, error) {
	if v, ok := a[name]; !ok || v == nil {
		return nil, nil
	}
	s, err := a.String(name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Bool reads a boolean argument.
func (a Args) Bool(name string) (bool, error) {
	v, err := a.get(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, badArg(name, v)
	}
	return b, nil
}

// Bytes reads a dynamic bytes argument.
func (a Args) Bytes(name string) ([]byte, error) {
	v, err := a.get(name)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []byte:
		return x, nil
	case common.Hash:
		return x.Bytes(), nil
	case common.Address:
		return x.Bytes(), nil
	case string:
		if x == "0x" || x == "" {
			return []byte{}, nil
		}
		b, err := hexutil.Decode(x)
		if err != nil {
			return nil, badArg(name, v)
		}
		return b, nil
	}
	return nil, badArg(name, v)
}

// BigInts reads an array of unsigned integers.
func (a Args) BigInts(name string) ([]*big.Int, error) {
	v, err := a.get(name)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case []*big.Int:
		return x, nil
	case []any:
		out := make([]*big.Int, 0, len(x))
		for _, e := range x {
			n, ok := toBig(e)
			if !ok {
				return nil, badArg(name, e)
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, badArg(name, v)
}

func toBig(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil || x.Sign() < 0 {
			return nil, false
		}
		return x, true
	case int:
		if x < 0 {
			return nil, false
		}
		return big.NewInt(int64(x)), true
	case int64:
		if x < 0 {
			return nil, false
		}
		return big.NewInt(x), true
	case uint64:
		return new(big.Int).SetUint64(x), true
	case common.Hash:
		return ident.TokenIDFromHash(x), true
	case string:
		if h, ok := expandHash(x); ok {
			return ident.TokenIDFromHash(h), true
		}
		return math.ParseBig256(x)
	}
	return nil, false
}

func expandHash(s string) (common.Hash, bool) {
	if name, ok := strings.CutPrefix(s, "namehash:"); ok {
		return ident.NameHash(name), true
	}
	if label, ok := strings.CutPrefix(s, "labelhash:"); ok {
		return ident.LabelHash(label), true
	}
	return common.Hash{}, false
}
