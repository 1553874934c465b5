package ident

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// tokenFlagBits is the width of the auxiliary flag field packed into the low
// bits of a v2 token id.
const tokenFlagBits = 32

var tokenMask = new(big.Int).Lsh(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256-tokenFlagBits), big.NewInt(1)), tokenFlagBits)

// MaskTokenID clears the flag bits of a v2 token id, leaving its identity.
func MaskTokenID(id *big.Int) *big.Int {
	return new(big.Int).And(id, tokenMask)
}

// TokenIDFromHash interprets a 32-byte hash as an unsigned token id.
func TokenIDFromHash(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h.Bytes())
}

// RegistryID identifies a v2 registry contract on a chain.
func RegistryID(chainID uint64, contract common.Address) string {
	return strconv.FormatUint(chainID, 10) + "-" + AddressID(contract)
}

// V2ResolverID identifies a v2 resolver contract on a chain.
func V2ResolverID(chainID uint64, contract common.Address) string {
	return RegistryID(chainID, contract)
}

// LabelID identifies a label slot in a v2 registry. The token id is masked
// first so every flag variant of a token maps to the same label.
func LabelID(registryID string, tokenID *big.Int) string {
	return registryID + "-" + MaskTokenID(tokenID).String()
}
