package ident

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RootNode is the node of the empty name.
var RootNode = common.Hash{}

// ZeroAddress marks an unowned node or a cleared pointer.
var ZeroAddress = common.Address{}

// LabelHash returns keccak256 of a single label.
func LabelHash(label string) common.Hash {
	return crypto.Keccak256Hash([]byte(label))
}

// Node returns keccak256(parent ‖ labelHash).
func Node(parent, labelHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(parent.Bytes(), labelHash.Bytes())
}

// NameHash computes the node of a dotted name, walking labels right to left.
func NameHash(name string) common.Hash {
	node := RootNode
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		node = Node(node, LabelHash(labels[i]))
	}
	return node
}

// HashID formats a hash as a lowercase 0x-prefixed id.
func HashID(h common.Hash) string {
	return h.Hex()
}

// AddressID formats an address as a lowercase 0x-prefixed id.
func AddressID(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// ResolverID identifies the record set a resolver contract holds for node.
func ResolverID(contract common.Address, node common.Hash) string {
	return AddressID(contract) + "-" + HashID(node)
}

// IsIndexableLabel reports whether label can be stored as a name segment.
// Labels containing the separator, a NUL, or the bracket characters used to
// render unknown labels would corrupt derived names and are rejected.
func IsIndexableLabel(label string) bool {
	if label == "" {
		return false
	}
	return !strings.ContainsAny(label, "\x00.[]")
}

// JoinName builds the dotted name of label under parentName. The root has no
// name, so its children are named by their label alone.
func JoinName(label, parentName string) string {
	if parentName == "" {
		return label
	}
	return label + "." + parentName
}
