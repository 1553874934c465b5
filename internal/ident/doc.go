// Package ident derives the content-addressed identifiers of the name graph.
//
// Everything here is a pure function of its inputs. Per-namespace behaviour
// (event id prefix, registration id scheme) lives on Scheme values so that
// several namespaces can be configured side by side without sharing state.
//
// Identifier formats:
//   - node:           keccak256(parentNode ‖ labelHash), 0x-prefixed hex
//   - resolver id:    lower(contract) + "-" + node
//   - event id:       prefix-block-logIndex[-transferIndex]
//   - registration:   labelHash in the canonical namespace, node elsewhere
//   - v2 registry:    chainId-lower(contract)
//   - v2 label:       registryId-maskedTokenId (decimal)
package ident
