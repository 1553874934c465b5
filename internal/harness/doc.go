// Package harness runs YAML event scenarios against a fresh engine and
// checks the resulting store.
//
// A scenario lists healable labels, a stream of events and assertions on
// the final state:
//
//	name: register-alice
//	description: a controller registration followed by the registrar's
//	labels: [eth, alice]
//	events:
//	  - contract: registry
//	    event: NewOwner
//	    args: {node: "namehash:", label: "labelhash:eth", owner: "0x...a11"}
//	assertions:
//	  - type: entity
//	    entity: domain
//	    name: eth
//	    expect: {owner_id: "0x...a11"}
//
// Contracts may be written as addresses or as role aliases from the
// manifest ("registry", "registry_legacy", "registrar", "controller",
// "hierarchy"); a second contract with the same role on a chain is
// "controller.1", and so on. Events without a block or log index continue
// from the previous event.
//
// Each run uses an in-memory store, a fixed run id and a static healer, so
// the trace and the final tree are byte-identical across runs and can be
// compared against golden files.
package harness
