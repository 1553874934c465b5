// Package engine applies naming-graph events to the store.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Events are processed one at a time, in the order the chain reader
// delivers them. This gives:
// - One transaction per event, with no locking in handlers
// - A reproducible store for a given event stream
// - A per-chain cursor that only moves forward
//
// Event Processing Flow:
// 1. Events enqueued to FIFO queue (or passed straight to Process)
// 2. Engine.Run() dequeues events one at a time
// 3. dispatch() picks a handler from the contract's manifest role
// 4. The handler's writes and the cursor commit in one Atomic call
// 5. A failure rolls the event back and stops the loop
//
// Routing:
// Registries, registrars and controllers are routed by address. Resolver
// events are accepted from any contract because any contract may act as a
// resolver. v2 hierarchy events are accepted from root registries and from
// any registry the graph has already bound as a subregistry. DNS record
// events and unknown events are ignored.
//
// The engine does not retry. A failed event is returned as *ProcessError
// and redelivery is up to the caller.
package engine
