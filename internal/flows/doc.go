// Package flows implements the account and sign-in operations behind the
// public Engine surface.
//
// Each operation is a method on Service taking a store.Realm handle, so the
// same code serves both the project-level accounts and every tenant. Flows
// coordinate the user store, the Redis-backed code stores, the blocking
// function gateway and the event dispatcher; none of those resources are
// owned here, they are wired in once by the root engine.
//
// Compound check-then-act sequences (uniqueness probe followed by a write)
// are serialized on Service.mu. Individual store calls lock internally and
// return deep copies, so reads outside mu are safe but not atomic.
package flows
