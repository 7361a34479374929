// Package flows holds the orchestration behind the Engine's session
// operations: login, refresh, logout, access validation, and password reset
// and change.
//
// Each Run function takes a dependency struct of plain function fields and
// owns no state. The Engine wires those fields to the ledger, the JWT
// manager, the limiters and its metrics and audit hooks, so flows can be
// tested with in-memory fakes.
//
// This package must not import authcore. Host sentinel errors, metric IDs
// and audit event names are passed in through the Errors, Metrics and Events
// sub-structs.
package flows
