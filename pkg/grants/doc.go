// Package grants defines the GA4 permission grant record, its status machine,
// and the persistence contract used by the lifecycle engine.
//
// # Status machine
//
//	PENDING_APPROVAL ──approve──► ACTIVE ──expiry scan──► EXPIRED
//	       │                        │
//	       ├──reject──► REJECTED    ├──revoke──► DELETED
//	       ├──revoke──► DELETED     └──role change needing approval──► PENDING_APPROVAL
//	       └──expiry scan──► EXPIRED (only once approved, while old access is held)
//
// EXPIRED, REJECTED and DELETED are terminal. Repositories refuse any status
// update on a terminal grant with ErrInvalidTransition.
//
// # Uniqueness
//
// At most one grant per (subject email, property) may be PENDING_APPROVAL or
// ACTIVE at a time. Create returns a *ConflictError (matching ErrConflict)
// when the pair is already covered.
//
// # Implementations
//
// PostgresRepository stores grants in the permission_grants table and runs
// every status update in its own transaction with a row lock.
// MemoryRepository is a mutex-guarded map used by tests and the dev server.
package grants
