// Package lifecycle owns every status change of a GA4 access grant.
//
// The Engine turns requests into grants (auto-approved or pending), applies
// admin decisions, extends and re-roles open grants, and runs the periodic
// scans that warn, downgrade, expire and re-sync grants. It is the only
// writer of grant status; the repository enforces the transition table and
// the engine enforces the business rules on top of it.
//
// Synchronous operations return typed errors (grants.ErrNotFound,
// grants.ErrInvalidTransition, grants.ErrExtensionLimit, ErrForbidden,
// ErrInvalidRequest, ga4 errors). Scans are total: a failure on one grant
// is counted and logged and never aborts the batch.
package lifecycle
