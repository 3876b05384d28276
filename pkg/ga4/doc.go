// Package ga4 talks to Google Analytics 4 property access bindings.
//
// Provider is the capability the lifecycle engine consumes. AdminProvider
// implements it with the Analytics Admin API (v1alpha access bindings);
// MemoryProvider keeps bindings in process for development and tests.
//
// Errors are classified so callers can react without inspecting HTTP codes:
//
//	ErrNotFound        property or binding does not exist
//	ErrAlreadyGranted  the user already has a binding on the property
//	ErrTransient       timeouts, rate limiting and 5xx responses; safe to retry
//	ErrRejected        any other refusal (bad request, missing permission)
package ga4
