// Package audit records who changed which grant, when, and with what result.
//
// # Overview
//
// Every lifecycle mutation (request, approval, rejection, extension, role
// change, revocation, expiry, downgrade and GA4 sync) is written as an
// append-only AuditEvent with the acting user, the grant as resource and an
// optional before/after diff. Administrative actions such as system role
// changes and manual job triggers are recorded the same way.
//
// # Sinks
//
// DBLogger writes to the audit_logs table and implements Store for search
// and export. MemoryLogger keeps events in process for tests and local
// runs. LogrusLogger mirrors events into the structured application log.
// MultiLogger fans out to several sinks.
//
// # Usage Example
//
//	event := audit.NewGrantEvent(audit.EventTypeGrantApproved, audit.EventStatusSuccess, &approverID, grant)
//	event.Changes = audit.StatusChange(grants.StatusPending, grants.StatusActive)
//	if err := logger.Log(ctx, event); err != nil {
//		log.WithError(err).Warn("audit write failed")
//	}
//
// # Export
//
// Store.Export renders search results as JSON, NDJSON or CSV for the
// /audit/export endpoint.
package audit
