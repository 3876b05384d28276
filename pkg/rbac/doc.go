// Package rbac maps system roles to API permissions and caches role lookups.
//
// # Permissions
//
// A Permission is a resource plus an action ("grant:approve"). System roles
// are cumulative: admins hold every requester permission, super admins hold
// every admin permission.
//
//	rbac.HasPermission(roles.SystemAdmin, rbac.PermGrantApprove) // true
//
// Client scoping is separate from permissions. An admin holding
// grant:approve may still only act on grants of their own client;
// ScopeGrantFilter and CanViewGrant apply that rule.
//
// # Role Cache
//
// Checker wraps a users.Store and caches Get in a short-lived expirable LRU,
// optionally backed by Redis so replicas share entries. Role and status
// writes through the Checker invalidate both levels; writes made elsewhere
// are visible after the TTL.
//
//	checker := rbac.NewChecker(store, rbac.CheckerConfig{TTL: time.Minute, Redis: client}, logger)
//	engine, _ := lifecycle.New(lifecycle.Deps{Users: checker, ...})
//
// # Middleware
//
//	r.Handle("/grants/summary", rbac.RequirePermission(rbac.PermSummaryRead)(handler))
package rbac
