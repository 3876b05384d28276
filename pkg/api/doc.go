// Package api provides the HTTP REST API for the GA4 access grant manager.
//
// # Overview
//
// The API exposes the grant lifecycle engine to requesters and admins. Every
// route except self-registration requires a bearer token; the caller's
// system role decides which routes are reachable and which grants are
// visible.
//
// # Routes
//
//	POST /api/v1/users/register                       anonymous, rate limited
//	GET  /api/v1/users/me
//	POST /api/v1/grants                               request (or extend) access
//	GET  /api/v1/grants                               list, scoped to the caller
//	GET  /api/v1/grants/summary                       admin
//	GET  /api/v1/grants/{id}
//	POST /api/v1/grants/{id}/approve                  admin
//	POST /api/v1/grants/{id}/reject                   admin
//	POST /api/v1/grants/{id}/extend
//	POST /api/v1/grants/{id}/revoke
//	PUT  /api/v1/admin/users/{id}/role                super admin
//	GET  /api/v1/admin/properties/{property}/bindings admin
//	GET  /api/v1/admin/jobs                           admin
//	POST /api/v1/admin/jobs/{name}/trigger            super admin
//	GET  /api/v1/admin/audit/events                   admin
//
// # Errors
//
// Errors are JSON objects with "error" and "request_id" fields. Lifecycle
// errors map onto status codes: invalid input is 400, permission failures
// 403, unknown or hidden resources 404, illegal transitions and duplicates
// 409, the extension limit 422 and GA4 failures 502. Server errors never
// echo their cause.
//
// # Usage
//
//	server, err := api.NewServer(api.Deps{
//		Engine: engine,
//		Grants: grantRepo,
//		Users:  userStore,
//		Tokens: tokens,
//	})
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", server)
package api
