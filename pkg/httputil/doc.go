// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, grant)
//	httputil.WriteBadRequest(w, "invalid role")
//	httputil.WriteForbidden(w, "admin role required")
//
// Error bodies always have the shape {"error": "...", "request_id": "..."}.
// Internal errors never leak their message to the client.
//
// # Request Parsing
//
//	var req RequestBody
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
