// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, roles)
//	httputil.WriteCreated(w, role)
//	httputil.WriteError(w, http.StatusNotFound, "role not found")
//	httputil.WriteErrorDetails(w, http.StatusForbidden, "permission denied", details)
//
// Every error body has the shape {"error": "...", "details": {...}}.
// WriteInternalError never echoes the underlying error to the client.
//
// # Request Parsing
//
//	var body struct{ RoleIDs []int64 `json:"roleIds"` }
//	if !httputil.DecodeJSON(w, r, &body) {
//		return
//	}
//	userID, ok := httputil.PathID(w, r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
