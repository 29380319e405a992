// Package middleware establishes the caller identity for a request.
//
// Authentication happens upstream. The proxy in front of the service sets
// a header (X-Authenticated-User-Id by default) that Identity copies into
// the request context:
//
//	router.Use(middleware.Identity(cfg.Identity.Header))
//
// Authorization is applied per route by rbac.Middleware, which reads the
// identity back with contextkeys.GetActorID.
package middleware
