// Package middleware provides HTTP middleware for authentication, role checks
// and rate limiting.
//
// # Authentication
//
// Authenticator resolves "Authorization: Bearer ga4a_..." to an
// auth.AuthContext and stores it on the request context. Failures answer 401
// and are written to the audit log as auth.access_denied.
//
//	authn := middleware.NewAuthenticator(tokenManager, auditLogger, logger)
//	api.Use(authn.Handler)
//	admin.Use(middleware.RequireSystemRole(roles.SystemAdmin))
//
// # Rate Limiting
//
// RateLimitMiddleware keys authenticated requests by user ID and anonymous
// ones by client IP. Limiters are either the in-process token bucket
// (RateLimiter) or the Redis fixed window (DistributedRateLimiter) shared
// across replicas:
//
//	rl := middleware.NewRateLimitMiddleware(
//		middleware.NewDistributedRateLimiter(redisClient, middleware.PerUserRateLimitConfig(), "ratelimit:user"),
//		middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "ratelimit:anon"),
//		logger,
//	)
//
// Defaults: anonymous 60 req/min with a burst of 10, authenticated 600 req/min
// with a burst of 50.
//
// # Related Packages
//
//   - pkg/auth: Token validation
//   - pkg/rbac: Grant-level permission checks
package middleware
