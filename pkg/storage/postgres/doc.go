// Package postgres holds the shared PostgreSQL and Redis plumbing: pool
// setup, versioned schema migrations and the Redis client constructor.
//
// Each domain package owns its tables and exposes them as a list of
// Migration values; the server applies them in order at startup:
//
//	db, err := postgres.Open(postgres.Config{URL: url, MaxConns: 20})
//	err = postgres.Migrate(ctx, db, "users", users.Migrations())
//	err = postgres.Migrate(ctx, db, "grants", grants.Migrations())
package postgres
