// Package users stores application accounts and their API tokens.
//
// A user carries two independent role fields: SystemRole governs what the
// user may do in this application, GA4Role is an optional default access
// level used when the user requests property access for themselves.
//
// Older deployments kept a single role column that mixed both axes. Use
// NormalizeLegacyRole (via Importer) once to split those values.
package users
