// Package postgres implements the store interfaces against PostgreSQL using
// database/sql with the pgx driver. It also owns the mapping from PostgreSQL
// error codes to the store's sentinel errors, including the
// transient-versus-resource-exhaustion split that drives retry and recovery
// decisions elsewhere.
package postgres
