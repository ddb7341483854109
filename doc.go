// Package pgtyped executes SQL against PostgreSQL and maps result rows into
// typed records, using types inferred from the server's own catalog.
//
// A statement may mix native $N markers, whose values are passed as Args,
// with {name} placeholders bound through Params:
//
//	q := pgtyped.NewQuery(
//		"SELECT id, email FROM users WHERE org = $1 AND status = {status}",
//		pgtyped.WithArgs(orgID),
//		pgtyped.WithParam("status", "active"),
//	)
//	users, err := pgtyped.QueryAs[User](ctx, client, q)
//
// Each distinct statement is described once. The parameter and column types,
// names, nullability and comments are resolved from pg_type, pg_enum,
// pg_attribute and pg_description and cached with the prepared statement.
// Concurrent first uses of a statement share a single preparation.
package pgtyped
