// Package migrations generates SQL migration files that create the ledger and
// lock tables ahead of time, for deployments where the runtime user may not
// create tables. The generated columns match what the SQL store creates.
package migrations
