// Package docledger records which change sets have been applied to a document
// store and keeps concurrent migration runs from overlapping.
//
// The target store is assumed to offer no transactions and no row locks. Mutual
// exclusion comes from creating a single lock document with a fixed id: the
// store rejects the second create, and that conflict is the "already locked"
// signal. The ledger is a collection of LedgerEntry documents written with
// read-after-write visibility while the lock is held.
//
// The lock service lives in package lockservice, the ledger service in package
// ledger, and the orchestration of a migration run in package coordinator.
// Backends for OpenSearch, SQL databases and memory live under store/.
package docledger
