// Package sqlite implements the storage contracts over an embedded SQLite
// database.
//
// Why this package exists:
// - It is the durable single-node backend for entity snapshots and scope versions.
// - It owns migration and schema-compatibility behavior for those tables.
// - It serializes the conditional scope commit so concurrent writers observe
//   consistent compare-and-set semantics.
//
// Only this package translates storage-shaped records into concrete SQL
// rows and transactions.
package sqlite
