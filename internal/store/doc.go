// Package store persists identity records and task data in SQLite.
//
// # Interfaces
//
//   - IdentityStore: users, accounts, sessions, verification tokens and
//     passkey authenticators
//   - TaskStore: projects, labels, todos and subtodos, plus vector search
//     over todo embeddings
//   - Store: both of the above and Close
//
// SQLiteStore implements Store. MockStore is an in-memory implementation
// with the same semantics for tests in other packages.
//
// # Ownership
//
// Every task lookup is scoped to a user ID. A row owned by someone else is
// reported as ErrNotFound, the same as a row that does not exist.
//
// # Embeddings
//
// Todo embeddings are stored as little-endian float64 blobs. Search scores
// them with cosine similarity in Go and keeps the best k in a heap.
//
// # SQLite Configuration
//
// Pragmas are set in the DSN so every pooled connection gets them:
//
//	journal_mode(WAL)
//	foreign_keys(1)
//	busy_timeout(5000)
//
// Database file locations:
//
//   - Default: ~/.local/share/todovex/todovex.db
//   - Testing: :memory: or a file under t.TempDir()
//
// # Errors
//
//   - ErrNotFound: the entity does not exist or belongs to another user
//   - ErrDuplicate: a unique key is already taken
//   - ErrCounterNotIncreasing: a passkey counter update went backwards
//
// # Migrations
//
// Migrations are embedded and applied by goose when the store is opened.
// Files live in internal/store/migrations/ with numeric prefixes.
package store
