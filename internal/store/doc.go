// Package store persists the identities the gateway authenticates.
//
// # Data Models
//
//   - Account: a registered user. Its UUID is the subject carried in bearer
//     credentials, so ResolveBySubject is a primary-key lookup.
//   - Agent: a machine identity owned by an account. Its UUID is the subject an
//     agent presents when authenticating a duplex session.
//
// # SQLite Configuration
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) with WAL mode. Foreign
// keys and a busy timeout are set through the DSN so every pooled connection
// enforces them. The schema is created on open.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrUsernameExists: registration collided with an existing username
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a file
// under t.TempDir() for integration tests with real SQLite.
package store
