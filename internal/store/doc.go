// Package store holds the zapflow data model and its persistence surface.
//
// # Data Models
//
//   - User: operator identity (SUPER_ADMIN, COMPANY_ADMIN, AGENT)
//   - Company: tenant with a fixed user cap and optional integration config
//   - Chat: conversation thread with an append-only message log
//   - Message: immutable chat entry, Unix-millisecond timestamps
//   - ScheduledMessage: operator-created future send (manual lifecycle)
//
// # Persistence
//
// Collections are persisted as whole-collection JSON snapshots under fixed
// keys (zapflow_users, zapflow_companies, zapflow_chats,
// zapflow_scheduled_messages) on a durable key-value surface:
//
//   - Blobs: the key-value interface
//   - SQLiteBlobs: SQLite-backed implementation (WAL mode, auto-schema)
//
// LoadCollection/SaveCollection implement the snapshot policy: every mutation
// writes a fresh full snapshot of its collection; load falls back to seed
// data when a blob is absent or corrupt; write failures are logged and
// swallowed, the in-memory state stays authoritative.
//
// Use NewSQLiteBlobs(":memory:") for tests.
package store
