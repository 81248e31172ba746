// Package store keeps the chat client's local state between runs.
//
// The only state the client persists is the sync checkpoint: the end time of
// the last message-sync batch applied for a (meetup, user) pair. When the
// session reconnects it asks the server for everything after that time, so
// messages sent while the client was closed still arrive.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite database, WAL mode, schema created on
//     open. Pass ":memory:" for a throwaway database.
//   - MockStore: in-memory, for tests. FailWith injects errors.
//
// Checkpoints are monotonic: SaveLastSync ignores times that are not after
// the stored one, so a late or replayed batch cannot rewind the sync point.
package store
