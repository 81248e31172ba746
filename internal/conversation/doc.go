// Package conversation keeps one meetup's chat timeline consistent with the
// server.
//
// # Overview
//
// A Coordinator sits between a chat UI and a session.Session. It subscribes to
// every session event, applies it to local state and republishes the result
// as Changes for the UI.
//
//	coord := conversation.New(sess, conversation.Options{History: api}, logger)
//	if err := coord.Start(ctx); err != nil { ... }
//	changes := coord.Changes(ctx)
//
// # Timeline
//
// Send appends a provisional SENDING entry keyed by the client message ID
// before the server has seen it. When the echo arrives the entry gains its
// server ID and status in place, so each client message ID appears exactly
// once whichever side wins the race. Messages from other participants are
// appended once per server ID. Timestamps are never used for ordering.
//
// Status updates locate their message by server ID or client ID; updates for
// unknown messages are ignored. A message that reached READ is never
// downgraded by a late echo.
//
// # Failures
//
// A message evicted from the offline queue, or reported failed by the
// server, becomes FAILED. Retry re-sends it under the same client message ID;
// Discard drops it and cancels any server-side retry.
//
// # Typing and receipts
//
// Keystroke sends a typing start on the first key of a burst and a typing
// stop after TypingIdle without input. Incoming typing signals maintain a set
// that never contains the local user.
//
// Messages from other participants that are not yet READ are acknowledged
// with a read receipt once the session is connected. A dedupe cache keeps
// receipts to one per message.
package conversation
