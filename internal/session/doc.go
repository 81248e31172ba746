// Package session keeps one user connected to one meetup conversation.
//
// A Session owns a single transport connection at a time and hides its churn
// behind the events.Bus returned by Events. On connect it subscribes the
// conversation's topics, flushes messages queued while offline, starts a
// heartbeat, announces the join and asks for an incremental sync. When the
// connection drops it reconnects on its own with exponential backoff; once
// the attempt budget is spent it emits ReconnectFailed and waits for an
// explicit Connect.
//
// All state lives on one goroutine. Public methods post work to it and wait,
// so they are safe to call from event listeners. Close is the exception: it
// waits for the bus to drain and must not be called from a listener.
package session
