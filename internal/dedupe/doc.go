// Package dedupe remembers keys for a bounded time window so an action keyed
// on them runs once, such as publishing a read receipt for a message.
package dedupe
