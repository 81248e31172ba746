// Package chat defines the data model shared by the session manager and the
// conversation coordinator.
//
// # Messages
//
// A Message is one chat line in a meetup conversation. Before the server has
// acknowledged it, a message is identified only by its ClientMessageID, a
// UUID assigned when the message is created locally. The server later echoes
// the message back with its own ID; the echo augments the local record and
// never replaces it.
//
// Delivery status moves through:
//
//	SENDING -> DELIVERED -> READ
//	SENDING -> FAILED (retryable)
//
// # Wire Format
//
// Inbound payloads arrive as JSON bodies on STOMP topics. Server identifiers
// may be JSON numbers or strings (see ID), and timestamps may be RFC 3339,
// zone-less local date-times, or epoch milliseconds (see Timestamp).
//
// Outbound envelopes (MessageEnvelope, TypingEnvelope, StatusEnvelope, ...)
// carry exactly the fields the server's chat controller expects.
//
// # Topics
//
// Topics and Destinations build the subscribe and publish paths for one
// meetup/user pair:
//
//	topics := chat.NewTopics(meetupID, userID)
//	topics.Messages()          // /topic/meetup/{m}/messages
//	chat.NewDestinations(meetupID).Message() // /app/chat/{m}/message
package chat
