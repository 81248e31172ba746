// Package transport carries topic-addressed frames between the chat client
// and the server.
//
// WebSocketDialer speaks STOMP 1.2 over a gorilla/websocket connection: the
// CONNECT handshake carries the caller's headers, SUBSCRIBE and SEND address
// destinations, and MESSAGE frames are routed to the matching Handler by
// subscription id. MemoryDialer is an in-process stand-in that records what
// was published and lets tests push inbound frames or drop the connection.
//
// Both report the end of a connection through DialOptions.OnClose exactly
// once; a nil error means the caller closed it.
package transport
