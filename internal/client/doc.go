// Package client reads conversation state from the chat server's REST API.
//
// The real-time channel only carries what happens after the session
// connects. A Client fills in what came before: the stored message history
// and the presence snapshot of a meetup.
//
//	api, err := client.New("https://chat.example.com", token, nil, logger)
//	msgs, err := api.Messages(ctx, meetupID)
//
// Every request carries the bearer token. Responses other than 200 are
// reported as ErrUnexpectedStatus with the status line and a short body
// excerpt.
package client
