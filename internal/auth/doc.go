// Package auth turns the bearer token a user signed in with into the chat
// identity the session announces.
//
// The chat server authorizes every connection itself, so by default the
// token's claims are read without checking the signature. Configuring the
// shared HS256 secret makes the parser verify signatures as well, which lets
// a misconfigured token fail before the first connection attempt.
//
// The user ID is taken from a numeric "sub" claim, or from "userId" /
// "user_id" when the subject is a username. Expired tokens are rejected with
// ErrExpiredToken.
package auth
