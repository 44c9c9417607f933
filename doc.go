// Package meterd serves a gas meter's state over a one-shot TCP protocol:
// a client connects, sends one request, reads one reply and the server
// closes the connection.
//
// The state lives in small files managed by package store. Server answers
// requests from them; Client is the matching client.
package meterd
