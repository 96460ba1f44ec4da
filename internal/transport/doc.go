// Package transport carries protocol exchanges over Unix domain sockets.
//
// It derives the per-user channel address, binds and dials the socket, and
// serves a single request/response exchange per accepted connection while
// probing the peer for disconnects.
package transport
