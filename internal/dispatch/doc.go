// Package dispatch delivers engine messages to the external consumer
// process over a native messaging channel.
//
// The channel is a persistent, ordered stream of length-prefixed JSON frames
// (see WriteFrame). A Connector establishes it: ExecConnector spawns the
// consumer named by a native messaging host manifest and talks to it over
// stdio, SocketConnector dials a consumer already listening on a unix socket.
//
// Dispatcher tracks the channel state. Once the transport reports a
// disconnect the channel stays disconnected for its lifetime: sends fail
// with ErrDisconnected and nothing is queued or retried.
package dispatch
