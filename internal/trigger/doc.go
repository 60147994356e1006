// Package trigger relays user lifecycle events to embedder-supplied sinks.
//
// Flow code emits an [Event] for every account creation and deletion; the
// [Dispatcher] buffers them and hands them to a [Sink] on its own
// goroutine, so sink latency never stalls an authentication flow. Three
// sinks ship with the package: a buffered channel for programmatic
// consumers, a JSON-lines writer, and a no-op.
//
// The package never decides which events exist; that is flow logic. It
// imports no sibling internal package and does no I/O of its own beyond
// what a caller-supplied sink performs.
package trigger
