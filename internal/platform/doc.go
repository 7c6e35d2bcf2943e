// Package platform holds the collaborators the engine queries and calls
// into: the browser's window/tab state and the content-instrumentation
// injector.
//
// The engine never talks to a browser directly. A browser-side shim streams
// ir.Signal values (JSON lines) into the process; Browser folds them into an
// in-memory snapshot that answers the engine's queries without blocking.
// Resolution misses (unknown tab, no focused window) are reported as
// ok=false, never as errors: they are expected during rapid navigation.
package platform
