// Package engine implements attention attribution and event dispatch.
//
// The engine decides, from a stream of noisy platform signals, which single
// tab holds the user's attention, charges the elapsed time to it, and
// forwards lifecycle and periodic aggregate messages to the consumer.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every signal is queued and handled in arrival order by Engine.Run in one
// goroutine. That ordering is the only synchronization the attribution state
// needs: when a focus change and an activation race, the one applied last
// wins.
//
// Attribution:
// Attribution.TransitionTo commits the dwell of the previous resource to the
// Accumulator before adopting the next one, so spans never overlap and never
// leave gaps. Three sources drive it: tab activation inside the focused
// window, window focus changes, and a sub-second focus poll that drops
// attention whenever no browser window has focus.
//
// Interval Flush:
// The timer package runs the interval clock in its own goroutine. Each
// Timeout makes the loop close out the current span, drain the accumulator
// and send one ActiveTabs message.
//
// Documents:
// Access and Leave follow the document loaded in each tab, independent of
// attribution. Documents keeps the per-descriptor flag that makes them
// idempotent.
//
// Injection:
// Navigation schedules a debounced content-script injection per tab; the
// Debouncer hands due injections back to the loop through the queue.
//
// No failure is fatal. A failed event is logged and the loop moves on.
package engine
