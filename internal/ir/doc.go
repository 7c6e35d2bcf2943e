// Package ir defines the wire-level types shared by every other package:
// browser tabs and windows, document descriptors, platform signals, and the
// messages dispatched to the external consumer.
//
// This package contains type definitions and their canonical encoding only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - JSON tags use the browser's camelCase names, since both the signal
//     stream and the consumer protocol cross the browser boundary
//   - Canonical encoding (used for content-addressed message ids) forbids
//     floats; active durations are canonicalised as integer milliseconds
//   - Tab and window ids are browser-assigned ints; WindowIDNone marks
//     "no window focused"
package ir
