// Package connection supervises the streaming session across failures.
//
// The supervisor owns the dial / session / resubscribe cycle: when a
// session ends abnormally it invalidates all server-side bindings,
// waits out an exponential backoff with full jitter, and first tries
// to rebind the existing server session before falling back to a
// fresh one. The desired subscription set is replayed onto every new
// session under the same local IDs, so consumers never notice a
// reconnect beyond a fresh snapshot.
//
// Authentication failures are never retried.
package connection
