// Package streaming is the high-level client facade. It wires the
// transport, session supervisor, subscription registry and dispatcher
// together behind typed subscription helpers for the IG streaming
// feeds: market prices, account-scoped price books, trade events,
// chart ticks and account balances.
package streaming
