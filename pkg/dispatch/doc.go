// Package dispatch routes decoded data updates to per-subscription
// consumer channels.
//
// Updates arrive addressed by session-scoped server IDs and leave
// addressed by durable local IDs, resolved through the subscription
// registry. Merge-mode subscriptions keep a last-value cache per item
// so unchanged field markers are filled in before delivery; raw-mode
// subscriptions bypass the cache entirely.
//
// Consumer channels are bounded. A consumer that stays full past the
// drain timeout loses the update: the drop is counted and reported,
// and the read loop moves on. One slow consumer never stalls the rest.
package dispatch
