// Package subscription tracks the durable set of item subscriptions a
// client holds across the lifetime of a streaming connection.
//
// Each subscription carries a client-assigned local ID that never
// changes, and a server-assigned ID that is only valid for the session
// that produced it. When a connection is lost the server IDs are
// invalidated and the whole desired set is replayed against the fresh
// session, rebinding server IDs as acknowledgements arrive.
package subscription
