package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenLLT/ig-client/pkg/log"
	"github.com/OpenLLT/ig-client/pkg/subscription"
	"github.com/OpenLLT/ig-client/pkg/wire"
)

// Dispatch constants.
const (
	// DefaultQueueCapacity is the per-subscription channel buffer.
	DefaultQueueCapacity = 128

	// DefaultDrainTimeout is how long delivery waits on a full consumer
	// channel before dropping the update.
	DefaultDrainTimeout = 500 * time.Millisecond
)

// Kind classifies a delivered event.
type Kind uint8

const (
	// KindSnapshot is an update belonging to the initial item snapshot.
	KindSnapshot Kind = iota

	// KindRealtime is a live update after the snapshot completed.
	KindRealtime

	// KindSnapshotEnd marks the item's snapshot as complete. It carries
	// no field values.
	KindSnapshotEnd
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "SNAPSHOT"
	case KindRealtime:
		return "REALTIME"
	case KindSnapshotEnd:
		return "SNAPSHOT_END"
	default:
		return "UNKNOWN"
	}
}

// FieldValue is one named field of a delivered update.
type FieldValue struct {
	Name  string
	Value string

	// Null marks an explicit server-side null.
	Null bool

	// Changed is false when the value was filled in from the merge
	// cache rather than carried by this update.
	Changed bool
}

// Update is one event delivered to a subscription consumer.
type Update struct {
	LocalID uint32
	ItemKey string
	Kind    Kind
	Time    time.Time
	Fields  []FieldValue
}

// Get returns the value of the named field. The second result is
// false when the field is absent or null.
func (u Update) Get(name string) (string, bool) {
	for _, f := range u.Fields {
		if f.Name == name {
			return f.Value, !f.Null
		}
	}
	return "", false
}

// ConsumerTimeoutError reports an update dropped because its consumer
// channel stayed full past the drain timeout.
type ConsumerTimeoutError struct {
	LocalID uint32
	ItemKey string

	// Dropped is the running drop count for this subscription.
	Dropped uint64
}

// Error returns the error message.
func (e *ConsumerTimeoutError) Error() string {
	return fmt.Sprintf("consumer for subscription %d too slow, dropped update for %q (total dropped: %d)",
		e.LocalID, e.ItemKey, e.Dropped)
}

// Config configures the dispatcher.
type Config struct {
	// QueueCapacity is the per-subscription channel buffer
	// (default: DefaultQueueCapacity).
	QueueCapacity int

	// DrainTimeout bounds the wait on a full consumer channel
	// (default: DefaultDrainTimeout).
	DrainTimeout time.Duration

	// OnDrop, if set, is called for every dropped update. Must not
	// block.
	OnDrop func(*ConsumerTimeoutError)
}

type queue struct {
	ch      chan Update
	dropped atomic.Uint64

	// mu serializes sends against close so a release during a drain
	// wait cannot close the channel under the sender.
	mu     sync.Mutex
	closed bool
}

// itemState is the per-item merge cache and snapshot progress for one
// subscription.
type itemState struct {
	cache        []FieldValue
	snapshotDone bool
}

// Dispatcher fans decoded updates out to consumer channels.
type Dispatcher struct {
	config   Config
	registry *subscription.Registry
	logger   log.Logger

	mu     sync.Mutex
	queues map[uint32]*queue
	items  map[uint32]map[string]*itemState

	staleDiscards atomic.Uint64
}

// New creates a dispatcher resolving server IDs through the given
// registry.
func New(config Config, registry *subscription.Registry, logger log.Logger) *Dispatcher {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = DefaultQueueCapacity
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}

	return &Dispatcher{
		config:   config,
		registry: registry,
		logger:   logger,
		queues:   make(map[uint32]*queue),
		items:    make(map[uint32]map[string]*itemState),
	}
}

// Updates returns the consumer channel for a subscription, creating it
// if needed. The channel is closed when the subscription is released.
func (d *Dispatcher) Updates(localID uint32) <-chan Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueLocked(localID).ch
}

// caller holds d.mu
func (d *Dispatcher) queueLocked(localID uint32) *queue {
	q, ok := d.queues[localID]
	if !ok {
		q = &queue{ch: make(chan Update, d.config.QueueCapacity)}
		d.queues[localID] = q
	}
	return q
}

// HandleUpdate routes one data update. Updates whose server ID does
// not resolve belong to a dead session and are silently discarded.
func (d *Dispatcher) HandleUpdate(u wire.DataUpdate) {
	entry, ok := d.registry.Resolve(u.SubID)
	if !ok {
		d.staleDiscards.Add(1)
		return
	}
	if len(u.Values) != len(entry.FieldSchema) {
		d.logError(entry, fmt.Sprintf("update carries %d values for a %d-field schema",
			len(u.Values), len(entry.FieldSchema)))
		return
	}

	d.mu.Lock()
	st := d.itemLocked(entry.LocalID, u.ItemKey)
	fields := resolveFields(entry, u.Values, st)
	kind := KindRealtime
	if !st.snapshotDone && entry.Mode != wire.ModeRaw {
		kind = KindSnapshot
	}
	q := d.queueLocked(entry.LocalID)
	d.mu.Unlock()

	d.deliver(q, entry, Update{
		LocalID: entry.LocalID,
		ItemKey: u.ItemKey,
		Kind:    kind,
		Time:    time.Now(),
		Fields:  fields,
	})
}

// HandleEndOfSnapshot marks the item snapshot complete and delivers
// the boundary to the consumer.
func (d *Dispatcher) HandleEndOfSnapshot(e wire.EndOfSnapshot) {
	entry, ok := d.registry.Resolve(e.SubID)
	if !ok {
		d.staleDiscards.Add(1)
		return
	}

	d.mu.Lock()
	d.itemLocked(entry.LocalID, e.ItemKey).snapshotDone = true
	q := d.queueLocked(entry.LocalID)
	d.mu.Unlock()

	d.deliver(q, entry, Update{
		LocalID: entry.LocalID,
		ItemKey: e.ItemKey,
		Kind:    KindSnapshotEnd,
		Time:    time.Now(),
	})
}

// caller holds d.mu
func (d *Dispatcher) itemLocked(localID uint32, itemKey string) *itemState {
	items, ok := d.items[localID]
	if !ok {
		items = make(map[string]*itemState)
		d.items[localID] = items
	}
	st, ok := items[itemKey]
	if !ok {
		st = &itemState{}
		items[itemKey] = st
	}
	return st
}

// resolveFields builds the named field list for one update and, for
// merge mode, fills unchanged markers from the cache and refreshes it.
func resolveFields(entry subscription.Entry, values []wire.Field, st *itemState) []FieldValue {
	merge := entry.Mode == wire.ModeMerge
	fields := make([]FieldValue, len(values))

	for i, v := range values {
		name := entry.FieldSchema[i]
		switch v.Kind {
		case wire.FieldValue:
			fields[i] = FieldValue{Name: name, Value: v.Text, Changed: true}
		case wire.FieldNull:
			fields[i] = FieldValue{Name: name, Null: true, Changed: true}
		case wire.FieldUnchanged:
			if merge && st.cache != nil {
				fields[i] = st.cache[i]
				fields[i].Changed = false
			} else {
				fields[i] = FieldValue{Name: name, Null: true}
			}
		}
	}

	if merge {
		cache := make([]FieldValue, len(fields))
		copy(cache, fields)
		st.cache = cache
	}

	return fields
}

// deliver enqueues the update, waiting up to the drain timeout on a
// full channel before counting a drop.
func (d *Dispatcher) deliver(q *queue, entry subscription.Entry, u Update) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	select {
	case q.ch <- u:
		return
	default:
	}

	timer := time.NewTimer(d.config.DrainTimeout)
	defer timer.Stop()

	select {
	case q.ch <- u:
	case <-timer.C:
		dropped := q.dropped.Add(1)

		log.Emit(d.logger, log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerDispatch,
			Category:  log.CategoryError,
			Drop: &log.DropEvent{
				LocalID: entry.LocalID,
				ItemKey: u.ItemKey,
				Dropped: dropped,
			},
		})

		if d.config.OnDrop != nil {
			d.config.OnDrop(&ConsumerTimeoutError{
				LocalID: entry.LocalID,
				ItemKey: u.ItemKey,
				Dropped: dropped,
			})
		}
	}
}

// Release closes the consumer channel and forgets all per-item state
// for a subscription. Called after the registry entry is removed. Safe
// against a concurrent HandleUpdate for the same subscription; a
// delivery already waiting on the full channel delays the close by at
// most the drain timeout.
func (d *Dispatcher) Release(localID uint32) {
	d.mu.Lock()
	q, ok := d.queues[localID]
	delete(d.queues, localID)
	delete(d.items, localID)
	d.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// SessionReset clears snapshot progress for every subscription, so
// replayed snapshots after a reconnect are classified as snapshot
// updates again. Merge caches are kept; values remain valid across
// sessions.
func (d *Dispatcher) SessionReset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, items := range d.items {
		for _, st := range items {
			st.snapshotDone = false
		}
	}
}

// Dropped returns the drop count for a subscription.
func (d *Dispatcher) Dropped(localID uint32) uint64 {
	d.mu.Lock()
	q, ok := d.queues[localID]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return q.dropped.Load()
}

// StaleDiscards returns the number of updates discarded because their
// server ID belonged to a previous session.
func (d *Dispatcher) StaleDiscards() uint64 {
	return d.staleDiscards.Load()
}

func (d *Dispatcher) logError(entry subscription.Entry, msg string) {
	log.Emit(d.logger, log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerDispatch,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerDispatch,
			Message: fmt.Sprintf("subscription %d (%s): %s", entry.LocalID, entry.ItemKey, msg),
		},
	})
}
