package subscription

import (
	"sort"
	"strings"
	"sync"

	"github.com/OpenLLT/ig-client/pkg/wire"
)

// Entry is an immutable snapshot of a tracked subscription.
type Entry struct {
	// LocalID is assigned by the registry and stable for the life of
	// the subscription, across any number of sessions.
	LocalID uint32

	// ServerID is the identifier assigned by the server for the
	// current session, or 0 while unbound.
	ServerID int

	ItemKey     string
	FieldSchema []string
	Mode        wire.Mode

	// DesiredActive is false once Unsubscribe has been requested but
	// the removal has not yet been confirmed by the server.
	DesiredActive bool
}

type entry struct {
	localID     uint32
	serverID    int
	itemKey     string
	fieldSchema []string
	mode        wire.Mode
	active      bool
}

func (e *entry) snapshot() Entry {
	schema := make([]string, len(e.fieldSchema))
	copy(schema, e.fieldSchema)

	return Entry{
		LocalID:       e.localID,
		ServerID:      e.serverID,
		ItemKey:       e.itemKey,
		FieldSchema:   schema,
		Mode:          e.mode,
		DesiredActive: e.active,
	}
}

// identity is the deduplication key for Subscribe. Two requests with
// the same item, schema, and mode resolve to the same subscription.
func identity(itemKey string, fieldSchema []string, mode wire.Mode) string {
	return itemKey + "\x00" + strings.Join(fieldSchema, "\x1f") + "\x00" + mode.String()
}

// Registry is the authoritative record of all subscriptions the client
// wants, independent of any particular session. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	entries    map[uint32]*entry
	byServer   map[int]uint32
	byIdentity map[string]uint32
	nextID     uint32
	maxEntries int
}

// DefaultMaxSubscriptions limits the number of concurrently tracked
// subscriptions when no explicit limit is configured.
const DefaultMaxSubscriptions = 64

// NewRegistry creates an empty registry. A maxEntries of 0 applies
// DefaultMaxSubscriptions.
func NewRegistry(maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxSubscriptions
	}

	return &Registry{
		entries:    make(map[uint32]*entry),
		byServer:   make(map[int]uint32),
		byIdentity: make(map[string]uint32),
		maxEntries: maxEntries,
	}
}

// Subscribe records the intent to receive updates for itemKey with the
// given field schema and mode, and returns the local ID. Subscribing
// twice with identical parameters returns the existing local ID; a
// pending unsubscribe for the same parameters is cancelled instead of
// creating a duplicate.
func (r *Registry) Subscribe(itemKey string, fieldSchema []string, mode wire.Mode) (uint32, error) {
	if itemKey == "" {
		return 0, ErrEmptyItemKey
	}
	if len(fieldSchema) == 0 {
		return 0, ErrEmptySchema
	}
	if !mode.IsValid() {
		return 0, ErrInvalidMode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity(itemKey, fieldSchema, mode)
	if localID, ok := r.byIdentity[key]; ok {
		r.entries[localID].active = true

		return localID, nil
	}

	if len(r.entries) >= r.maxEntries {
		return 0, ErrTooManySubscriptions
	}

	r.nextID++
	schema := make([]string, len(fieldSchema))
	copy(schema, fieldSchema)

	e := &entry{
		localID:     r.nextID,
		itemKey:     itemKey,
		fieldSchema: schema,
		mode:        mode,
		active:      true,
	}
	r.entries[e.localID] = e
	r.byIdentity[key] = e.localID

	return e.localID, nil
}

// Unsubscribe marks the subscription as no longer desired. The entry
// is retained until ConfirmRemoved or Prune so that a retried removal
// request stays addressable.
func (r *Registry) Unsubscribe(localID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[localID]
	if !ok {
		return ErrNotFound
	}
	e.active = false

	return nil
}

// ConfirmRemoved drops the entry after the server has acknowledged the
// unsubscribe. Confirming an unknown local ID is a no-op.
func (r *Registry) ConfirmRemoved(localID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(localID)
}

// Prune drops every entry that is neither desired nor bound to the
// current session. Called before replaying the desired set onto a
// fresh session, where undesired entries have nothing left to confirm.
func (r *Registry) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for localID, e := range r.entries {
		if !e.active && e.serverID == 0 {
			r.remove(localID)
		}
	}
}

// caller holds r.mu
func (r *Registry) remove(localID uint32) {
	e, ok := r.entries[localID]
	if !ok {
		return
	}

	delete(r.entries, localID)
	delete(r.byIdentity, identity(e.itemKey, e.fieldSchema, e.mode))
	if e.serverID != 0 {
		delete(r.byServer, e.serverID)
	}
}

// BindServerID associates the session-scoped server ID with the
// subscription, replacing any previous binding for this entry.
func (r *Registry) BindServerID(localID uint32, serverID int) error {
	if serverID <= 0 {
		return ErrInvalidServerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[localID]
	if !ok {
		return ErrNotFound
	}
	if bound, taken := r.byServer[serverID]; taken && bound != localID {
		return ErrServerIDInUse
	}

	if e.serverID != 0 {
		delete(r.byServer, e.serverID)
	}
	e.serverID = serverID
	r.byServer[serverID] = localID

	return nil
}

// InvalidateBindings clears every server ID. Must be called whenever
// the session that issued them ends, so that stale IDs from a dead
// session can never resolve against a new one.
func (r *Registry) InvalidateBindings() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for serverID := range r.byServer {
		delete(r.byServer, serverID)
	}
	for _, e := range r.entries {
		e.serverID = 0
	}
}

// Resolve maps a server ID from an incoming update to the subscription
// it belongs to. Unknown IDs return false; updates carrying them are
// from a previous session and must be discarded.
func (r *Registry) Resolve(serverID int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	localID, ok := r.byServer[serverID]
	if !ok {
		return Entry{}, false
	}

	return r.entries[localID].snapshot(), true
}

// Get returns the subscription with the given local ID.
func (r *Registry) Get(localID uint32) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[localID]
	if !ok {
		return Entry{}, false
	}

	return e.snapshot(), true
}

// DesiredSnapshot returns all desired subscriptions ordered by local
// ID. The result is a consistent copy taken under a single lock, so a
// replay iterates one coherent view of the desired set.
func (r *Registry) DesiredSnapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.active {
			out = append(out, e.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })

	return out
}

// Count returns the number of tracked entries, including pending
// removals.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
