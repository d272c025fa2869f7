package subscription

import (
	"errors"
	"testing"

	"github.com/OpenLLT/ig-client/pkg/wire"
)

func TestSubscribeIdempotent(t *testing.T) {
	r := NewRegistry(0)

	id1, err := r.Subscribe("MARKET:CS.D.EURUSD.MINI.IP", []string{"BID", "OFFER"}, wire.ModeMerge)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	id2, err := r.Subscribe("MARKET:CS.D.EURUSD.MINI.IP", []string{"BID", "OFFER"}, wire.ModeMerge)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("duplicate Subscribe() = %d, want %d", id2, id1)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	// Different schema is a different subscription.
	id3, err := r.Subscribe("MARKET:CS.D.EURUSD.MINI.IP", []string{"BID"}, wire.ModeMerge)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if id3 == id1 {
		t.Errorf("Subscribe() with different schema = %d, want new ID", id3)
	}
}

func TestSubscribeValidation(t *testing.T) {
	r := NewRegistry(0)

	if _, err := r.Subscribe("", []string{"BID"}, wire.ModeMerge); !errors.Is(err, ErrEmptyItemKey) {
		t.Errorf("Subscribe(empty item) error = %v, want %v", err, ErrEmptyItemKey)
	}
	if _, err := r.Subscribe("MARKET:X", nil, wire.ModeMerge); !errors.Is(err, ErrEmptySchema) {
		t.Errorf("Subscribe(nil schema) error = %v, want %v", err, ErrEmptySchema)
	}
	if _, err := r.Subscribe("MARKET:X", []string{"BID"}, wire.Mode(99)); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("Subscribe(bad mode) error = %v, want %v", err, ErrInvalidMode)
	}
}

func TestSubscribeLimit(t *testing.T) {
	r := NewRegistry(2)

	if _, err := r.Subscribe("MARKET:A", []string{"BID"}, wire.ModeMerge); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := r.Subscribe("MARKET:B", []string{"BID"}, wire.ModeMerge); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := r.Subscribe("MARKET:C", []string{"BID"}, wire.ModeMerge); !errors.Is(err, ErrTooManySubscriptions) {
		t.Errorf("Subscribe() over limit error = %v, want %v", err, ErrTooManySubscriptions)
	}
}

func TestUnsubscribeDeferredRemoval(t *testing.T) {
	r := NewRegistry(0)

	id, err := r.Subscribe("TRADE:ABC123", []string{"CONFIRMS", "OPU"}, wire.ModeDistinct)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := r.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	// Entry is retained until confirmed, but no longer desired.
	if got := r.Count(); got != 1 {
		t.Errorf("Count() after Unsubscribe = %d, want 1", got)
	}
	if snap := r.DesiredSnapshot(); len(snap) != 0 {
		t.Errorf("DesiredSnapshot() after Unsubscribe has %d entries, want 0", len(snap))
	}

	r.ConfirmRemoved(id)
	if got := r.Count(); got != 0 {
		t.Errorf("Count() after ConfirmRemoved = %d, want 0", got)
	}

	if err := r.Unsubscribe(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unsubscribe() after removal error = %v, want %v", err, ErrNotFound)
	}
}

func TestResubscribeCancelsPendingRemoval(t *testing.T) {
	r := NewRegistry(0)

	id, _ := r.Subscribe("MARKET:IX.D.FTSE.DAILY.IP", []string{"BID", "OFFER"}, wire.ModeMerge)
	if err := r.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	again, err := r.Subscribe("MARKET:IX.D.FTSE.DAILY.IP", []string{"BID", "OFFER"}, wire.ModeMerge)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if again != id {
		t.Errorf("Subscribe() after pending removal = %d, want %d", again, id)
	}
	if snap := r.DesiredSnapshot(); len(snap) != 1 || !snap[0].DesiredActive {
		t.Errorf("DesiredSnapshot() = %+v, want one active entry", snap)
	}
}

func TestServerIDBindings(t *testing.T) {
	r := NewRegistry(0)

	id1, _ := r.Subscribe("MARKET:A", []string{"BID"}, wire.ModeMerge)
	id2, _ := r.Subscribe("MARKET:B", []string{"BID"}, wire.ModeMerge)

	if err := r.BindServerID(id1, 7); err != nil {
		t.Fatalf("BindServerID() error = %v", err)
	}
	if err := r.BindServerID(id2, 7); !errors.Is(err, ErrServerIDInUse) {
		t.Errorf("BindServerID(taken) error = %v, want %v", err, ErrServerIDInUse)
	}
	if err := r.BindServerID(id1, 0); !errors.Is(err, ErrInvalidServerID) {
		t.Errorf("BindServerID(0) error = %v, want %v", err, ErrInvalidServerID)
	}

	e, ok := r.Resolve(7)
	if !ok || e.LocalID != id1 {
		t.Fatalf("Resolve(7) = %+v, %v, want local ID %d", e, ok, id1)
	}

	// Rebinding the same entry moves it to the new server ID.
	if err := r.BindServerID(id1, 9); err != nil {
		t.Fatalf("BindServerID(rebind) error = %v", err)
	}
	if _, ok := r.Resolve(7); ok {
		t.Error("Resolve(7) still succeeds after rebind")
	}
	if e, ok := r.Resolve(9); !ok || e.LocalID != id1 {
		t.Errorf("Resolve(9) = %+v, %v, want local ID %d", e, ok, id1)
	}
}

func TestInvalidateBindings(t *testing.T) {
	r := NewRegistry(0)

	id, _ := r.Subscribe("ACCOUNT:XYZ", []string{"PNL", "FUNDS"}, wire.ModeMerge)
	if err := r.BindServerID(id, 3); err != nil {
		t.Fatalf("BindServerID() error = %v", err)
	}

	r.InvalidateBindings()

	if _, ok := r.Resolve(3); ok {
		t.Error("Resolve() succeeds for an invalidated server ID")
	}
	e, ok := r.Get(id)
	if !ok {
		t.Fatal("Get() lost the entry on invalidation")
	}
	if e.ServerID != 0 {
		t.Errorf("ServerID after invalidation = %d, want 0", e.ServerID)
	}
	if !e.DesiredActive {
		t.Error("entry no longer desired after invalidation")
	}
}

func TestPruneDropsUnboundInactive(t *testing.T) {
	r := NewRegistry(0)

	keep, _ := r.Subscribe("MARKET:A", []string{"BID"}, wire.ModeMerge)
	gone, _ := r.Subscribe("MARKET:B", []string{"BID"}, wire.ModeMerge)

	if err := r.Unsubscribe(gone); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	r.InvalidateBindings()
	r.Prune()

	if _, ok := r.Get(gone); ok {
		t.Error("pruned entry still present")
	}
	if _, ok := r.Get(keep); !ok {
		t.Error("active entry lost by Prune()")
	}
}

func TestDesiredSnapshotOrderedAndDetached(t *testing.T) {
	r := NewRegistry(0)

	var ids []uint32
	for _, item := range []string{"MARKET:C", "MARKET:A", "MARKET:B"} {
		id, err := r.Subscribe(item, []string{"BID", "OFFER"}, wire.ModeMerge)
		if err != nil {
			t.Fatalf("Subscribe(%s) error = %v", item, err)
		}
		ids = append(ids, id)
	}

	snap := r.DesiredSnapshot()
	if len(snap) != 3 {
		t.Fatalf("DesiredSnapshot() has %d entries, want 3", len(snap))
	}
	for i, e := range snap {
		if e.LocalID != ids[i] {
			t.Errorf("snapshot[%d].LocalID = %d, want %d", i, e.LocalID, ids[i])
		}
	}

	// Mutating the snapshot must not affect the registry.
	snap[0].FieldSchema[0] = "mutated"
	if e, _ := r.Get(ids[0]); e.FieldSchema[0] != "BID" {
		t.Errorf("registry schema changed through snapshot: %v", e.FieldSchema)
	}
}
