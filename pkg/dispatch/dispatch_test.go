package dispatch

import (
	"testing"
	"time"

	"github.com/OpenLLT/ig-client/pkg/subscription"
	"github.com/OpenLLT/ig-client/pkg/wire"
)

func newBound(t *testing.T, mode wire.Mode, serverID int) (*subscription.Registry, uint32) {
	t.Helper()
	r := subscription.NewRegistry(0)
	localID, err := r.Subscribe("MARKET:UA.D.AAPL.DAILY.IP", []string{"BID", "OFFER"}, mode)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := r.BindServerID(localID, serverID); err != nil {
		t.Fatalf("BindServerID() error = %v", err)
	}
	return r, localID
}

func recv(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return u
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
	return Update{}
}

func TestMergeFillsUnchangedFromCache(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	d.HandleUpdate(wire.DataUpdate{
		SubID:   1,
		ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values:  []wire.Field{wire.Value("189.10"), wire.Value("189.14")},
	})
	first := recv(t, ch)
	if v, _ := first.Get("BID"); v != "189.10" {
		t.Errorf("BID = %q, want %q", v, "189.10")
	}

	// Only the offer moves; the bid arrives as an unchanged marker.
	d.HandleUpdate(wire.DataUpdate{
		SubID:   1,
		ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values:  []wire.Field{wire.Unchanged(), wire.Value("189.16")},
	})
	second := recv(t, ch)

	bid := second.Fields[0]
	if bid.Value != "189.10" || bid.Null {
		t.Errorf("BID after unchanged marker = %+v, want cached 189.10", bid)
	}
	if bid.Changed {
		t.Error("cache-filled BID reported as changed")
	}
	offer := second.Fields[1]
	if offer.Value != "189.16" || !offer.Changed {
		t.Errorf("OFFER = %+v, want changed 189.16", offer)
	}
}

func TestMergeNullOverwritesCache(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	d.HandleUpdate(wire.DataUpdate{
		SubID: 1, ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values: []wire.Field{wire.Value("189.10"), wire.Value("189.14")},
	})
	recv(t, ch)

	d.HandleUpdate(wire.DataUpdate{
		SubID: 1, ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values: []wire.Field{wire.Null(), wire.Unchanged()},
	})
	recv(t, ch)

	// The null must stick in the cache, not the old value.
	d.HandleUpdate(wire.DataUpdate{
		SubID: 1, ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values: []wire.Field{wire.Unchanged(), wire.Unchanged()},
	})
	third := recv(t, ch)
	if _, ok := third.Get("BID"); ok {
		t.Error("BID resolved to a value after explicit null")
	}
}

func TestSnapshotClassification(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	item := "MARKET:UA.D.AAPL.DAILY.IP"
	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: item,
		Values: []wire.Field{wire.Value("189.10"), wire.Value("189.14")}})
	if u := recv(t, ch); u.Kind != KindSnapshot {
		t.Errorf("pre-boundary update Kind = %v, want %v", u.Kind, KindSnapshot)
	}

	d.HandleEndOfSnapshot(wire.EndOfSnapshot{SubID: 1, ItemKey: item})
	if u := recv(t, ch); u.Kind != KindSnapshotEnd {
		t.Errorf("boundary Kind = %v, want %v", u.Kind, KindSnapshotEnd)
	}

	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: item,
		Values: []wire.Field{wire.Value("189.11"), wire.Unchanged()}})
	if u := recv(t, ch); u.Kind != KindRealtime {
		t.Errorf("post-boundary update Kind = %v, want %v", u.Kind, KindRealtime)
	}
}

func TestSessionResetReclassifiesSnapshot(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	item := "MARKET:UA.D.AAPL.DAILY.IP"
	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: item,
		Values: []wire.Field{wire.Value("189.10"), wire.Value("189.14")}})
	recv(t, ch)
	d.HandleEndOfSnapshot(wire.EndOfSnapshot{SubID: 1, ItemKey: item})
	recv(t, ch)

	// Reconnect: the replayed subscription sends a fresh snapshot.
	d.SessionReset()

	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: item,
		Values: []wire.Field{wire.Value("189.20"), wire.Value("189.24")}})
	if u := recv(t, ch); u.Kind != KindSnapshot {
		t.Errorf("replayed update Kind = %v, want %v", u.Kind, KindSnapshot)
	}
}

func TestRawModeBypassesCache(t *testing.T) {
	registry, localID := newBound(t, wire.ModeRaw, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	item := "MARKET:UA.D.AAPL.DAILY.IP"
	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: item,
		Values: []wire.Field{wire.Value("189.10"), wire.Value("189.14")}})
	if u := recv(t, ch); u.Kind != KindRealtime {
		t.Errorf("raw update Kind = %v, want %v", u.Kind, KindRealtime)
	}

	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: item,
		Values: []wire.Field{wire.Unchanged(), wire.Value("189.16")}})
	u := recv(t, ch)
	if _, ok := u.Get("BID"); ok {
		t.Error("raw-mode unchanged marker resolved from cache")
	}
}

func TestStaleServerIDDiscarded(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	registry.InvalidateBindings()

	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values: []wire.Field{wire.Value("189.10"), wire.Value("189.14")}})

	select {
	case u := <-ch:
		t.Fatalf("stale update delivered: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
	if got := d.StaleDiscards(); got != 1 {
		t.Errorf("StaleDiscards() = %d, want 1", got)
	}
}

func TestSchemaMismatchDiscarded(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values: []wire.Field{wire.Value("189.10")}})

	select {
	case u := <-ch:
		t.Fatalf("mismatched update delivered: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowConsumerDropsCounted(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)

	var timeoutErr *ConsumerTimeoutError
	d := New(Config{
		QueueCapacity: 1,
		DrainTimeout:  20 * time.Millisecond,
		OnDrop:        func(e *ConsumerTimeoutError) { timeoutErr = e },
	}, registry, nil)
	d.Updates(localID) // queue exists, nobody reads

	for i := 0; i < 3; i++ {
		d.HandleUpdate(wire.DataUpdate{SubID: 1, ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
			Values: []wire.Field{wire.Value("189.10"), wire.Value("189.14")}})
	}

	if got := d.Dropped(localID); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if timeoutErr == nil {
		t.Fatal("OnDrop not called")
	}
	if timeoutErr.LocalID != localID || timeoutErr.Dropped != 2 {
		t.Errorf("ConsumerTimeoutError = %+v", timeoutErr)
	}
}

func TestReleaseDuringDrainWait(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{
		QueueCapacity: 1,
		DrainTimeout:  time.Second,
	}, registry, nil)
	ch := d.Updates(localID)

	// First update fills the one-slot queue; the second blocks in the
	// drain wait.
	update := wire.DataUpdate{SubID: 1, ItemKey: "MARKET:UA.D.AAPL.DAILY.IP",
		Values: []wire.Field{wire.Value("189.10"), wire.Value("189.14")}}
	d.HandleUpdate(update)

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		d.HandleUpdate(update)
	}()

	time.Sleep(20 * time.Millisecond)
	d.Release(localID)

	select {
	case <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("blocked delivery did not return after release")
	}

	// Drain the buffered update; the channel must end up closed, not
	// panicked over.
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("released channel not closed")
		}
	}
}

func TestReleaseClosesChannel(t *testing.T) {
	registry, localID := newBound(t, wire.ModeMerge, 1)
	d := New(Config{}, registry, nil)
	ch := d.Updates(localID)

	d.Release(localID)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unexpected update on released channel")
		}
	case <-time.After(time.Second):
		t.Fatal("released channel not closed")
	}
}
