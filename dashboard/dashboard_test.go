package dashboard

import (
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/jilio/tabsync"
)

var epoch = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type tab struct {
	sched     *tabsync.ManualScheduler
	storage   *tabsync.MemoryStorage
	transport *tabsync.Tab
	dash      *Dashboard
}

func openTab(t *testing.T, hub *tabsync.Hub, storage *tabsync.MemoryStorage) *tab {
	t.Helper()
	if storage == nil {
		storage = tabsync.NewMemoryStorage()
	}
	tb := &tab{
		sched:     tabsync.NewManualScheduler(epoch),
		storage:   storage,
		transport: hub.Tab(),
	}
	dash, err := New(
		tabsync.WithStorage(storage),
		tabsync.WithTransport(tb.transport),
		tabsync.WithStoreLogger(quiet),
		tabsync.WithEngineOptions(tabsync.WithScheduler(tb.sched)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tb.dash = dash
	t.Cleanup(dash.Close)
	return tb
}

// settle flushes src's debounce, waits for delivery and lets every tab's
// echo suppression lapse
func settle(hub *tabsync.Hub, src *tab, tabs ...*tab) {
	src.sched.Advance(tabsync.DefaultDebounce)
	hub.Wait()
	for _, tb := range tabs {
		tb.sched.Advance(0)
	}
}

func TestSelectionTransitions(t *testing.T) {
	s, err := NewSelectionStore(tabsync.WithStoreLogger(quiet))
	if err != nil {
		t.Fatalf("NewSelectionStore() error = %v", err)
	}
	defer s.Close()

	check := func(step string, want SelectionState) {
		t.Helper()
		if got := s.State(); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: State() = %+v, want %+v", step, got, want)
		}
	}

	check("initial", SelectionState{SelectedIDs: []int{}, SelectAll: true})

	s.ToggleTransformer(5)
	check("toggle on", SelectionState{SelectedIDs: []int{5}, SelectAll: false})

	s.ToggleTransformer(5)
	check("toggle off", SelectionState{SelectedIDs: []int{}, SelectAll: false})

	s.SetSelectAll(true)
	check("select all", SelectionState{SelectedIDs: []int{}, SelectAll: true})

	s.SetSelectedTransformers([]int{3, 7, 3})
	check("set explicit", SelectionState{SelectedIDs: []int{3, 7}, SelectAll: false})

	s.ToggleTransformer(9)
	check("toggle added", SelectionState{SelectedIDs: []int{3, 7, 9}, SelectAll: false})

	s.SetSelectAll(false)
	check("select none", SelectionState{SelectedIDs: []int{}, SelectAll: false})

	s.SetSelectedTransformers([]int{1})
	s.ResetSelection()
	check("reset", DefaultSelection())
}

func TestSelectionSelected(t *testing.T) {
	all := DefaultSelection()
	if !all.Selected(42) {
		t.Error("Selected() = false in all mode")
	}

	some := SelectionState{SelectedIDs: []int{1, 2}}
	if !some.Selected(2) || some.Selected(3) {
		t.Errorf("Selected() wrong for %+v", some)
	}
}

func TestSelectionStateIsCopied(t *testing.T) {
	s, err := NewSelectionStore(tabsync.WithStoreLogger(quiet))
	if err != nil {
		t.Fatalf("NewSelectionStore() error = %v", err)
	}
	defer s.Close()

	ids := []int{1, 2}
	s.SetSelectedTransformers(ids)
	ids[0] = 100

	got := s.State()
	got.SelectedIDs[1] = 200

	if want := []int{1, 2}; !reflect.DeepEqual(s.State().SelectedIDs, want) {
		t.Errorf("SelectedIDs = %v, want %v", s.State().SelectedIDs, want)
	}
}

func TestFilterActions(t *testing.T) {
	f, err := NewFilterStore(tabsync.WithStoreLogger(quiet))
	if err != nil {
		t.Fatalf("NewFilterStore() error = %v", err)
	}
	defer f.Close()

	if f.State().Active() {
		t.Errorf("initial filters active: %+v", f.State())
	}

	f.SetSearchText("TX-1")
	f.SetRegionFilter("North")
	f.SetHealthFilter("Critical")

	want := FilterState{SearchText: "TX-1", RegionFilter: "North", HealthFilter: "Critical"}
	if got := f.State(); got != want {
		t.Errorf("State() = %+v, want %+v", got, want)
	}
	if !f.State().Active() {
		t.Error("Active() = false with filters set")
	}

	f.ResetFilters()
	if got := f.State(); got != (FilterState{}) {
		t.Errorf("after reset State() = %+v", got)
	}
}

func TestSelectionCrossTabConvergence(t *testing.T) {
	hub := tabsync.NewHub()
	a := openTab(t, hub, nil)
	b := openTab(t, hub, nil)

	var published int
	listener := hub.Tab().Open(ChannelName)
	defer listener.Close()
	listener.Subscribe(func(data []byte) {
		msg, err := tabsync.DecodeMessage(data)
		if err == nil && msg.StoreName == SelectionStoreName {
			published++
		}
	})

	a.dash.Selection.SetSelectedTransformers([]int{3, 7})
	settle(hub, a, a, b)

	want := SelectionState{SelectedIDs: []int{3, 7}, SelectAll: false}
	if got := b.dash.Selection.State(); !reflect.DeepEqual(got, want) {
		t.Errorf("tab B selection = %+v, want %+v", got, want)
	}

	// Tab B must not echo the snapshot back
	b.sched.Advance(time.Second)
	hub.Wait()
	if published != 1 {
		t.Errorf("selection published %d times, want 1", published)
	}

	// Filters were not touched
	if got := b.dash.Filters.State(); got.Active() {
		t.Errorf("tab B filters = %+v, want empty", got)
	}

	raw, ok, _ := b.storage.GetItem(SelectionKey)
	if !ok {
		t.Fatal("tab B did not persist the remote selection")
	}
	var stored struct {
		State SelectionState `json:"state"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("unmarshal persisted: %v", err)
	}
	if !reflect.DeepEqual(stored.State, want) {
		t.Errorf("tab B persisted %+v, want %+v", stored.State, want)
	}
}

func TestFilterCrossTabDebounce(t *testing.T) {
	hub := tabsync.NewHub()
	a := openTab(t, hub, nil)
	b := openTab(t, hub, nil)

	var seen []FilterState
	b.dash.Filters.Subscribe(func(f FilterState) { seen = append(seen, f) })

	for _, text := range []string{"T", "TX", "TX-", "TX-4"} {
		a.dash.Filters.SetSearchText(text)
		a.sched.Advance(50 * time.Millisecond)
	}
	settle(hub, a, a, b)

	want := []FilterState{{SearchText: "TX-4"}}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("tab B saw %+v, want %+v", seen, want)
	}
}

func TestDashboardStoresShareChannel(t *testing.T) {
	hub := tabsync.NewHub()
	a := openTab(t, hub, nil)
	b := openTab(t, hub, nil)

	a.dash.Selection.ToggleTransformer(12)
	a.dash.Filters.SetRegionFilter("South")
	settle(hub, a, a, b)

	if got := b.dash.Selection.State(); !reflect.DeepEqual(got.SelectedIDs, []int{12}) || got.SelectAll {
		t.Errorf("tab B selection = %+v", got)
	}
	if got := b.dash.Filters.State(); got != (FilterState{RegionFilter: "South"}) {
		t.Errorf("tab B filters = %+v", got)
	}

	// And back the other way
	b.dash.Filters.ResetFilters()
	settle(hub, b, a, b)
	if got := a.dash.Filters.State(); got.Active() {
		t.Errorf("tab A filters = %+v, want empty", got)
	}
}

func TestDashboardRehydratesFromSharedStorage(t *testing.T) {
	hub := tabsync.NewHub()
	storage := tabsync.NewMemoryStorage()

	first := openTab(t, hub, storage)
	first.dash.Selection.SetSelectedTransformers([]int{4})
	first.dash.Filters.SetHealthFilter("Warning")
	first.dash.Close()

	// A tab opened later starts from the persisted state
	second := openTab(t, hub, storage)
	if got := second.dash.Selection.State(); !reflect.DeepEqual(got, SelectionState{SelectedIDs: []int{4}}) {
		t.Errorf("rehydrated selection = %+v", got)
	}
	if got := second.dash.Filters.State(); got.HealthFilter != "Warning" {
		t.Errorf("rehydrated health filter = %q, want %q", got.HealthFilter, "Warning")
	}
}

func TestDashboardWithoutTransport(t *testing.T) {
	dash, err := New(tabsync.WithStoreLogger(quiet))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer dash.Close()

	dash.Selection.ToggleTransformer(1)
	dash.Filters.SetSearchText("x")
	if !dash.Selection.State().Selected(1) {
		t.Error("selection not applied")
	}
	if dash.Filters.State().SearchText != "x" {
		t.Error("filter not applied")
	}
}
