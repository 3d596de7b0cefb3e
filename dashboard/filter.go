package dashboard

import "github.com/jilio/tabsync"

const (
	// FilterKey is the durable storage key of the filter store.
	FilterKey = "table-storage"
	// FilterStoreName routes filter snapshots on the channel.
	FilterStoreName = "table"
)

// FilterState holds the table filters. An empty field places no
// constraint; fields combine with AND.
type FilterState struct {
	SearchText   string `json:"searchText"`
	RegionFilter string `json:"regionFilter"`
	HealthFilter string `json:"healthFilter"`
}

// Active reports whether any filter is set.
func (f FilterState) Active() bool {
	return f != FilterState{}
}

// FilterStore holds the table filters of one tab.
type FilterStore struct {
	store *tabsync.Store[FilterState, FilterState]
}

// NewFilterStore creates the filter store.
func NewFilterStore(opts ...tabsync.StoreOption) (*FilterStore, error) {
	store, err := tabsync.NewStore(tabsync.StoreConfig[FilterState, FilterState]{
		Name:        FilterKey,
		StoreName:   FilterStoreName,
		ChannelName: ChannelName,
		Extract:     func(f FilterState) FilterState { return f },
		Merge:       func(_ FilterState, remote FilterState) FilterState { return remote },
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &FilterStore{store: store}, nil
}

// State returns the current filters.
func (s *FilterStore) State() FilterState {
	return s.store.State()
}

// SetSearchText replaces the free-text search.
func (s *FilterStore) SetSearchText(text string) {
	s.store.Set(func(f FilterState) FilterState {
		f.SearchText = text
		return f
	})
}

// SetRegionFilter replaces the region filter.
func (s *FilterStore) SetRegionFilter(region string) {
	s.store.Set(func(f FilterState) FilterState {
		f.RegionFilter = region
		return f
	})
}

// SetHealthFilter replaces the health filter.
func (s *FilterStore) SetHealthFilter(health string) {
	s.store.Set(func(f FilterState) FilterState {
		f.HealthFilter = health
		return f
	})
}

// ResetFilters clears all three filters.
func (s *FilterStore) ResetFilters() {
	s.store.Set(func(FilterState) FilterState {
		return FilterState{}
	})
}

// Subscribe calls fn after every change.
func (s *FilterStore) Subscribe(fn func(FilterState)) (cancel func()) {
	return s.store.Subscribe(fn)
}

// Close stops syncing.
func (s *FilterStore) Close() {
	s.store.Close()
}
