package dashboard

import (
	"slices"

	"github.com/jilio/tabsync"
)

const (
	// SelectionKey is the durable storage key of the selection store.
	SelectionKey = "chart-storage"
	// SelectionStoreName routes selection snapshots on the channel.
	SelectionStoreName = "chart"
)

// SelectionState is the set of transformers shown on the chart.
//
// When SelectAll is true every transformer is shown and SelectedIDs must
// not be relied on; it is still persisted and synced as-is.
type SelectionState struct {
	SelectedIDs []int `json:"selectedIds"`
	SelectAll   bool  `json:"selectAll"`
}

// DefaultSelection shows everything.
func DefaultSelection() SelectionState {
	return SelectionState{SelectedIDs: []int{}, SelectAll: true}
}

// Selected reports whether the transformer with assetID is shown.
func (s SelectionState) Selected(assetID int) bool {
	return s.SelectAll || slices.Contains(s.SelectedIDs, assetID)
}

func (s SelectionState) clone() SelectionState {
	ids := make([]int, len(s.SelectedIDs))
	copy(ids, s.SelectedIDs)
	return SelectionState{SelectedIDs: ids, SelectAll: s.SelectAll}
}

// toggle removes assetID if selected and adds it otherwise. Manual
// toggling always leaves "all" mode.
func toggle(s SelectionState, assetID int) SelectionState {
	ids := make([]int, 0, len(s.SelectedIDs)+1)
	found := false
	for _, id := range s.SelectedIDs {
		if id == assetID {
			found = true
			continue
		}
		ids = append(ids, id)
	}
	if !found {
		ids = append(ids, assetID)
	}
	return SelectionState{SelectedIDs: ids, SelectAll: false}
}

// selectIDs replaces the explicit selection, dropping duplicates
func selectIDs(assetIDs []int) SelectionState {
	ids := make([]int, 0, len(assetIDs))
	for _, id := range assetIDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return SelectionState{SelectedIDs: ids, SelectAll: false}
}

// setSelectAll switches mode; the explicit list is cleared either way
func setSelectAll(all bool) SelectionState {
	return SelectionState{SelectedIDs: []int{}, SelectAll: all}
}

// SelectionStore holds the chart selection of one tab.
type SelectionStore struct {
	store *tabsync.Store[SelectionState, SelectionState]
}

// NewSelectionStore creates the selection store.
func NewSelectionStore(opts ...tabsync.StoreOption) (*SelectionStore, error) {
	store, err := tabsync.NewStore(tabsync.StoreConfig[SelectionState, SelectionState]{
		Name:        SelectionKey,
		StoreName:   SelectionStoreName,
		ChannelName: ChannelName,
		Initial:     DefaultSelection(),
		Extract: func(s SelectionState) SelectionState {
			return s.clone()
		},
		Merge: func(_ SelectionState, remote SelectionState) SelectionState {
			if remote.SelectedIDs == nil {
				remote.SelectedIDs = []int{}
			}
			return remote
		},
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &SelectionStore{store: store}, nil
}

// State returns a copy of the current selection.
func (s *SelectionStore) State() SelectionState {
	return s.store.State().clone()
}

// ToggleTransformer flips assetID in the explicit selection.
func (s *SelectionStore) ToggleTransformer(assetID int) {
	s.store.Set(func(cur SelectionState) SelectionState {
		return toggle(cur, assetID)
	})
}

// SetSelectedTransformers replaces the explicit selection.
func (s *SelectionStore) SetSelectedTransformers(assetIDs []int) {
	s.store.Set(func(SelectionState) SelectionState {
		return selectIDs(assetIDs)
	})
}

// SetSelectAll switches "all" mode on or off and clears the explicit list.
func (s *SelectionStore) SetSelectAll(all bool) {
	s.store.Set(func(SelectionState) SelectionState {
		return setSelectAll(all)
	})
}

// ResetSelection restores the default of showing everything.
func (s *SelectionStore) ResetSelection() {
	s.store.Set(func(SelectionState) SelectionState {
		return DefaultSelection()
	})
}

// Subscribe calls fn after every change.
func (s *SelectionStore) Subscribe(fn func(SelectionState)) (cancel func()) {
	return s.store.Subscribe(func(state SelectionState) {
		fn(state.clone())
	})
}

// Close stops syncing.
func (s *SelectionStore) Close() {
	s.store.Close()
}
