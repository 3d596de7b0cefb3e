// Package dashboard provides the two synced stores of the transformer
// dashboard: the chart selection and the table filters.
//
// Both stores share one broadcast channel and tell their messages apart by
// store name.
package dashboard

import "github.com/jilio/tabsync"

// ChannelName is the broadcast channel both stores sync on.
const ChannelName = "voltage-app-sync"

// Dashboard owns the stores of one tab. Build it once at startup and pass
// it to whatever needs the stores.
type Dashboard struct {
	Selection *SelectionStore
	Filters   *FilterStore
}

// New creates both stores with the same options.
func New(opts ...tabsync.StoreOption) (*Dashboard, error) {
	selection, err := NewSelectionStore(opts...)
	if err != nil {
		return nil, err
	}
	filters, err := NewFilterStore(opts...)
	if err != nil {
		selection.Close()
		return nil, err
	}
	return &Dashboard{Selection: selection, Filters: filters}, nil
}

// Close stops syncing both stores.
func (d *Dashboard) Close() {
	d.Selection.Close()
	d.Filters.Close()
}
