// Package tabsync keeps small pieces of UI state consistent across
// independent execution contexts ("tabs") that share a local broadcast
// primitive but no server.
//
// # Transports
//
// A Transport opens named channels for one tab. Messages published on a
// channel reach every other tab holding a channel of the same name; the
// publishing tab never receives its own messages.
//
//	hub := tabsync.NewHub()
//	tabA, tabB := hub.Tab(), hub.Tab()
//
// The stores/sqlite package provides a Transport shared by processes on the
// same host. When no broadcast primitive is available, use Unsupported: it
// logs once and hands out no-op channels, so everything keeps working in a
// single tab.
//
// # Engine
//
// An Engine publishes snapshots of type T for one logical store:
//
//	engine := tabsync.NewEngine[Selection](tabA, tabsync.EngineConfig{
//	    ChannelName: "voltage-app-sync",
//	    StoreName:   "chart",
//	})
//	stop := engine.Subscribe(func(s Selection) { apply(s) })
//	engine.Broadcast(current)
//
// Outgoing snapshots are debounced (trailing edge, 300ms by default) so a
// burst of local changes produces one message carrying the final state.
// Incoming snapshots are applied immediately. While a remote snapshot is
// being applied, Broadcast is a no-op, which keeps two tabs from echoing the
// same state back and forth.
//
// # Stores
//
// Store wraps an Engine with authoritative in-memory state, write-through
// persistence to a Storage and change listeners:
//
//	store, err := tabsync.NewStore(tabsync.StoreConfig[S, T]{
//	    Name:      "chart-storage",
//	    StoreName: "chart",
//	    Initial:   S{},
//	    Extract:   func(s S) T { ... },
//	    Merge:     func(s S, t T) S { ... },
//	}, tabsync.WithStorage(storage), tabsync.WithTransport(tab))
//
// The dashboard package builds the selection and filter stores on top of
// Store.
//
// # Observability
//
// WithObservability and WithStoreObservability take hooks for broadcasts,
// suppressions, publishes, applies and storage writes. The otel and
// metrics/prometheus packages implement them; Observers feeds several at
// once.
//
// # Wire format
//
// Every message is a JSON object:
//
//	{"kind":"STATE_UPDATE","storeName":"chart","state":{...},"timestamp":1700000000000}
//
// Consumers ignore unknown kinds and store names, so several stores can
// share one channel.
package tabsync
