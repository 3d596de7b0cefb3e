package tabsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// DefaultChannelName is used when neither the config nor WithChannelName
// names a channel.
const DefaultChannelName = "tabsync"

// StoreConfig describes one synced store.
//
// S is the full store state, T the subset that syncs across tabs. Both must
// marshal to plain JSON.
type StoreConfig[S, T any] struct {
	// Name is the durable storage key.
	Name string
	// StoreName is the routing key used on the channel.
	StoreName string
	// ChannelName is the transport channel. Defaults to DefaultChannelName.
	ChannelName string
	// Version is written next to persisted state. Persisted state with an
	// older version is upgraded with the store's migrations.
	Version int
	// Initial is the state used when nothing usable is persisted.
	Initial S
	// Extract returns the synced subset of a state.
	Extract func(S) T
	// Merge applies a remote subset to the current state, leaving fields
	// outside the subset untouched.
	Merge func(S, T) S
}

// persistedState is the value written to storage
type persistedState struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

// Store holds the authoritative state of one UI concern in a tab.
//
// Every mutation is written through to Storage, handed to listeners and
// broadcast to other tabs. Remote snapshots are merged in through the same
// path; the engine keeps them from being published again.
type Store[S, T any] struct {
	cfg    StoreConfig[S, T]
	opts   *storeOptions
	engine *Engine[T]
	stop   func()

	mu    sync.Mutex
	state S

	lmu       sync.RWMutex
	listeners map[uint64]func(S)
	nextID    uint64
}

// NewStore creates a store, restores persisted state and starts syncing.
func NewStore[S, T any](cfg StoreConfig[S, T], opts ...StoreOption) (*Store[S, T], error) {
	if cfg.Name == "" {
		return nil, errors.New("tabsync: store name is required")
	}
	if cfg.StoreName == "" {
		return nil, errors.New("tabsync: sync store name is required")
	}
	if cfg.Extract == nil || cfg.Merge == nil {
		return nil, errors.New("tabsync: extract and merge are required")
	}

	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(o)
	}

	channel := cfg.ChannelName
	if o.channelName != "" {
		channel = o.channelName
	}
	if channel == "" {
		channel = DefaultChannelName
	}
	cfg.ChannelName = channel

	s := &Store[S, T]{
		cfg:       cfg,
		opts:      o,
		state:     cfg.Initial,
		listeners: make(map[uint64]func(S)),
	}
	s.rehydrate()

	engineOpts := append([]EngineOption{
		WithLogger(o.logger),
		WithObservability(o.observability),
	}, o.engineOpts...)
	s.engine = NewEngine[T](o.transport, EngineConfig{
		ChannelName: channel,
		StoreName:   cfg.StoreName,
	}, engineOpts...)
	s.stop = s.engine.Subscribe(s.applyRemote)

	return s, nil
}

// Name returns the durable storage key
func (s *Store[S, T]) Name() string {
	return s.cfg.Name
}

// State returns the current state.
func (s *Store[S, T]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set replaces the state with update(current). update must not call back
// into the store.
func (s *Store[S, T]) Set(update func(S) S) {
	s.mu.Lock()
	s.state = update(s.state)
	state := s.state
	s.persist(state)
	s.engine.Broadcast(s.cfg.Extract(state))
	s.mu.Unlock()

	s.notify(state)
}

// Subscribe registers fn to be called with the new state after every
// change, local or remote. fn runs outside the store lock and may call
// store actions.
func (s *Store[S, T]) Subscribe(fn func(S)) (cancel func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = fn

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

// Close stops syncing and releases the transport channel. The store keeps
// working in memory afterwards.
func (s *Store[S, T]) Close() {
	s.stop()
	s.engine.Destroy()

	s.lmu.Lock()
	s.listeners = make(map[uint64]func(S))
	s.lmu.Unlock()
}

// applyRemote merges a remote snapshot into the state
func (s *Store[S, T]) applyRemote(remote T) {
	s.Set(func(current S) S {
		return s.cfg.Merge(current, remote)
	})
}

func (s *Store[S, T]) notify(state S) {
	s.lmu.RLock()
	listeners := make([]func(S), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.lmu.RUnlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// persist writes state through to storage; failures are logged only
func (s *Store[S, T]) persist(state S) {
	storage := s.opts.storage
	if storage == nil {
		return
	}

	ctx := s.opts.observability.OnPersistStart(context.Background(), s.cfg.Name)
	start := time.Now()
	err := s.write(storage, state)
	s.opts.observability.OnPersistComplete(ctx, s.cfg.Name, time.Since(start), err)
	if err != nil {
		s.opts.logger.Warn("failed to persist state", "key", s.cfg.Name, "error", err)
	}
}

func (s *Store[S, T]) write(storage Storage, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	value, err := json.Marshal(persistedState{State: data, Version: s.cfg.Version})
	if err != nil {
		return err
	}
	return storage.SetItem(s.cfg.Name, string(value))
}

// rehydrate restores persisted state, keeping Initial when nothing usable
// is stored
func (s *Store[S, T]) rehydrate() {
	storage := s.opts.storage
	if storage == nil {
		return
	}

	raw, ok, err := storage.GetItem(s.cfg.Name)
	if err != nil {
		s.opts.logger.Warn("failed to read persisted state", "key", s.cfg.Name, "error", err)
		return
	}
	if !ok {
		return
	}

	var stored persistedState
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.opts.logger.Warn("discarding persisted state", "key", s.cfg.Name, "error", err)
		return
	}

	data, err := migrate(s.opts.migrations, stored.State, stored.Version, s.cfg.Version)
	if err != nil {
		s.opts.logger.Warn("discarding persisted state", "key", s.cfg.Name, "error", err)
		return
	}

	state := s.cfg.Initial
	if err := json.Unmarshal(data, &state); err != nil {
		s.opts.logger.Warn("discarding persisted state", "key", s.cfg.Name, "error", err)
		return
	}
	s.state = state
}
