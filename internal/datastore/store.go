// Package datastore implements the shared key/value store pilets exchange
// data through. Each key is owned by the pilet that first wrote it; only
// that owner may overwrite or remove it until the entry expires.
package datastore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/pilethost/internal/logcode"
	"github.com/HerbHall/pilethost/pkg/pilet"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var setDataTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pilethost_set_data_total",
		Help: "SetData calls by result (accepted, conflict, rejected).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(setDataTotal)
}

// Publisher announces store mutations. *event.Emitter satisfies it.
type Publisher interface {
	Emit(eventType pilet.EventType, payload any)
}

// Entry is one shared data item.
type Entry struct {
	Key     string       `json:"key"`
	Value   any          `json:"value"`
	Target  pilet.Target `json:"target"`
	Owner   string       `json:"owner"`
	Expires time.Time    `json:"expires,omitzero"` // zero means never
}

// expired reports whether e is logically gone at now.
func (e Entry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

// record is the JSON shape of a "local" entry inside pilet.Storage.
type record struct {
	Value   any          `json:"value"`
	Owner   string       `json:"owner"`
	Target  pilet.Target `json:"target"`
	Expires *time.Time   `json:"expires,omitempty"`
}

// Store is the session data store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	storage pilet.Storage
	events  Publisher
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithStorage persists "local" entries through s.
func WithStorage(s pilet.Storage) Option {
	return func(st *Store) { st.storage = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// New creates an empty store that announces mutations through events.
func New(events Publisher, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries: make(map[string]Entry),
		events:  events,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value stored under key. Missing and expired keys report
// false.
func (s *Store) Get(key string) (any, bool) {
	e, ok := s.Lookup(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Lookup returns the live entry stored under key. On a memory miss the
// storage backend is consulted and a found "local" entry is rehydrated.
func (s *Store) Lookup(key string) (Entry, bool) {
	now := s.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok {
		if e.expired(now) {
			return Entry{}, false
		}
		return e, true
	}

	e, ok = s.readStorage(key, now)
	if !ok {
		return Entry{}, false
	}

	s.mu.Lock()
	// A concurrent write wins over the rehydrated copy.
	if cur, exists := s.entries[key]; exists {
		s.mu.Unlock()
		if cur.expired(now) {
			return Entry{}, false
		}
		return cur, true
	}
	s.entries[key] = e
	s.mu.Unlock()
	return e, true
}

// Set writes value under key on behalf of owner. It returns false, leaving
// the store unchanged, when the target is unknown or a live entry under key
// belongs to another owner. A nil value removes the entry. Every accepted
// call emits exactly one EventStoreData.
func (s *Store) Set(owner, key string, value any, opts ...pilet.DataOption) bool {
	o := pilet.NewDataOptions(opts...)
	if !o.Target.Valid() {
		setDataTotal.WithLabelValues("rejected").Inc()
		logcode.Debug(s.logger, logcode.UnknownDataTarget, "unknown data target",
			zap.String("key", key),
			zap.String("target", string(o.Target)),
			zap.String("caller", owner),
		)
		return false
	}
	now := s.now()

	// Ownership of persisted entries is only known after rehydration.
	s.Lookup(key)

	s.mu.Lock()
	cur, exists := s.entries[key]
	if exists && !cur.expired(now) && cur.Owner != owner {
		s.mu.Unlock()
		setDataTotal.WithLabelValues("conflict").Inc()
		logcode.Debug(s.logger, logcode.DataOwnershipConflict, "data key owned by another pilet",
			zap.String("key", key),
			zap.String("owner", cur.Owner),
			zap.String("caller", owner),
		)
		return false
	}

	e := Entry{
		Key:     key,
		Value:   value,
		Target:  o.Target,
		Owner:   owner,
		Expires: o.ExpiresFrom(now),
	}
	if value == nil {
		delete(s.entries, key)
	} else {
		s.entries[key] = e
	}
	s.mu.Unlock()

	s.persist(e, exists && cur.Target == pilet.TargetLocal)
	setDataTotal.WithLabelValues("accepted").Inc()

	if s.events != nil {
		s.events.Emit(pilet.EventStoreData, pilet.StoreDataEvent{
			Name:    e.Key,
			Target:  e.Target,
			Value:   e.Value,
			Owner:   e.Owner,
			Expires: e.Expires,
		})
	}
	return true
}

// Sweep purges entries expired at now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	var removed []Entry

	s.mu.Lock()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed = append(removed, e)
		}
	}
	s.mu.Unlock()

	for _, e := range removed {
		if e.Target == pilet.TargetLocal {
			s.removeStorage(e.Key)
		}
	}
	if len(removed) > 0 {
		s.logger.Debug("swept expired data", zap.Int("removed", len(removed)))
	}
	return len(removed)
}

// Run sweeps expired entries every interval until ctx is done. A
// non-positive interval returns immediately.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			s.Sweep(now)
			s.purgeStorage(ctx, now)
		}
	}
}

// purger is implemented by storage that can drop expired items it holds
// but the store never loaded.
type purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

func (s *Store) purgeStorage(ctx context.Context, now time.Time) {
	p, ok := s.storage.(purger)
	if !ok {
		return
	}
	n, err := p.Purge(ctx, now)
	if err != nil {
		logcode.Error(s.logger, logcode.StorageFailure, "purge expired storage items", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("purged expired storage items", zap.Int64("removed", n))
	}
}

// Snapshot returns the live entries sorted by key.
func (s *Store) Snapshot() []Entry {
	now := s.now()

	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.expired(now) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of entries held in memory, including expired
// entries not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// persist mirrors e into storage when it targets "local". wasLocal removes
// a stale persisted copy when an entry moves away from "local" or is deleted.
func (s *Store) persist(e Entry, wasLocal bool) {
	if s.storage == nil {
		return
	}
	if e.Value == nil || e.Target != pilet.TargetLocal {
		if wasLocal {
			s.removeStorage(e.Key)
		}
		return
	}

	rec := record{Value: e.Value, Owner: e.Owner, Target: e.Target}
	var exp *time.Time
	if !e.Expires.IsZero() {
		t := e.Expires
		exp = &t
		rec.Expires = &t
	}

	data, err := json.Marshal(rec)
	if err != nil {
		logcode.Error(s.logger, logcode.StorageFailure, "encode data entry",
			zap.String("key", e.Key), zap.Error(err))
		return
	}
	if err := s.storage.SetItem(e.Key, string(data), exp); err != nil {
		logcode.Error(s.logger, logcode.StorageFailure, "persist data entry",
			zap.String("key", e.Key), zap.Error(err))
	}
}

func (s *Store) readStorage(key string, now time.Time) (Entry, bool) {
	if s.storage == nil {
		return Entry{}, false
	}
	raw, ok, err := s.storage.GetItem(key)
	if err != nil {
		logcode.Error(s.logger, logcode.StorageFailure, "read data entry",
			zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logcode.Error(s.logger, logcode.StorageFailure, "decode data entry",
			zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}

	e := Entry{Key: key, Value: rec.Value, Owner: rec.Owner, Target: pilet.TargetLocal}
	if rec.Expires != nil {
		e.Expires = *rec.Expires
	}
	if e.expired(now) {
		s.removeStorage(key)
		return Entry{}, false
	}
	return e, true
}

func (s *Store) removeStorage(key string) {
	if s.storage == nil {
		return
	}
	if err := s.storage.RemoveItem(key); err != nil {
		logcode.Error(s.logger, logcode.StorageFailure, "remove data entry",
			zap.String("key", key), zap.Error(err))
	}
}
