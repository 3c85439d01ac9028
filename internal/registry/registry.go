// Package registry maintains the keeper's in-memory view of every open
// wrapper position and the DLMM pool state each position depends on. It
// is the single source of truth the scheduler and API read from; all
// reads go through consistent, read-only snapshots so a concurrent
// in-flight update can never be observed half-applied.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/codec"
	"github.com/binfarm/keeper/internal/keepererr"
)

// PoolState is the decoded subset of an LbPair account the registry
// tracks: the fields the scheduler and codec instruction builders need,
// refreshed on every pool account change.
type PoolState struct {
	Address     solana.PublicKey
	ActiveID    int32
	BinStep     uint16
	Slot        uint64
	RawData     []byte
}

// PositionEntry pairs a decoded position with the slot its last update
// was observed at, so staleness can be detected.
type PositionEntry struct {
	Position *codec.Position
	Slot     uint64
}

// Snapshot is a read-only, point-in-time view of the registry. Holding a
// Snapshot never blocks concurrent writes (the Upsert/Delete/Reload
// methods) and its maps never change underneath the caller.
type Snapshot struct {
	positions map[solana.PublicKey]*PositionEntry
	byOwner   map[solana.PublicKey][]solana.PublicKey
	byPool    map[solana.PublicKey][]solana.PublicKey
	pools     map[solana.PublicKey]*PoolState
}

func (s *Snapshot) Position(key solana.PublicKey) (*PositionEntry, bool) {
	p, ok := s.positions[key]
	return p, ok
}

func (s *Snapshot) Pool(addr solana.PublicKey) (*PoolState, bool) {
	p, ok := s.pools[addr]
	return p, ok
}

func (s *Snapshot) PositionsByOwner(owner solana.PublicKey) []solana.PublicKey {
	return append([]solana.PublicKey(nil), s.byOwner[owner]...)
}

func (s *Snapshot) PositionsByPool(pool solana.PublicKey) []solana.PublicKey {
	return append([]solana.PublicKey(nil), s.byPool[pool]...)
}

func (s *Snapshot) AllPositions() map[solana.PublicKey]*PositionEntry {
	out := make(map[solana.PublicKey]*PositionEntry, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

func (s *Snapshot) AllPools() map[solana.PublicKey]*PoolState {
	out := make(map[solana.PublicKey]*PoolState, len(s.pools))
	for k, v := range s.pools {
		out[k] = v
	}
	return out
}

// PoolReloader re-fetches a pool account from chain; wired to the RPC
// client by the caller so the registry itself stays free of transport
// concerns. Used for the single-shot inconsistent-pool retry.
type PoolReloader func(ctx context.Context, pool solana.PublicKey) (*PoolState, error)

// Registry owns the canonical position and pool maps. All mutation goes
// through LoadPosition, UpsertPosition, DeletePosition, UpsertPool and
// ReloadPool under one mutex; Snapshot holds that mutex only while it
// copies the maps.
type Registry struct {
	log *zap.Logger

	mu        sync.Mutex
	positions map[solana.PublicKey]*PositionEntry
	byOwner   map[solana.PublicKey][]solana.PublicKey
	byPool    map[solana.PublicKey][]solana.PublicKey
	pools     map[solana.PublicKey]*PoolState

	reload PoolReloader
}

// New builds an empty Registry.
func New(log *zap.Logger, reload PoolReloader) *Registry {
	return &Registry{
		log:       log,
		positions: make(map[solana.PublicKey]*PositionEntry),
		byOwner:   make(map[solana.PublicKey][]solana.PublicKey),
		byPool:    make(map[solana.PublicKey][]solana.PublicKey),
		pools:     make(map[solana.PublicKey]*PoolState),
		reload:    reload,
	}
}

// LoadPosition performs the initial full-scan load of one position
// account, or an unconditional reload of an existing one.
func (r *Registry) LoadPosition(key solana.PublicKey, data []byte, slot uint64) error {
	pos, err := codec.DecodePosition(data)
	if err != nil {
		return keepererr.Inconsistent("registry.decode_position", err)
	}
	pos.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertPositionLocked(key, pos, slot)
	return nil
}

// UpsertPosition applies an incremental position-account change observed
// from the stream. Updates older than the entry's current slot are
// dropped silently: the stream does not guarantee delivery order across
// reconnects, and a stale write must never regress a newer state.
func (r *Registry) UpsertPosition(key solana.PublicKey, data []byte, slot uint64) error {
	pos, err := codec.DecodePosition(data)
	if err != nil {
		return keepererr.Inconsistent("registry.decode_position", err)
	}
	pos.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.positions[key]; ok && existing.Slot > slot {
		return nil
	}
	r.upsertPositionLocked(key, pos, slot)
	return nil
}

func (r *Registry) upsertPositionLocked(key solana.PublicKey, pos *codec.Position, slot uint64) {
	if old, ok := r.positions[key]; ok {
		r.removeFromIndexLocked(r.byOwner, old.Position.Owner, key)
		r.removeFromIndexLocked(r.byPool, old.Position.Pool, key)
	}
	r.positions[key] = &PositionEntry{Position: pos, Slot: slot}
	r.byOwner[pos.Owner] = append(r.byOwner[pos.Owner], key)
	r.byPool[pos.Pool] = append(r.byPool[pos.Pool], key)
}

// DeletePosition removes a position the wrapper program has closed.
func (r *Registry) DeletePosition(key solana.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.positions[key]
	if !ok {
		return
	}
	r.removeFromIndexLocked(r.byOwner, old.Position.Owner, key)
	r.removeFromIndexLocked(r.byPool, old.Position.Pool, key)
	delete(r.positions, key)
}

func (r *Registry) removeFromIndexLocked(index map[solana.PublicKey][]solana.PublicKey, k, v solana.PublicKey) {
	list := index[k]
	for i, e := range list {
		if e.Equals(v) {
			index[k] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(index[k]) == 0 {
		delete(index, k)
	}
}

// UpsertPool applies a pool account change: it stores the caller-decoded
// activeID and binStep with the raw account data. It decodes nothing
// itself, and an update older than the stored slot is ignored.
func (r *Registry) UpsertPool(addr solana.PublicKey, activeID int32, binStep uint16, data []byte, slot uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.pools[addr]; ok && old.Slot > slot {
		return
	}
	r.pools[addr] = &PoolState{Address: addr, ActiveID: activeID, BinStep: binStep, Slot: slot, RawData: data}
}

// ReloadPool performs the single-shot inconsistent-pool retry: re-fetch
// the account directly over RPC rather than waiting for the next stream
// notification. Callers should treat a second failure as Fatal.
func (r *Registry) ReloadPool(ctx context.Context, pool solana.PublicKey) error {
	if r.reload == nil {
		return keepererr.Fatal("registry.reload_pool", fmt.Errorf("no pool reloader configured"))
	}
	state, err := r.reload(ctx, pool)
	if err != nil {
		return keepererr.Fatal("registry.reload_pool", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[pool] = state
	return nil
}

// Snapshot returns a consistent, read-only view of the current registry
// state. The maps are shallow-copied so callers can range over them
// without holding any lock.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Snapshot{
		positions: make(map[solana.PublicKey]*PositionEntry, len(r.positions)),
		byOwner:   make(map[solana.PublicKey][]solana.PublicKey, len(r.byOwner)),
		byPool:    make(map[solana.PublicKey][]solana.PublicKey, len(r.byPool)),
		pools:     make(map[solana.PublicKey]*PoolState, len(r.pools)),
	}
	for k, v := range r.positions {
		s.positions[k] = v
	}
	for k, v := range r.byOwner {
		s.byOwner[k] = append([]solana.PublicKey(nil), v...)
	}
	for k, v := range r.byPool {
		s.byPool[k] = append([]solana.PublicKey(nil), v...)
	}
	for k, v := range r.pools {
		s.pools[k] = v
	}
	return s
}

// Count returns the number of tracked positions and pools, for metrics.
func (r *Registry) Count() (positions int, pools int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.positions), len(r.pools)
}
