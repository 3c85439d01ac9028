// Package scheduler runs the per-position harvest state machine: watch
// for a position's bins to become safe to withdraw, debounce transient
// crossings, hand off an intent to the executor, and cool down after
// either outcome so a single pool cannot monopolize the in-flight budget.
package scheduler

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/codec"
	"github.com/binfarm/keeper/internal/registry"
)

// State is one position's place in the harvest state machine. Failed is
// not terminal: it re-arms to Idle after FAIL_BACKOFF slots, same as a
// Cooldown expiry, so a position that keeps failing is retried less and
// less often rather than abandoned.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateCandidate
	StateInFlight
	StateCooldown
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateCandidate:
		return "candidate"
	case StateInFlight:
		return "in_flight"
	case StateCooldown:
		return "cooldown"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults for the tunables spec section 6 leaves to the keeper's own
// judgement (recorded as Open Question decisions in the design ledger).
const (
	DefaultDebounceSlots   = 2
	DefaultCooldownSlots   = 20
	DefaultMaxRetries      = 3
	DefaultGlobalInflight  = 8
	DefaultPerPoolInflight = 2

	// failBackoffBaseSlots is the `base` term of FAIL_BACKOFF =
	// base*2^(k-MAX_RETRIES), the value at k = MAX_RETRIES. A position
	// first enters Failed at MAX_RETRIES+1 failures and waits 2*base slots.
	failBackoffBaseSlots = 20
)

// failBackoffSlots implements FAIL_BACKOFF = base * 2^(k-MAX): retries
// grows without bound across repeated Failed cycles (only Complete's
// success branch resets it to 0), so each subsequent re-arm waits longer.
func failBackoffSlots(retries, maxRetries int) uint64 {
	k := retries - maxRetries
	if k < 0 {
		k = 0
	}
	if k > 32 {
		k = 32 // guard against an absurd shift on a runaway retry counter
	}
	return uint64(failBackoffBaseSlots) << uint(k)
}

// trackedPosition is the scheduler's private bookkeeping for one
// position, keyed by the position PDA.
type trackedPosition struct {
	state          State
	pool           solana.PublicKey
	candidateSince uint64 // slot the position first became a harvest candidate
	cooldownUntil  uint64 // slot the cooldown expires at
	retries        int
}

// Intent is the work item the scheduler hands to the executor: harvest
// the given bins from the given position.
type Intent struct {
	ID       string
	Position solana.PublicKey
	Pool     solana.PublicKey
	Side     codec.Side
	Bins     []int32
}

// Outcome reports what happened to a previously emitted Intent.
type Outcome struct {
	IntentID string
	Position solana.PublicKey
	Pool     solana.PublicKey
	Success  bool
	Benign   bool // skip-ok, not a failure -- does not count against retries
}

// Scheduler drives the harvest decision loop. It never performs I/O
// itself: it only decides which positions are candidates and emits
// Intents on the Intents channel for the executor to act on.
type Scheduler struct {
	log     *zap.Logger
	reg     *registry.Registry
	debounce uint64
	cooldown uint64
	maxRetries int
	globalInflight  int
	perPoolInflight int

	mu       sync.Mutex
	tracked  map[solana.PublicKey]*trackedPosition
	inFlight map[solana.PublicKey]struct{} // position keys currently in flight
	perPool  map[solana.PublicKey]int      // pool -> count currently in flight

	intents chan Intent
}

// New builds a Scheduler with the given tunables (zero values fall back
// to the package defaults).
func New(log *zap.Logger, reg *registry.Registry, debounceSlots, cooldownSlots uint64, maxRetries, globalInflight, perPoolInflight int) *Scheduler {
	if debounceSlots == 0 {
		debounceSlots = DefaultDebounceSlots
	}
	if cooldownSlots == 0 {
		cooldownSlots = DefaultCooldownSlots
	}
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	if globalInflight == 0 {
		globalInflight = DefaultGlobalInflight
	}
	if perPoolInflight == 0 {
		perPoolInflight = DefaultPerPoolInflight
	}
	return &Scheduler{
		log:             log,
		reg:             reg,
		debounce:        debounceSlots,
		cooldown:        cooldownSlots,
		maxRetries:      maxRetries,
		globalInflight:  globalInflight,
		perPoolInflight: perPoolInflight,
		tracked:         make(map[solana.PublicKey]*trackedPosition),
		inFlight:        make(map[solana.PublicKey]struct{}),
		perPool:         make(map[solana.PublicKey]int),
		intents:         make(chan Intent, globalInflight*2),
	}
}

// Intents is the channel the executor reads emitted harvest intents from.
func (s *Scheduler) Intents() <-chan Intent {
	return s.intents
}

// Tick re-evaluates every tracked (and newly discovered) position against
// the registry's current snapshot at the given slot, advancing state
// machines and emitting Intents for newly-eligible positions. It is
// called once per observed pool-account change.
func (s *Scheduler) Tick(slot uint64) {
	snap := s.reg.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range snap.AllPositions() {
		pool, ok := snap.Pool(entry.Position.Pool)
		if !ok {
			continue // pool state not yet known; wait for the next pool update
		}
		s.evaluateLocked(key, entry, pool, slot)
	}
}

func (s *Scheduler) evaluateLocked(key solana.PublicKey, entry *registry.PositionEntry, pool *registry.PoolState, slot uint64) {
	tp, ok := s.tracked[key]
	if !ok {
		tp = &trackedPosition{state: StateIdle, pool: pool.Address}
		s.tracked[key] = tp
	}

	switch tp.state {
	case StateIdle, StateWatching:
		safe := entry.Position.SafeBinCount(pool.ActiveID)
		if safe == 0 {
			tp.state = StateIdle
			return
		}
		if tp.state == StateIdle {
			tp.state = StateWatching
			tp.candidateSince = slot
			return
		}
		if slot-tp.candidateSince < s.debounce {
			return // still inside the debounce window
		}
		tp.state = StateCandidate
		s.tryEmitLocked(key, entry, pool, tp)

	case StateCandidate:
		s.tryEmitLocked(key, entry, pool, tp)

	case StateCooldown:
		if slot >= tp.cooldownUntil {
			tp.state = StateIdle
		}

	case StateFailed:
		// FAIL_BACKOFF re-arm: once the backoff window elapses the
		// position gets another shot, same as a Cooldown expiry. retries
		// is left untouched so a fresh failure backs off further still.
		if slot >= tp.cooldownUntil {
			tp.state = StateIdle
		}

	case StateInFlight:
		// Awaiting an Outcome callback; nothing to do on a tick.
	}
}

func (s *Scheduler) tryEmitLocked(key solana.PublicKey, entry *registry.PositionEntry, pool *registry.PoolState, tp *trackedPosition) {
	if len(s.inFlight) >= s.globalInflight {
		return
	}
	if s.perPool[pool.Address] >= s.perPoolInflight {
		return
	}

	bins := entry.Position.SafeBins(pool.ActiveID, codec.MaxRangeWidth)
	if len(bins) == 0 {
		tp.state = StateIdle
		return
	}

	tp.state = StateInFlight
	s.inFlight[key] = struct{}{}
	s.perPool[pool.Address]++

	intent := Intent{
		ID:       intentID(key, pool.ActiveID),
		Position: key,
		Pool:     pool.Address,
		Side:     entry.Position.Side,
		Bins:     bins,
	}
	select {
	case s.intents <- intent:
	default:
		s.log.Warn("intent channel full, reverting position to candidate", zap.Stringer("position", key))
		tp.state = StateCandidate
		delete(s.inFlight, key)
		s.perPool[pool.Address]--
	}
}

func intentID(position solana.PublicKey, activeID int32) string {
	return position.String() + ":" + itoa(activeID)
}

func itoa(v int32) string {
	neg := v < 0
	if neg {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Complete applies a settlement Outcome, moving the position out of
// InFlight into Cooldown (success or benign skip) or back toward Idle
// with an incremented retry counter (failure), until MaxRetries is
// exceeded and the position moves to Failed, which re-arms itself after
// FAIL_BACKOFF slots instead of waiting on an operator.
func (s *Scheduler) Complete(o Outcome, nowSlot uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tp, ok := s.tracked[o.Position]
	if !ok {
		return
	}
	delete(s.inFlight, o.Position)
	if s.perPool[o.Pool] > 0 {
		s.perPool[o.Pool]--
	}

	switch {
	case o.Success || o.Benign:
		tp.retries = 0
		tp.state = StateCooldown
		tp.cooldownUntil = nowSlot + s.cooldown
	default:
		tp.retries++
		if tp.retries > s.maxRetries {
			tp.state = StateFailed
			backoff := failBackoffSlots(tp.retries, s.maxRetries)
			tp.cooldownUntil = nowSlot + backoff
			s.log.Error("position exceeded max harvest retries, backing off",
				zap.Stringer("position", o.Position), zap.Int("retries", tp.retries), zap.Uint64("backoff_slots", backoff))
			return
		}
		tp.state = StateCooldown
		tp.cooldownUntil = nowSlot + s.cooldown
	}
}

// StateOf returns the current tracked state of a position, for the API
// and diagnostics.
func (s *Scheduler) StateOf(position solana.PublicKey) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tp, ok := s.tracked[position]
	if !ok {
		return StateIdle, false
	}
	return tp.state, true
}

// Pause forces every Watching/Candidate position back to Idle, used when
// the stream reports itself dropped: we would rather wait out a stale
// view of the chain than emit a harvest against it.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tp := range s.tracked {
		if tp.state == StateWatching || tp.state == StateCandidate {
			tp.state = StateIdle
		}
	}
}

// Resume is a no-op placeholder kept symmetrical with Pause: positions
// re-enter Watching naturally on the next Tick once the stream recovers.
func (s *Scheduler) Resume(_ time.Time) {}
