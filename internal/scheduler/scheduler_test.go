package scheduler

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/codec"
	"github.com/binfarm/keeper/internal/registry"
)

func buildPositionBytes(side codec.Side, minBin, maxBin int32) []byte {
	data := make([]byte, codec.PositionSize)
	off := 8
	owner := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	liqPos := solana.NewWallet().PublicKey()
	copy(data[off:], owner[:])
	off += 32
	copy(data[off:], pool[:])
	off += 32
	copy(data[off:], liqPos[:])
	off += 32
	data[off] = byte(side)
	off++
	binary.LittleEndian.PutUint32(data[off:], uint32(minBin))
	off += 4
	binary.LittleEndian.PutUint32(data[off:], uint32(maxBin))
	off += 4
	binary.LittleEndian.PutUint64(data[off:], 1_000_000)
	off += 8
	binary.LittleEndian.PutUint64(data[off:], 0)
	off += 8
	binary.LittleEndian.PutUint64(data[off:], uint64(time.Now().Unix()))
	off += 8
	data[off] = 255
	return data
}

func newTestScheduler(t *testing.T) (*Scheduler, *registry.Registry) {
	t.Helper()
	log := zap.NewNop()
	reg := registry.New(log, nil)
	sched := New(log, reg, 2, 20, 3, 8, 2)
	return sched, reg
}

func TestSchedulerEmitsIntentOnceSafeBinsDebounced(t *testing.T) {
	sched, reg := newTestScheduler(t)

	posKey := solana.NewWallet().PublicKey()
	data := buildPositionBytes(codec.SideSell, 110, 120)
	require.NoError(t, reg.LoadPosition(posKey, data, 1))

	pos, _ := reg.Snapshot().Position(posKey)
	poolAddr := pos.Position.Pool
	reg.UpsertPool(poolAddr, 115, 25, nil, 1)

	sched.Tick(1) // becomes Watching
	state, ok := sched.StateOf(posKey)
	require.True(t, ok)
	require.Equal(t, StateWatching, state)

	sched.Tick(2) // still inside debounce window (< 2 slots elapsed)
	state, _ = sched.StateOf(posKey)
	require.Equal(t, StateWatching, state)

	sched.Tick(3) // debounce satisfied, should emit
	state, _ = sched.StateOf(posKey)
	require.Equal(t, StateInFlight, state)

	select {
	case intent := <-sched.Intents():
		require.Equal(t, posKey, intent.Position)
		require.NotEmpty(t, intent.Bins)
	default:
		t.Fatal("expected an emitted intent")
	}
}

func TestSchedulerCompleteMovesToCooldownOnSuccess(t *testing.T) {
	sched, reg := newTestScheduler(t)
	posKey := solana.NewWallet().PublicKey()
	data := buildPositionBytes(codec.SideSell, 110, 120)
	require.NoError(t, reg.LoadPosition(posKey, data, 1))
	pos, _ := reg.Snapshot().Position(posKey)
	reg.UpsertPool(pos.Position.Pool, 115, 25, nil, 1)

	sched.Tick(1)
	sched.Tick(10)
	<-sched.Intents()

	sched.Complete(Outcome{IntentID: "x", Position: posKey, Pool: pos.Position.Pool, Success: true}, 10)
	state, ok := sched.StateOf(posKey)
	require.True(t, ok)
	require.Equal(t, StateCooldown, state)
}

func TestSchedulerCompleteFailureRetriesThenFails(t *testing.T) {
	sched, reg := newTestScheduler(t)
	posKey := solana.NewWallet().PublicKey()
	data := buildPositionBytes(codec.SideSell, 110, 120)
	require.NoError(t, reg.LoadPosition(posKey, data, 1))
	pos, _ := reg.Snapshot().Position(posKey)
	pool := pos.Position.Pool
	reg.UpsertPool(pool, 50, 25, nil, 1) // active bin far below range, position stays Watching/Idle
	sched.Tick(1)

	for i := 0; i < DefaultMaxRetries; i++ {
		sched.Complete(Outcome{IntentID: "x", Position: posKey, Pool: pool, Success: false}, uint64(i))
		state, _ := sched.StateOf(posKey)
		require.Equal(t, StateCooldown, state)
	}
	sched.Complete(Outcome{IntentID: "x", Position: posKey, Pool: pool, Success: false}, 99)
	state, _ := sched.StateOf(posKey)
	require.Equal(t, StateFailed, state)
}

func TestSchedulerFailedStateRearmsAfterBackoff(t *testing.T) {
	sched, reg := newTestScheduler(t)
	posKey := solana.NewWallet().PublicKey()
	data := buildPositionBytes(codec.SideSell, 110, 120)
	require.NoError(t, reg.LoadPosition(posKey, data, 1))
	pos, _ := reg.Snapshot().Position(posKey)
	pool := pos.Position.Pool
	reg.UpsertPool(pool, 50, 25, nil, 1)
	sched.Tick(1)

	for i := 0; i <= DefaultMaxRetries; i++ {
		sched.Complete(Outcome{IntentID: "x", Position: posKey, Pool: pool, Success: false}, 0)
	}
	state, _ := sched.StateOf(posKey)
	require.Equal(t, StateFailed, state)

	backoff := failBackoffSlots(DefaultMaxRetries+1, DefaultMaxRetries)

	sched.Tick(backoff - 1)
	state, _ = sched.StateOf(posKey)
	require.Equal(t, StateFailed, state, "backoff window has not elapsed yet")

	sched.Tick(backoff)
	state, _ = sched.StateOf(posKey)
	require.Equal(t, StateIdle, state, "position should re-arm once FAIL_BACKOFF elapses")
}
