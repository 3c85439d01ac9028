// Package stream subscribes to program-account change notifications over
// the validator websocket endpoint and turns them into typed Changes the
// registry can apply. It never decodes business semantics itself -- that
// is the registry's job -- it only classifies which account kind changed.
package stream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/codec"
)

// Kind classifies which account kind a Change carries.
type Kind int

const (
	KindPool Kind = iota
	KindPosition
	KindBinArray
	KindConfig
	KindStreamDropped
)

func (k Kind) String() string {
	switch k {
	case KindPool:
		return "pool"
	case KindPosition:
		return "position"
	case KindBinArray:
		return "bin_array"
	case KindConfig:
		return "config"
	case KindStreamDropped:
		return "stream_dropped"
	default:
		return "unknown"
	}
}

// Change is one account-update notification, slot-stamped so downstream
// consumers can discard stale, out-of-order deliveries.
type Change struct {
	Kind    Kind
	Account solana.PublicKey
	Slot    uint64
	Data    []byte
}

// reconnectBaseDelay, reconnectFactor and maxReconnectAttempts implement
// the 5s/x2/cap-3 reconnect policy before the stream is declared offline;
// the ingest loop keeps retrying at the cap rather than giving up, per the
// always-retry-at-the-ceiling keeper behavior.
const (
	reconnectBaseDelay    = 5 * time.Second
	reconnectFactor       = 2.0
	maxReconnectAttempts  = 3
	reconnectMaxAt3       = reconnectBaseDelay * 4 // 5s, 10s, 20s -> cap at 20s once exhausted
)

// Ingest streams program-account changes for the core wrapper program and
// the DLMM pools it has open positions on.
type Ingest struct {
	log       *zap.Logger
	wsURL     string
	programs  []solana.PublicKey
	poolAddrs func() []solana.PublicKey // resolved lazily so newly-registered pools are picked up
	out       chan<- Change
}

// New builds an Ingest. poolAddrs is called each (re)subscribe to pick up
// pools the registry has learned about since the last connection.
func New(log *zap.Logger, wsURL string, programs []solana.PublicKey, poolAddrs func() []solana.PublicKey, out chan<- Change) *Ingest {
	return &Ingest{log: log, wsURL: wsURL, programs: programs, poolAddrs: poolAddrs, out: out}
}

// Run subscribes and streams until ctx is cancelled, transparently
// reconnecting on any disconnect. After maxReconnectAttempts consecutive
// failures it emits a KindStreamDropped change so downstream consumers
// (the scheduler) can pause harvest emission, but it never stops trying.
func (in *Ingest) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := in.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		in.log.Warn("stream disconnected", zap.Error(err), zap.Int("attempt", attempt))
		if attempt >= maxReconnectAttempts {
			in.emitDropped()
		}
		delay := backoffDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	d := reconnectBaseDelay
	for i := 1; i < attempt && d < reconnectMaxAt3; i++ {
		d = time.Duration(float64(d) * reconnectFactor)
	}
	if d > reconnectMaxAt3 {
		d = reconnectMaxAt3
	}
	return d
}

func (in *Ingest) emitDropped() {
	select {
	case in.out <- Change{Kind: KindStreamDropped}:
	default:
		in.log.Error("dropped KindStreamDropped notification, consumer channel full")
	}
}

func (in *Ingest) runOnce(ctx context.Context) error {
	client, err := ws.Connect(ctx, in.wsURL)
	if err != nil {
		return err
	}
	defer client.Close()

	pools := in.poolAddrs()
	subs := make([]*ws.ProgramSubscription, 0, len(in.programs))
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	for _, prog := range in.programs {
		sub, err := client.ProgramSubscribeWithOpts(prog, rpc.CommitmentConfirmed, solana.EncodingBase64, nil)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		go in.pump(ctx, sub, classifyProgram(prog))
	}

	for _, pool := range pools {
		sub, err := client.AccountSubscribeWithOpts(pool, rpc.CommitmentConfirmed, solana.EncodingBase64)
		if err != nil {
			return err
		}
		go in.pumpAccount(ctx, sub, pool, KindPool)
	}

	<-ctx.Done()
	return ctx.Err()
}

func classifyProgram(prog solana.PublicKey) Kind {
	return KindPosition
}

func (in *Ingest) pump(ctx context.Context, sub *ws.ProgramSubscription, kind Kind) {
	for {
		got, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if got == nil || got.Value.Account == nil {
			continue
		}
		data := got.Value.Account.Data.GetBinary()
		in.deliver(Change{
			Kind:    kindFromAccountSize(kind, len(data)),
			Account: got.Value.Pubkey,
			Slot:    got.Context.Slot,
			Data:    data,
		})
	}
}

func (in *Ingest) pumpAccount(ctx context.Context, sub *ws.AccountSubscription, account solana.PublicKey, kind Kind) {
	for {
		got, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if got == nil || got.Value.Account == nil {
			continue
		}
		data := got.Value.Account.Data.GetBinary()
		in.deliver(Change{Kind: kind, Account: account, Slot: got.Context.Slot, Data: data})
	}
}

// kindFromAccountSize disambiguates position vs bin-array accounts
// arriving on the same program subscription by their fixed sizes -- the
// program does not tag notifications with an account-kind discriminator
// of its own. A config account has the same 138-byte size as a position,
// so it cannot be told apart here and arrives as KindPosition.
func kindFromAccountSize(fallback Kind, size int) Kind {
	switch size {
	case codec.PositionSize:
		return KindPosition
	case codec.BinArrayAccountSize:
		return KindBinArray
	default:
		return fallback
	}
}

func (in *Ingest) deliver(c Change) {
	select {
	case in.out <- c:
	default:
		in.log.Warn("stream consumer channel full, dropping change", zap.Stringer("kind", c.Kind))
	}
}

// backoffPolicy expresses the same reconnect shape as a
// backoff.ExponentialBackOff (5s initial, x2, 20s cap, no overall
// deadline). Run computes its delays with backoffDelay and does not use it.
func backoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectBaseDelay
	b.Multiplier = reconnectFactor
	b.MaxInterval = reconnectMaxAt3
	b.MaxElapsedTime = 0
	return b
}
