// Package recycle turns the heterogeneous SPL fee tokens a position's
// Sell side accumulates into SOL ahead of the weekly distribution
// deposit. It is the Saturday Keeper's venue registry: the same
// multi-protocol pool discovery and best-quote routing a DEX aggregator
// needs, aimed at exactly one pair per call -- arbitrary mint to
// wrapped SOL -- rather than an arbitrary user-chosen pair.
package recycle

import (
	"context"
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/pkg"
	"github.com/binfarm/keeper/pkg/sol"
)

// WrappedSOLMint is the canonical wrapped-SOL mint every fee token is
// ultimately recycled into.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// BpsDenominator is the fixed-point denominator RECYCLE_SLIPPAGE_BPS is
// expressed against.
const BpsDenominator = 10_000

// Registry holds the set of DEX protocols the keeper is willing to route
// fee-recycling swaps through, and the pools discovered for the mint
// currently being recycled.
type Registry struct {
	log       *zap.Logger
	protocols []pkg.Protocol

	mu    sync.RWMutex
	pools []pkg.Pool
}

// NewRegistry builds a Registry over the given protocols. The caller
// decides which protocols to wire in (recycle is DEX-agnostic); the
// keeper wires in every protocol it has a working adapter for.
func NewRegistry(log *zap.Logger, protocols ...pkg.Protocol) *Registry {
	return &Registry{log: log, protocols: protocols}
}

// RefreshVenues re-discovers every pool across all wired protocols for
// (mint, WrappedSOLMint), replacing the previous pool set. Protocol
// fetch failures are logged and skipped rather than aborting the whole
// refresh -- one dead protocol adapter should not block recycling on
// every other venue.
func (r *Registry) RefreshVenues(ctx context.Context, mint string) error {
	var pools []pkg.Pool
	for _, proto := range r.protocols {
		found, err := proto.FetchPoolsByPair(ctx, mint, WrappedSOLMint)
		if err != nil {
			r.log.Warn("recycle: protocol pool discovery failed", zap.String("protocol", string(proto.ProtocolName())), zap.Error(err))
			continue
		}
		pools = append(pools, found...)
	}
	if len(pools) == 0 {
		return fmt.Errorf("recycle: no venues found for mint %s -> SOL", mint)
	}
	r.mu.Lock()
	r.pools = pools
	r.mu.Unlock()
	return nil
}

// quoteResult pairs a venue with its quote for the current recycle
// amount, or the error it failed with.
type quoteResult struct {
	pool   pkg.Pool
	out    math.Int
	err    error
}

// BestVenue concurrently quotes every discovered venue for amountIn of
// mint and returns the one offering the highest SOL output. Unlike the
// router this was adapted from, ties are broken purely on quoted output
// -- no venue is special-cased.
func (r *Registry) BestVenue(ctx context.Context, solClient *sol.Client, mint string, amountIn math.Int) (pkg.Pool, math.Int, error) {
	r.mu.RLock()
	pools := append([]pkg.Pool(nil), r.pools...)
	r.mu.RUnlock()

	if len(pools) == 0 {
		return nil, math.ZeroInt(), fmt.Errorf("recycle: no venues loaded, call RefreshVenues first")
	}

	results := make(chan quoteResult, len(pools))
	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(p pkg.Pool) {
			defer wg.Done()
			out, err := p.Quote(ctx, solClient, mint, amountIn)
			results <- quoteResult{pool: p, out: out, err: err}
		}(pool)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var best pkg.Pool
	bestOut := math.ZeroInt()
	for res := range results {
		if res.err != nil {
			r.log.Debug("recycle: venue quote failed", zap.String("pool", res.pool.GetID()), zap.Error(res.err))
			continue
		}
		if best == nil || res.out.GT(bestOut) {
			best = res.pool
			bestOut = res.out
		}
	}
	if best == nil {
		return nil, math.ZeroInt(), fmt.Errorf("recycle: every venue failed to quote mint %s", mint)
	}
	return best, bestOut, nil
}

// MinOut applies the configured slippage bound to a quoted amount.
func MinOut(quoted math.Int, slippageBps int) math.Int {
	if slippageBps <= 0 {
		return quoted
	}
	if slippageBps >= BpsDenominator {
		return math.ZeroInt()
	}
	numerator := math.NewInt(int64(BpsDenominator - slippageBps))
	return quoted.Mul(numerator).Quo(math.NewInt(BpsDenominator))
}

// BuildRecycleSwap quotes every venue for mint, picks the best one, and
// returns its swap instructions converting amountIn of mint into SOL
// (received into payerWsolAccount), bound by slippageBps.
func (r *Registry) BuildRecycleSwap(
	ctx context.Context,
	solClient *sol.Client,
	mint string,
	amountIn math.Int,
	slippageBps int,
	payer solana.PublicKey,
	payerMintAccount solana.PublicKey,
	payerWsolAccount solana.PublicKey,
) ([]solana.Instruction, math.Int, error) {
	best, quoted, err := r.BestVenue(ctx, solClient, mint, amountIn)
	if err != nil {
		return nil, math.ZeroInt(), err
	}
	minOut := MinOut(quoted, slippageBps)

	instrs, err := best.BuildSwapInstructions(ctx, solClient, payer, mint, amountIn, minOut, payerMintAccount, payerWsolAccount)
	if err != nil {
		return nil, math.ZeroInt(), fmt.Errorf("recycle: build swap on venue %s: %w", best.GetID(), err)
	}
	return instrs, minOut, nil
}
