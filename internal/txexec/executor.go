// Package txexec builds, signs, submits and confirms wrapper-program
// transactions on behalf of the scheduler. It owns blockhash freshness,
// compute-budget sizing, priority-fee bidding and the retry/backoff
// policy; the scheduler only ever sees a settlement Outcome.
package txexec

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/computebudget"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/keepererr"
	"github.com/binfarm/keeper/pkg/sol"
)

const (
	// ComputeUnitLimit is the fixed compute budget request attached to
	// every harvest transaction; generous enough to cover a full
	// 70-bin-array harvest without per-instruction tuning.
	ComputeUnitLimit = 400_000

	// FloorMicroLamports is the minimum priority-fee bid regardless of
	// the recent-fee sample, so a quiet network never starves the
	// transaction of a landing incentive entirely.
	FloorMicroLamports = 10_000

	// blockhashRefreshAfter is the age past which BlockhashStale reports
	// a blockhash as stale. Submit holds no blockhash across attempts:
	// each attempt's SignTransaction fetches a fresh one.
	blockhashRefreshAfter = 30 * time.Second

	defaultConfirmTimeout = 60 * time.Second
	retryBase             = time.Second
	retryMax              = 30 * time.Second

	recentFeeSampleCap = 20
)

// Intent is the minimal shape the executor needs to build a transaction;
// kept separate from scheduler.Intent so this package does not import
// scheduler.
type Intent struct {
	ID           string
	Instructions []solana.Instruction
	Signers      []solana.PrivateKey
}

// Outcome is the settlement callback payload handed back to whoever
// submitted the Intent.
type Outcome struct {
	IntentID  string
	Success   bool
	Benign    bool
	Signature *solana.Signature
	Logs      []string
	Err       error
}

// Executor submits transactions with retry, compute-budget sizing,
// priority-fee bidding and confirmation polling.
type Executor struct {
	log            *zap.Logger
	client         *sol.Client
	maxRetries     int
	confirmTimeout time.Duration

	useJito         bool
	jitoTipLamports uint64

	mu         sync.Mutex
	recentFees []uint64
}

// New builds an Executor. confirmTimeout of 0 falls back to 60s.
func New(log *zap.Logger, client *sol.Client, maxRetries int, confirmTimeout time.Duration) *Executor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	return &Executor{log: log, client: client, maxRetries: maxRetries, confirmTimeout: confirmTimeout}
}

// WithJito switches the executor onto the Jito bundle submission path:
// every attempt wraps its transaction in a tipped bundle instead of calling
// sendTransaction directly. The client must already have been built with a
// Jito endpoint. tipLamports is the tip paid per attempt.
func (e *Executor) WithJito(tipLamports uint64) *Executor {
	e.useJito = true
	e.jitoTipLamports = tipLamports
	return e
}

// ObservePriorityFee records a landed transaction's priority fee so
// future bids track recent network activity. Expected to be called by
// the caller after reading fees from GetRecentPrioritizationFees.
func (e *Executor) ObservePriorityFee(microLamports uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentFees = append(e.recentFees, microLamports)
	if len(e.recentFees) > recentFeeSampleCap {
		e.recentFees = e.recentFees[len(e.recentFees)-recentFeeSampleCap:]
	}
}

// bidPriorityFee returns the median of the recent fee sample, floored at
// FloorMicroLamports so a quiet sample never under-bids.
func (e *Executor) bidPriorityFee() uint64 {
	e.mu.Lock()
	sample := append([]uint64(nil), e.recentFees...)
	e.mu.Unlock()

	if len(sample) == 0 {
		return FloorMicroLamports
	}
	sort.Slice(sample, func(i, j int) bool { return sample[i] < sample[j] })
	median := sample[len(sample)/2]
	if median < FloorMicroLamports {
		return FloorMicroLamports
	}
	return median
}

// RefreshPriorityFeeSample pulls recent prioritization fees for the given
// accounts and folds them into the bid sample; attempt calls it once per
// submit attempt, with no account filter, before sizing the bid.
func (e *Executor) RefreshPriorityFeeSample(ctx context.Context, accounts []solana.PublicKey) {
	res, err := e.client.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		return
	}
	for _, f := range res {
		e.ObservePriorityFee(f.PrioritizationFee)
	}
}

// computeBudgetInstructions builds the two compute-budget instructions
// every harvest transaction is prefixed with: a fixed compute-unit limit
// and a priority-fee bid sized from recent network activity.
func (e *Executor) computeBudgetInstructions() []solana.Instruction {
	return []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(e.bidPriorityFee()).Build(),
	}
}

// Submit builds, signs, simulates, submits and confirms one Intent,
// retrying transient failures with exponential backoff up to maxRetries.
// Benign simulation failures (per keepererr.ClassifyLog) are reported as
// a successful no-op Outcome rather than retried.
func (e *Executor) Submit(ctx context.Context, intent Intent) Outcome {
	var lastErr error

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBase
	policy.Multiplier = 2
	policy.MaxInterval = retryMax
	policy.MaxElapsedTime = 0

	attempt := 0
	for attempt <= e.maxRetries {
		attempt++
		outcome, retry, err := e.attempt(ctx, intent)
		if err == nil {
			return outcome
		}
		lastErr = err
		if !retry {
			break
		}
		wait := policy.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Outcome{IntentID: intent.ID, Err: ctx.Err()}
		}
	}
	return Outcome{IntentID: intent.ID, Err: fmt.Errorf("submit failed after %d attempts: %w", attempt, lastErr)}
}

// SubmitSigned relays a transaction the caller already fully signed --
// the permissionless crank path, where the caller is its own fee payer
// and the keeper never touches a private key. Unlike Submit it never
// rebuilds or re-signs on retry: a stale blockhash just fails the
// attempt and the caller is responsible for resubmitting with a fresh
// one, since only they hold the signature.
func (e *Executor) SubmitSigned(ctx context.Context, id string, tx *solana.Transaction) Outcome {
	sim, err := e.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return Outcome{IntentID: id, Err: fmt.Errorf("simulate: %w", err)}
	}
	if sim.Value.Err != nil {
		tag := keepererr.ClassifyLog(sim.Value.Logs)
		if tag != "" {
			e.log.Info("benign simulation outcome, skipping", zap.String("intent", id), zap.String("tag", tag))
			return Outcome{IntentID: id, Success: true, Benign: true, Logs: sim.Value.Logs}
		}
		return Outcome{IntentID: id, Err: fmt.Errorf("simulation failed: %v", sim.Value.Err)}
	}

	sig, err := e.client.SendTx(ctx, tx)
	if err != nil {
		return Outcome{IntentID: id, Err: fmt.Errorf("send: %w", err)}
	}
	confirmed, logs, err := e.confirm(ctx, sig)
	if err != nil {
		return Outcome{IntentID: id, Err: fmt.Errorf("confirm: %w", err)}
	}
	if !confirmed {
		return Outcome{IntentID: id, Err: fmt.Errorf("confirmation timed out for %s", sig)}
	}
	return Outcome{IntentID: id, Success: true, Signature: &sig, Logs: logs}
}

// attempt runs one build-sign-simulate-submit-confirm cycle. The bool
// return reports whether the caller should retry on error.
func (e *Executor) attempt(ctx context.Context, intent Intent) (Outcome, bool, error) {
	if len(intent.Signers) == 0 {
		return Outcome{}, false, fmt.Errorf("intent %s has no signers", intent.ID)
	}

	e.RefreshPriorityFeeSample(ctx, nil)
	instrs := append(e.computeBudgetInstructions(), intent.Instructions...)

	tx, err := e.client.SignTransaction(ctx, intent.Signers, instrs...)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("sign: %w", err)
	}

	sim, err := e.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("simulate: %w", err)
	}
	if sim.Value.Err != nil {
		tag := keepererr.ClassifyLog(sim.Value.Logs)
		if tag != "" {
			e.log.Info("benign simulation outcome, skipping", zap.String("intent", intent.ID), zap.String("tag", tag))
			return Outcome{IntentID: intent.ID, Success: true, Benign: true, Logs: sim.Value.Logs}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("simulation failed: %v", sim.Value.Err)
	}

	if e.useJito {
		return e.attemptBundle(ctx, intent, tx)
	}

	sig, err := e.client.SendTx(ctx, tx)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("send: %w", err)
	}

	confirmed, logs, err := e.confirm(ctx, sig)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("confirm: %w", err)
	}
	if !confirmed {
		return Outcome{}, true, fmt.Errorf("confirmation timed out for %s", sig)
	}

	return Outcome{IntentID: intent.ID, Success: true, Signature: &sig, Logs: logs}, false, nil
}

// attemptBundle submits tx as a tipped Jito bundle and polls for bundle
// landing rather than calling sendTransaction/confirm directly.
func (e *Executor) attemptBundle(ctx context.Context, intent Intent, tx *solana.Transaction) (Outcome, bool, error) {
	bundleID, err := e.client.SendTxWithJito(ctx, e.jitoTipLamports, intent.Signers, tx)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("submit bundle: %w", err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	if err := e.client.PollJitoBundle(pollCtx, bundleID); err != nil {
		return Outcome{}, true, fmt.Errorf("bundle %s: %w", bundleID, err)
	}

	sig := tx.Signatures[0]
	return Outcome{IntentID: intent.ID, Success: true, Signature: &sig}, false, nil
}

// confirm polls GetSignatureStatuses until the transaction reaches the
// confirmed commitment level or the executor's confirm timeout elapses.
func (e *Executor) confirm(ctx context.Context, sig solana.Signature) (bool, []string, error) {
	deadline := time.Now().Add(e.confirmTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return false, nil, nil
		}
		res, err := e.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return false, nil, err
		}
		if len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return false, nil, fmt.Errorf("transaction failed on-chain: %v", st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return true, nil, nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, nil, ctx.Err()
		}
	}
}

// BlockhashStale reports whether a blockhash obtained at issuedAt should
// be refreshed before reuse.
func BlockhashStale(issuedAt time.Time) bool {
	return time.Since(issuedAt) > blockhashRefreshAfter
}
