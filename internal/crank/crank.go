// Package crank exposes the same harvest/sweep intents the Saturday
// Keeper runs on a schedule, but caller-triggered and caller-paid: any
// permissionless account can advance the pipeline early or harvest an
// eligible position nobody has gotten to yet, with themselves as fee
// payer. The keeper never holds the caller's key -- it constructs the
// instruction naming the caller as signer and hands back an unsigned
// transaction; the caller signs it client-side and relays it back for
// submission. Every relayed SubmitSigned call is recorded in a
// tip-accounting audit trail, success or failure; the Build* calls record
// nothing.
package crank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/codec"
	"github.com/binfarm/keeper/internal/eventbus"
	"github.com/binfarm/keeper/internal/registry"
	"github.com/binfarm/keeper/internal/saturday"
	"github.com/binfarm/keeper/internal/scheduler"
	"github.com/binfarm/keeper/internal/txexec"
	"github.com/binfarm/keeper/pkg/sol"
)

// TipRecord is one audit-trail entry: who cranked, what they triggered,
// and when.
type TipRecord struct {
	Caller    solana.PublicKey
	Action    string
	Timestamp time.Time
	Success   bool
}

// Crank lets an external caller build and submit, as their own fee
// payer, either an opportunistic single-position harvest or the
// protocol's own sweep_rover distribution trigger.
type Crank struct {
	log      *zap.Logger
	client   *sol.Client
	exec     *txexec.Executor
	reg      *registry.Registry
	sched    *scheduler.Scheduler
	bus      *eventbus.Bus
	accounts saturday.Accounts

	mu   sync.Mutex
	tips []TipRecord
}

// New builds a Crank over the shared registry, scheduler and executor.
func New(log *zap.Logger, client *sol.Client, exec *txexec.Executor, reg *registry.Registry, sched *scheduler.Scheduler, bus *eventbus.Bus, accounts saturday.Accounts) *Crank {
	return &Crank{log: log, client: client, exec: exec, reg: reg, sched: sched, bus: bus, accounts: accounts}
}

// BuildDistributionTrigger constructs the unsigned sweep_rover
// instruction -- the protocol's own crank entrypoint, which pays the
// caller a tip out of the swept fee -- with caller as fee payer. The
// caller signs and submits the returned transaction themselves, or
// relays it back through SubmitSigned.
func (c *Crank) BuildDistributionTrigger(ctx context.Context, caller solana.PublicKey) (*solana.Transaction, error) {
	ix, err := codec.BuildSweepRover(c.accounts.Program, codec.SweepRoverAccounts{
		RoverAuthority:     c.accounts.RoverAuthority,
		RoverAccount:       c.accounts.RoverAccount,
		RevenueDestination: c.accounts.RevenueDestination,
		KeeperAccount:      c.accounts.KeeperAccount,
		Caller:             caller,
		SystemProgram:      c.accounts.SystemProgram,
	})
	if err != nil {
		return nil, fmt.Errorf("build sweep_rover: %w", err)
	}
	tx, err := c.client.BuildUnsignedTransaction(ctx, caller, ix)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

// BuildOpportunisticHarvest constructs the unsigned harvest_bins
// instruction for one safe-to-harvest position, with caller as fee
// payer and tip recipient, mirroring the keeper's own executor loop but
// substituting the external caller for the keeper's signer.
func (c *Crank) BuildOpportunisticHarvest(ctx context.Context, caller, position solana.PublicKey) (*solana.Transaction, error) {
	snap := c.reg.Snapshot()
	entry, ok := snap.Position(position)
	if !ok {
		return nil, fmt.Errorf("position %s not tracked", position)
	}
	pool, ok := snap.Pool(entry.Position.Pool)
	if !ok {
		return nil, fmt.Errorf("pool %s not tracked", entry.Position.Pool)
	}
	bins := entry.Position.SafeBins(pool.ActiveID, codec.MaxRangeWidth)
	if len(bins) == 0 {
		return nil, fmt.Errorf("position %s has no safe bins to harvest", position)
	}

	ix, err := codec.BuildHarvestBins(c.accounts.Program, codec.HarvestBinsAccounts{
		Position:          position,
		Pool:              entry.Position.Pool,
		LiquidityPosition: entry.Position.LiquidityPosition,
		Owner:             entry.Position.Owner,
		Caller:            caller,
		DLMMProgram:       c.accounts.DLMMProgram,
		TokenProgramX:     c.accounts.TokenProgram,
		TokenProgramY:     c.accounts.TokenProgram,
	}, codec.HarvestBinsArgs{BinIDs: bins})
	if err != nil {
		return nil, fmt.Errorf("build harvest_bins: %w", err)
	}
	tx, err := c.client.BuildUnsignedTransaction(ctx, caller, ix)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

// SubmitSigned relays a transaction the caller has already fully signed
// client-side, verifying the declared caller is in fact the transaction's
// fee payer and the signature set checks out before handing it to the
// Executor -- the keeper never re-signs or re-builds it.
func (c *Crank) SubmitSigned(ctx context.Context, caller solana.PublicKey, action string, tx *solana.Transaction) (txexec.Outcome, error) {
	if err := verifyCallerIsPayer(tx, caller); err != nil {
		c.record(caller, action, false)
		return txexec.Outcome{}, err
	}
	outcome := c.exec.SubmitSigned(ctx, action+":"+caller.String(), tx)
	c.record(caller, action, outcome.Err == nil)
	c.bus.Publish(eventbus.Event{
		Type: eventbus.EventHarvestSubmitted,
		Payload: map[string]interface{}{
			"action": action,
			"caller": caller.String(),
		},
	})
	return outcome, nil
}

func verifyCallerIsPayer(tx *solana.Transaction, caller solana.PublicKey) error {
	if tx == nil || len(tx.Message.AccountKeys) == 0 {
		return fmt.Errorf("empty transaction")
	}
	if !tx.Message.AccountKeys[0].Equals(caller) {
		return fmt.Errorf("declared caller is not the transaction's fee payer")
	}
	if !tx.VerifySignatures() {
		return fmt.Errorf("transaction signature verification failed")
	}
	return nil
}

func (c *Crank) record(caller solana.PublicKey, action string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tips = append(c.tips, TipRecord{Caller: caller, Action: action, Timestamp: time.Now(), Success: success})
	c.log.Info("crank action recorded", zap.Stringer("caller", caller), zap.String("action", action), zap.Bool("success", success))
}

// AuditTrail returns a copy of every recorded crank action, most-recent
// last, for the public API's diagnostics surface.
func (c *Crank) AuditTrail() []TipRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TipRecord(nil), c.tips...)
}
