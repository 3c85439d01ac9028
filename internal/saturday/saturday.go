// Package saturday runs the weekly distribution pipeline: unwrap any
// WSOL sitting in the rover, sweep the rover's SOL balance, recycle
// outstanding SPL fee tokens into SOL, deposit the proceeds into the
// distribution pool, and close any now-empty fee-rover positions. It is
// cron-scheduled but exposes Run directly so the keeper's `saturday`
// subcommand can trigger the same pipeline out of band.
package saturday

import (
	"context"
	"fmt"

	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/addressbook"
	"github.com/binfarm/keeper/internal/codec"
	"github.com/binfarm/keeper/internal/eventbus"
	"github.com/binfarm/keeper/internal/keepererr"
	"github.com/binfarm/keeper/internal/recycle"
	"github.com/binfarm/keeper/internal/registry"
	"github.com/binfarm/keeper/internal/txexec"
	"github.com/binfarm/keeper/pkg/sol"
)

// Step identifies one stage of the weekly pipeline, in run order.
type Step int

const (
	StepUnwrapWSOL Step = iota
	StepSweepRover
	StepRecycleFees
	StepDepositSOL
	StepCloseFeeRovers
	stepCount
)

func (s Step) String() string {
	switch s {
	case StepUnwrapWSOL:
		return "unwrap_wsol"
	case StepSweepRover:
		return "sweep_rover"
	case StepRecycleFees:
		return "recycle_fees"
	case StepDepositSOL:
		return "deposit_sol"
	case StepCloseFeeRovers:
		return "close_fee_rovers"
	default:
		return "unknown"
	}
}

// Accounts bundles the fixed program-derived addresses the pipeline
// needs; resolved once at startup since none of them change at runtime.
type Accounts struct {
	Program             solana.PublicKey
	DistributionProgram solana.PublicKey
	DLMMProgram         solana.PublicKey
	RoverAuthority      solana.PublicKey
	WsolAccount         solana.PublicKey
	RoverAccount        solana.PublicKey
	RevenueDestination  solana.PublicKey
	KeeperAccount       solana.PublicKey
	DistPool            solana.PublicKey
	ProgramVault        solana.PublicKey
	MonkeState          solana.PublicKey
	SystemProgram       solana.PublicKey
	TokenProgram        solana.PublicKey
}

// FeeRoverMint is one SPL mint the keeper still holds as residual fees
// and must recycle into SOL. Pool/ActiveBinID/BinStep size the fee-rover
// position open_fee_rover deposits it into; PayerTokenAccount backs the
// fallback external-DEX swap for whatever a closed fee-rover position
// didn't convert through the pool itself.
type FeeRoverMint struct {
	Mint              string
	Pool              solana.PublicKey
	ActiveBinID       int32
	BinStep           uint16
	Amount            math.Int
	PayerTokenAccount solana.PublicKey
}

// Keeper runs the weekly pipeline and exposes progress on the event bus.
type Keeper struct {
	log      *zap.Logger
	client   *sol.Client
	exec     *txexec.Executor
	recycler *recycle.Registry
	reg      *registry.Registry
	book     *addressbook.Book
	bus      *eventbus.Bus
	signer   solana.PrivateKey
	accounts Accounts

	slippageBps int
	feeMints    func() []FeeRoverMint

	resumeStep Step
	cron       *cron.Cron
}

// New builds a Saturday Keeper pipeline runner.
func New(
	log *zap.Logger,
	client *sol.Client,
	exec *txexec.Executor,
	recycler *recycle.Registry,
	reg *registry.Registry,
	book *addressbook.Book,
	bus *eventbus.Bus,
	signer solana.PrivateKey,
	accounts Accounts,
	slippageBps int,
	feeMints func() []FeeRoverMint,
) *Keeper {
	return &Keeper{
		log: log, client: client, exec: exec, recycler: recycler, reg: reg, book: book, bus: bus,
		signer: signer, accounts: accounts, slippageBps: slippageBps, feeMints: feeMints,
	}
}

// Schedule registers the weekly run at hourUTC on Saturdays and starts
// the cron scheduler. Callers should defer Stop.
func (k *Keeper) Schedule(ctx context.Context, hourUTC int) error {
	k.cron = cron.New(cron.WithLocation(time.UTC))
	spec := fmt.Sprintf("0 %d * * SAT", hourUTC)
	_, err := k.cron.AddFunc(spec, func() {
		if err := k.Run(ctx); err != nil {
			k.log.Error("saturday pipeline failed", zap.Error(err))
		}
	})
	if err != nil {
		return keepererr.Fatal("saturday.schedule", err)
	}
	k.cron.Start()
	return nil
}

// Stop halts the cron scheduler.
func (k *Keeper) Stop() {
	if k.cron != nil {
		k.cron.Stop()
	}
}

// Run executes the pipeline from its last-recorded step through
// completion. The resume point is held in memory only: a later Run in the
// same process starts at the step that halted, while a new process starts
// at unwrap_wsol. A Benign error (an empty rover, nothing to sweep)
// advances to the next step; any other error halts the pipeline, including
// an executor failure, which submit reports as Transient once the
// executor's own retries are spent.
func (k *Keeper) Run(ctx context.Context) error {
	for step := k.resumeStep; step < stepCount; step++ {
		k.publish(step, "starting")
		err := k.runStep(ctx, step)
		if err == nil {
			k.resumeStep = step + 1
			k.publish(step, "completed")
			continue
		}
		if keepererr.IsClass(err, keepererr.ClassBenign) {
			k.log.Info("saturday step skipped (benign)", zap.String("step", step.String()), zap.Error(err))
			k.resumeStep = step + 1
			k.publish(step, "skipped")
			continue
		}
		k.publish(step, "failed")
		return fmt.Errorf("saturday pipeline halted at %s: %w", step, err)
	}
	k.resumeStep = StepUnwrapWSOL
	if removed, err := k.book.Prune(); err != nil {
		k.log.Warn("address book prune failed", zap.Error(err))
	} else if removed > 0 {
		k.log.Info("pruned address book", zap.Int("removed", removed))
	}
	return nil
}

func (k *Keeper) publish(step Step, status string) {
	k.bus.Publish(eventbus.Event{
		Type: eventbus.EventSaturdayStep,
		Payload: map[string]string{
			"step":   step.String(),
			"status": status,
		},
	})
}

func (k *Keeper) runStep(ctx context.Context, step Step) error {
	switch step {
	case StepUnwrapWSOL:
		return k.unwrapWSOL(ctx)
	case StepSweepRover:
		return k.sweepRover(ctx)
	case StepRecycleFees:
		return k.recycleFees(ctx)
	case StepDepositSOL:
		return k.depositSOL(ctx)
	case StepCloseFeeRovers:
		return k.closeFeeRovers(ctx)
	default:
		return keepererr.Fatal("saturday.unknown_step", fmt.Errorf("step %d", step))
	}
}

func (k *Keeper) unwrapWSOL(ctx context.Context) error {
	ix, err := codec.BuildUnwrapWsol(k.accounts.Program, codec.UnwrapWsolAccounts{
		RoverAuthority: k.accounts.RoverAuthority,
		WsolAccount:    k.accounts.WsolAccount,
		Destination:    k.accounts.RoverAccount,
		Caller:         k.signer.PublicKey(),
		TokenProgram:   k.accounts.TokenProgram,
	})
	if err != nil {
		return keepererr.Fatal("saturday.build_unwrap", err)
	}
	return k.submit(ctx, "unwrap_wsol", ix)
}

func (k *Keeper) sweepRover(ctx context.Context) error {
	ix, err := codec.BuildSweepRover(k.accounts.Program, codec.SweepRoverAccounts{
		RoverAuthority:     k.accounts.RoverAuthority,
		RoverAccount:       k.accounts.RoverAccount,
		RevenueDestination: k.accounts.RevenueDestination,
		KeeperAccount:      k.accounts.KeeperAccount,
		Caller:             k.signer.PublicKey(),
		SystemProgram:      k.accounts.SystemProgram,
	})
	if err != nil {
		return keepererr.Fatal("saturday.build_sweep", err)
	}
	return k.submit(ctx, "sweep_rover", ix)
}

// recycleFees opens one fee-rover position per configured mint: the
// wrapper's own open_fee_rover instruction, sized by FeeRoverWidth and
// placed just above the pool's current active bin so the pool's own
// liquidity converts the fee token into SOL as price walks through it,
// the same mechanism a user Sell position relies on.
func (k *Keeper) recycleFees(ctx context.Context) error {
	mints := k.feeMints()
	if len(mints) == 0 {
		return keepererr.Benign("saturday.no_fee_mints", nil)
	}
	for _, fm := range mints {
		if err := k.openFeeRover(ctx, fm); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keeper) openFeeRover(ctx context.Context, fm FeeRoverMint) error {
	liqPos := solana.NewWallet().PrivateKey

	position, _, err := codec.DerivePositionPDA(k.accounts.Program, liqPos.PublicKey())
	if err != nil {
		return keepererr.Fatal("saturday.derive_fee_rover_position", err)
	}
	vault, _, err := codec.DeriveVaultPDA(k.accounts.Program, liqPos.PublicKey())
	if err != nil {
		return keepererr.Fatal("saturday.derive_fee_rover_vault", err)
	}

	width := codec.FeeRoverWidth(fm.BinStep)
	minBin, maxBin := fm.ActiveBinID+1, fm.ActiveBinID+width

	ix, err := codec.BuildOpenFeeRover(k.accounts.Program, codec.FeeRoverAccounts{
		Position:          position,
		Pool:              fm.Pool,
		LiquidityPosition: liqPos.PublicKey(),
		Vault:             vault,
		RoverAuthority:    k.accounts.RoverAuthority,
		Caller:            k.signer.PublicKey(),
		DLMMProgram:       k.accounts.DLMMProgram,
		TokenProgram:      k.accounts.TokenProgram,
		SystemProgram:     k.accounts.SystemProgram,
	}, minBin, maxBin, fm.Amount.Uint64())
	if err != nil {
		return keepererr.Fatal("saturday.build_open_fee_rover", err)
	}

	label := "open_fee_rover_" + fm.Mint
	outcome := k.exec.Submit(ctx, txexec.Intent{
		ID:           label,
		Instructions: []solana.Instruction{ix},
		Signers:      []solana.PrivateKey{k.signer, liqPos},
	})
	if outcome.Err != nil {
		if outcome.Benign {
			return keepererr.Benign(label, outcome.Err)
		}
		return keepererr.Transient(label, outcome.Err)
	}
	return nil
}

func (k *Keeper) depositSOL(ctx context.Context) error {
	bal, err := k.client.GetBalance(ctx, k.accounts.RoverAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return keepererr.Transient("saturday.get_balance", err)
	}
	if bal.Value == 0 {
		return keepererr.Benign("saturday.nothing_to_deposit", nil)
	}
	ix, err := codec.BuildDepositSol(k.accounts.DistributionProgram, codec.DepositSolAccounts{
		DistributionPool: k.accounts.DistPool,
		ProgramVault:     k.accounts.ProgramVault,
		MonkeState:       k.accounts.MonkeState,
		SourceAccount:    k.accounts.RoverAccount,
		Caller:           k.signer.PublicKey(),
		SystemProgram:    k.accounts.SystemProgram,
	}, bal.Value)
	if err != nil {
		return keepererr.Fatal("saturday.build_deposit", err)
	}
	return k.submit(ctx, "deposit_sol", ix)
}

// closeFeeRovers closes every fee-rover position the registry has
// indexed under RoverAuthority. A position price hasn't finished walking
// through yet is rejected on-chain with a benign "PositionNotEmpty" log
// and simply retried next week; once every rover position this run found
// is settled, any residual non-SOL balance the pool's own liquidity
// couldn't fully convert is swept through the external-DEX venue
// registry as a fallback.
func (k *Keeper) closeFeeRovers(ctx context.Context) error {
	snap := k.reg.Snapshot()
	roverPositions := snap.PositionsByOwner(k.accounts.RoverAuthority)
	if len(roverPositions) == 0 {
		return keepererr.Benign("saturday.no_fee_rovers_to_close", nil)
	}
	for _, key := range roverPositions {
		if err := k.closeFeeRover(ctx, snap, key); err != nil {
			return err
		}
	}
	return k.recycleResidualFeeTokens(ctx)
}

func (k *Keeper) closeFeeRover(ctx context.Context, snap *registry.Snapshot, key solana.PublicKey) error {
	entry, ok := snap.Position(key)
	if !ok {
		return nil
	}
	vault, _, err := codec.DeriveVaultPDA(k.accounts.Program, entry.Position.LiquidityPosition)
	if err != nil {
		return keepererr.Fatal("saturday.derive_fee_rover_vault", err)
	}
	ix, err := codec.BuildCloseFeeRover(k.accounts.Program, codec.FeeRoverAccounts{
		Position:          key,
		LiquidityPosition: entry.Position.LiquidityPosition,
		Vault:             vault,
		RoverAuthority:    k.accounts.RoverAuthority,
		Caller:            k.signer.PublicKey(),
		TokenProgram:      k.accounts.TokenProgram,
	})
	if err != nil {
		return keepererr.Fatal("saturday.build_close_fee_rover", err)
	}
	return k.submit(ctx, "close_fee_rover_"+key.String(), ix)
}

// recycleResidualFeeTokens converts whatever closeFeeRover left behind in
// each mint's payer token account through the external-DEX venue
// registry -- the fallback path for fee tokens the pool's own liquidity
// didn't fully absorb while the position's range was live.
func (k *Keeper) recycleResidualFeeTokens(ctx context.Context) error {
	for _, fm := range k.feeMints() {
		bal, err := k.client.GetTokenAccountBalance(ctx, fm.PayerTokenAccount, rpc.CommitmentConfirmed)
		if err != nil {
			return keepererr.Transient("saturday.get_fee_token_balance", err)
		}
		amount, ok := math.NewIntFromString(bal.Value.Amount)
		if !ok || amount.IsZero() {
			continue
		}
		if err := k.recycler.RefreshVenues(ctx, fm.Mint); err != nil {
			return keepererr.Transient("saturday.refresh_venues", err)
		}
		instrs, _, err := k.recycler.BuildRecycleSwap(ctx, k.client, fm.Mint, amount, k.slippageBps,
			k.signer.PublicKey(), fm.PayerTokenAccount, k.accounts.WsolAccount)
		if err != nil {
			return keepererr.Transient("saturday.build_recycle_swap", err)
		}
		if err := k.submit(ctx, "recycle_"+fm.Mint, instrs...); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keeper) submit(ctx context.Context, label string, instrs ...solana.Instruction) error {
	outcome := k.exec.Submit(ctx, txexec.Intent{
		ID:           label,
		Instructions: instrs,
		Signers:      []solana.PrivateKey{k.signer},
	})
	if outcome.Err != nil {
		if outcome.Benign {
			return keepererr.Benign(label, outcome.Err)
		}
		return keepererr.Transient(label, outcome.Err)
	}
	return nil
}
