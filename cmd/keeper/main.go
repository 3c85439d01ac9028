// Command keeper runs the bin-farming keeper: the streaming monitor,
// harvest scheduler, transaction executor, event bus, public API and
// Saturday distribution pipeline, wired together from a single config
// file. Subcommands let an operator run the full service, fire the
// weekly pipeline once, or run only the permissionless crank surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/addressbook"
	"github.com/binfarm/keeper/internal/api"
	"github.com/binfarm/keeper/internal/codec"
	"github.com/binfarm/keeper/internal/config"
	"github.com/binfarm/keeper/internal/crank"
	"github.com/binfarm/keeper/internal/eventbus"
	"github.com/binfarm/keeper/internal/logging"
	"github.com/binfarm/keeper/internal/recycle"
	"github.com/binfarm/keeper/internal/registry"
	"github.com/binfarm/keeper/internal/saturday"
	"github.com/binfarm/keeper/internal/scheduler"
	"github.com/binfarm/keeper/internal/stream"
	"github.com/binfarm/keeper/internal/txexec"
	"github.com/binfarm/keeper/pkg/pool/meteora"
	"github.com/binfarm/keeper/pkg/protocol"
	"github.com/binfarm/keeper/pkg/sol"
)

var configFlag = &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the keeper config file"}

func main() {
	app := &cli.App{
		Name:  "keeper",
		Usage: "bin-farming keeper and relay",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{Name: "run", Usage: "run the full keeper service", Action: runCommand},
			{Name: "saturday", Usage: "run the weekly distribution pipeline once and exit", Action: saturdayCommand},
			{Name: "crank", Usage: "run only the permissionless crank HTTP surface", Action: crankCommand},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps bundles every component wired from config, shared by all three
// subcommands so each only adds what it specifically needs on top.
type deps struct {
	log      *zap.Logger
	cfg      *config.Config
	client   *sol.Client
	signer   solana.PrivateKey
	reg      *registry.Registry
	sched    *scheduler.Scheduler
	exec     *txexec.Executor
	bus      *eventbus.Bus
	book     *addressbook.Book
	recycler *recycle.Registry
	sat      *saturday.Keeper
	accounts saturday.Accounts
}

func buildDeps(c *cli.Context) (*deps, error) {
	cfg, err := config.Load(c.String("config"), nil)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeeperKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load keeper key: %w", err)
	}

	client, err := sol.NewClient(c.Context, cfg.RPCURL, cfg.JitoEndpoint, 20)
	if err != nil {
		return nil, fmt.Errorf("build solana client: %w", err)
	}

	program := solana.MustPublicKeyFromBase58(cfg.CoreProgram)
	distProgram := solana.MustPublicKeyFromBase58(cfg.DistributionProgram)

	reg := registry.New(logging.Component(log, "registry"), func(ctx context.Context, pool solana.PublicKey) (*registry.PoolState, error) {
		resp, err := client.GetAccountInfoWithOpts(ctx, pool)
		if err != nil {
			return nil, err
		}
		return &registry.PoolState{Address: pool, RawData: resp.Value.Data.GetBinary()}, nil
	})

	sched := scheduler.New(logging.Component(log, "scheduler"), reg,
		uint64(cfg.DebounceSlots), uint64(cfg.CooldownSlots), cfg.MaxRetries, cfg.GlobalInflight, cfg.PerPoolInflight)

	exec := txexec.New(logging.Component(log, "executor"), client, cfg.MaxRetries, cfg.ConfirmTimeout())
	if cfg.JitoEndpoint != "" {
		exec = exec.WithJito(cfg.JitoTipLamports)
	}
	bus := eventbus.New(logging.Component(log, "eventbus"), cfg.EventBufferSize)

	book, err := addressbook.Open(logging.Component(log, "addressbook"), cfg.AddressBookPath, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("open address book: %w", err)
	}

	recycler := recycle.NewRegistry(logging.Component(log, "recycle"),
		protocol.NewRaydiumAmm(client),
		protocol.NewRaydiumClmm(client),
		protocol.NewRaydiumCpmm(client),
		protocol.NewPumpAmm(client),
		protocol.NewMeteoraDlmm(client),
	)

	roverAuthority, _, err := codec.DeriveRoverAuthorityPDA(program)
	if err != nil {
		return nil, fmt.Errorf("derive rover authority: %w", err)
	}
	monkeState, _, err := codec.DeriveMonkeStatePDA(program)
	if err != nil {
		return nil, fmt.Errorf("derive monke state: %w", err)
	}
	distPool, _, err := codec.DeriveDistPoolPDA(distProgram)
	if err != nil {
		return nil, fmt.Errorf("derive dist pool: %w", err)
	}
	programVault, _, err := codec.DeriveProgramVaultPDA(distProgram)
	if err != nil {
		return nil, fmt.Errorf("derive program vault: %w", err)
	}

	accounts := saturday.Accounts{
		Program:             program,
		DistributionProgram: distProgram,
		DLMMProgram:         meteora.MeteoraProgramID,
		RoverAuthority:      roverAuthority,
		RoverAccount:        signer.PublicKey(),
		RevenueDestination:  signer.PublicKey(),
		KeeperAccount:       signer.PublicKey(),
		DistPool:            distPool,
		ProgramVault:        programVault,
		MonkeState:          monkeState,
		SystemProgram:       solana.SystemProgramID,
		TokenProgram:        solana.TokenProgramID,
	}

	feeMints := func() []saturday.FeeRoverMint { return nil }

	sat := saturday.New(logging.Component(log, "saturday"), client, exec, recycler, reg, book, bus, signer, accounts, cfg.RecycleSlipBps, feeMints)

	return &deps{
		log: log, cfg: cfg, client: client, signer: signer, reg: reg, sched: sched,
		exec: exec, bus: bus, book: book, recycler: recycler, sat: sat, accounts: accounts,
	}, nil
}

func runCommand(c *cli.Context) error {
	d, err := buildDeps(c)
	if err != nil {
		return err
	}
	defer d.book.Close()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	programs := []solana.PublicKey{solana.MustPublicKeyFromBase58(d.cfg.CoreProgram)}
	changes := make(chan stream.Change, 1024)
	ingest := stream.New(d.log, d.cfg.StreamURL, programs, func() []solana.PublicKey { return nil }, changes)

	go func() {
		if err := ingest.Run(ctx); err != nil {
			d.log.Warn("stream ingest stopped", zap.Error(err))
		}
	}()

	go consumeChanges(ctx, d, changes)

	if err := d.sat.Schedule(ctx, d.cfg.SaturdayHourUTC); err != nil {
		return fmt.Errorf("schedule saturday pipeline: %w", err)
	}
	defer d.sat.Stop()

	srv := api.NewServer(d.log, d.reg, d.sched, d.bus, d.book)
	httpServer := &http.Server{Addr: d.cfg.HTTPAddr, Handler: srv.Handler()}
	go func() {
		d.log.Info("public api listening", zap.String("addr", d.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("api server stopped", zap.Error(err))
		}
	}()

	go executorLoop(ctx, d)

	<-ctx.Done()
	d.log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.ConfirmTimeout())
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// consumeChanges applies stream changes to the registry and ticks the
// scheduler whenever a pool's state changes. It also tracks stream
// connectivity on the event bus (so the public API can report it) and
// keeps the address book current on every observed position change.
func consumeChanges(ctx context.Context, d *deps, changes <-chan stream.Change) {
	dropped := false
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if ch.Kind == stream.KindStreamDropped {
				d.sched.Pause()
				if !dropped {
					dropped = true
					d.bus.Publish(eventbus.Event{Type: eventbus.EventStreamDropped})
				}
				continue
			}
			if dropped {
				dropped = false
				d.bus.Publish(eventbus.Event{Type: eventbus.EventStreamConnected})
			}
			switch ch.Kind {
			case stream.KindPosition:
				if err := d.reg.UpsertPosition(ch.Account, ch.Data, ch.Slot); err != nil {
					d.log.Warn("failed to apply position update", zap.Error(err))
					continue
				}
				observePositionChange(d, ch.Account)
			case stream.KindPool:
				if len(ch.Data) != codec.PoolAccountSize {
					d.log.Warn("failed to apply pool update", zap.Error(codec.DecodeFailed("pool", codec.PoolAccountSize, len(ch.Data))))
					continue
				}
				raw := ch.Data
				activeID := int32(uint32(raw[76]) | uint32(raw[77])<<8 | uint32(raw[78])<<16 | uint32(raw[79])<<24)
				binStep := uint16(raw[80]) | uint16(raw[81])<<8
				d.reg.UpsertPool(ch.Account, activeID, binStep, raw, ch.Slot)
				d.sched.Tick(ch.Slot)
			}
		}
	}
}

// observePositionChange updates the address book per spec's "on each
// observed positionChanged" rule: the owner's current open-position
// count in that pool, re-derived from the registry rather than tracked
// incrementally so a missed delete still self-corrects on the next change.
func observePositionChange(d *deps, key solana.PublicKey) {
	snap := d.reg.Snapshot()
	entry, ok := snap.Position(key)
	if !ok {
		return
	}
	owner, pool := entry.Position.Owner, entry.Position.Pool
	openCount := 0
	for _, k := range snap.PositionsByOwner(owner) {
		if other, ok := snap.Position(k); ok && other.Position.Pool.Equals(pool) {
			openCount++
		}
	}
	if err := d.book.Observe(owner, pool, openCount, "", time.Now()); err != nil {
		d.log.Warn("failed to update address book", zap.Error(err))
	}
}

// executorLoop drains the scheduler's emitted intents and submits them,
// reporting outcomes back so positions leave the in-flight state.
func executorLoop(ctx context.Context, d *deps) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-d.sched.Intents():
			if !ok {
				return
			}
			pos, found := d.reg.Snapshot().Position(intent.Position)
			if !found {
				continue
			}
			ix, err := codec.BuildHarvestBins(solana.MustPublicKeyFromBase58(d.cfg.CoreProgram), codec.HarvestBinsAccounts{
				Position:          intent.Position,
				Pool:              intent.Pool,
				LiquidityPosition: pos.Position.LiquidityPosition,
				Owner:             pos.Position.Owner,
				Caller:            d.signer.PublicKey(),
			}, codec.HarvestBinsArgs{BinIDs: intent.Bins})
			if err != nil {
				d.log.Error("failed to build harvest instruction", zap.Error(err))
				d.sched.Complete(scheduler.Outcome{IntentID: intent.ID, Position: intent.Position, Pool: intent.Pool, Success: false}, 0)
				continue
			}
			outcome := d.exec.Submit(ctx, txexec.Intent{ID: intent.ID, Instructions: []solana.Instruction{ix}, Signers: []solana.PrivateKey{d.signer}})
			evtType := eventbus.EventHarvestConfirmed
			if !outcome.Success {
				evtType = eventbus.EventHarvestFailed
			}
			d.bus.Publish(eventbus.Event{Type: evtType, Payload: outcome})
			d.sched.Complete(scheduler.Outcome{
				IntentID: intent.ID, Position: intent.Position, Pool: intent.Pool,
				Success: outcome.Success, Benign: outcome.Benign,
			}, 0)
		}
	}
}

func saturdayCommand(c *cli.Context) error {
	d, err := buildDeps(c)
	if err != nil {
		return err
	}
	defer d.book.Close()
	return d.sat.Run(c.Context)
}

func crankCaller(r *http.Request) (solana.PublicKey, error) {
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		return solana.PublicKey{}, fmt.Errorf("missing caller query parameter")
	}
	return solana.PublicKeyFromBase58(caller)
}

// crankBuildHandler replies with an unsigned, base64-encoded transaction
// naming caller as fee payer; the caller signs it themselves and posts it
// back to crankSubmitHandler.
func crankBuildHandler(build func(ctx context.Context, caller solana.PublicKey, r *http.Request) (*solana.Transaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := crankCaller(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tx, err := build(r.Context(), caller, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		encoded, err := tx.ToBase64()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"transaction": encoded})
	}
}

// crankSubmitHandler decodes a caller-signed transaction from the request
// body and relays it through the crank, which never signs on the
// caller's behalf.
func crankSubmitHandler(ck *crank.Crank, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := crankCaller(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tx, err := solana.TransactionFromBase64(string(body))
		if err != nil {
			http.Error(w, fmt.Sprintf("decode transaction: %v", err), http.StatusBadRequest)
			return
		}
		outcome, err := ck.SubmitSigned(r.Context(), caller, action, tx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if outcome.Err != nil {
			http.Error(w, outcome.Err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"signature": outcome.Signature, "benign": outcome.Benign})
	}
}

func crankCommand(c *cli.Context) error {
	d, err := buildDeps(c)
	if err != nil {
		return err
	}
	defer d.book.Close()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ck := crank.New(d.log, d.client, d.exec, d.reg, d.sched, d.bus, d.accounts)

	srv := api.NewServer(d.log, d.reg, d.sched, d.bus, d.book)
	srv.Router().HandleFunc("/crank/distribute", crankBuildHandler(
		func(ctx context.Context, caller solana.PublicKey, r *http.Request) (*solana.Transaction, error) {
			return ck.BuildDistributionTrigger(ctx, caller)
		},
	)).Methods(http.MethodGet)
	srv.Router().HandleFunc("/crank/distribute", crankSubmitHandler(ck, "trigger_distribution")).Methods(http.MethodPost)

	srv.Router().HandleFunc("/crank/harvest", crankBuildHandler(
		func(ctx context.Context, caller solana.PublicKey, r *http.Request) (*solana.Transaction, error) {
			position, err := solana.PublicKeyFromBase58(r.URL.Query().Get("position"))
			if err != nil {
				return nil, fmt.Errorf("bad position query parameter: %w", err)
			}
			return ck.BuildOpportunisticHarvest(ctx, caller, position)
		},
	)).Methods(http.MethodGet)
	srv.Router().HandleFunc("/crank/harvest", crankSubmitHandler(ck, "opportunistic_harvest")).Methods(http.MethodPost)

	httpServer := &http.Server{Addr: d.cfg.HTTPAddr, Handler: srv.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Error("crank api server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.ConfirmTimeout())
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
