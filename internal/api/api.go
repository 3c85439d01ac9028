// Package api exposes the keeper's read-only public surface: a REST
// snapshot of pools, positions and pending harvests, and a websocket feed
// of the same domain events published internally on the event bus by the
// Saturday Keeper, the harvest executor loop, stream tracking and the
// crank. Every route is unauthenticated and read-only.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/binfarm/keeper/internal/addressbook"
	"github.com/binfarm/keeper/internal/codec"
	"github.com/binfarm/keeper/internal/eventbus"
	"github.com/binfarm/keeper/internal/keepererr"
	"github.com/binfarm/keeper/internal/registry"
	"github.com/binfarm/keeper/internal/scheduler"
)

// Server wires the registry, scheduler, bus and address book into an
// HTTP handler.
type Server struct {
	log    *zap.Logger
	reg    *registry.Registry
	sched  *scheduler.Scheduler
	bus    *eventbus.Bus
	book   *addressbook.Book
	router *mux.Router

	upgrader websocket.Upgrader
	started  time.Time

	statsMu         sync.Mutex
	streamConnected bool
	totalHarvests   int
}

// NewServer builds the API's mux.Router with every route wired.
func NewServer(log *zap.Logger, reg *registry.Registry, sched *scheduler.Scheduler, bus *eventbus.Bus, book *addressbook.Book) *Server {
	s := &Server{
		log:             log,
		reg:             reg,
		sched:           sched,
		bus:             bus,
		book:            book,
		started:         time.Now(),
		streamConnected: true,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	r := mux.NewRouter()
	r.HandleFunc("/api/pools/{address}", s.handlePool).Methods(http.MethodGet)
	r.HandleFunc("/api/user-bins", s.handleUserBins).Methods(http.MethodGet)
	r.HandleFunc("/api/pending-harvests", s.handlePendingHarvests).Methods(http.MethodGet)
	r.HandleFunc("/api/addressbook", s.handleAddressBook).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.router = r

	go s.trackBus()
	return s
}

// trackBus keeps streamConnected and totalHarvests current by shadowing
// the same event bus every websocket client reads from, rather than
// threading counters through every producer.
func (s *Server) trackBus() {
	_, ch, replay := s.bus.Subscribe()
	for _, evt := range replay {
		s.applyStatsEvent(evt)
	}
	for evt := range ch {
		s.applyStatsEvent(evt)
	}
}

func (s *Server) applyStatsEvent(evt eventbus.Event) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	switch evt.Type {
	case eventbus.EventStreamDropped:
		s.streamConnected = false
	case eventbus.EventStreamConnected:
		s.streamConnected = true
	case eventbus.EventHarvestConfirmed:
		s.totalHarvests++
	}
}

// Handler returns the http.Handler to mount, e.g. behind http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying mux.Router so callers (e.g. the crank
// subcommand) can mount additional routes alongside the standard set.
func (s *Server) Router() *mux.Router {
	return s.router
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: keepererr.ClassOf(err).String()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type poolResponse struct {
	Address  string `json:"address"`
	ActiveID int32  `json:"active_bin_id"`
	BinStep  uint16 `json:"bin_step"`
	Slot     uint64 `json:"slot"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	addrStr := mux.Vars(r)["address"]
	addr, err := solana.PublicKeyFromBase58(addrStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, keepererr.Benign("api.bad_address", err))
		return
	}
	snap := s.reg.Snapshot()
	pool, ok := snap.Pool(addr)
	if !ok {
		writeError(w, http.StatusNotFound, keepererr.Benign("api.pool_not_found", nil))
		return
	}
	writeJSON(w, poolResponse{Address: pool.Address.String(), ActiveID: pool.ActiveID, BinStep: pool.BinStep, Slot: pool.Slot})
}

// binAmount is one bin's unharvested-amount estimate within a user's
// position: the wrapper account carries only a position-level
// cumulative-harvested counter, not a per-bin ledger, so the outstanding
// balance is spread evenly across the position's bin range.
type binAmount struct {
	BinID  int32  `json:"binId"`
	Amount uint64 `json:"amount"`
}

type userBinsResponse struct {
	Position string      `json:"positionPDA"`
	Pool     string      `json:"lbPair"`
	Side     string      `json:"side"`
	Bins     []binAmount `json:"bins"`
}

func (s *Server) handleUserBins(w http.ResponseWriter, r *http.Request) {
	ownerStr := r.URL.Query().Get("owner")
	if ownerStr == "" {
		writeError(w, http.StatusBadRequest, keepererr.Benign("api.missing_owner", nil))
		return
	}
	owner, err := solana.PublicKeyFromBase58(ownerStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, keepererr.Benign("api.bad_address", err))
		return
	}

	var poolFilter solana.PublicKey
	filterByPool := false
	if poolStr := r.URL.Query().Get("pool"); poolStr != "" {
		poolFilter, err = solana.PublicKeyFromBase58(poolStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, keepererr.Benign("api.bad_address", err))
			return
		}
		filterByPool = true
	}

	snap := s.reg.Snapshot()
	out := []userBinsResponse{}
	for _, key := range snap.PositionsByOwner(owner) {
		entry, ok := snap.Position(key)
		if !ok {
			continue
		}
		if filterByPool && !entry.Position.Pool.Equals(poolFilter) {
			continue
		}
		out = append(out, userBinsResponse{
			Position: key.String(),
			Pool:     entry.Position.Pool.String(),
			Side:     entry.Position.Side.String(),
			Bins:     perBinAmounts(entry.Position),
		})
	}
	writeJSON(w, out)
}

func perBinAmounts(pos *codec.Position) []binAmount {
	width := pos.Width()
	if width <= 0 {
		return nil
	}
	var outstanding uint64
	if pos.InitialDeposit > pos.CumulativeHarvested {
		outstanding = pos.InitialDeposit - pos.CumulativeHarvested
	}
	per := outstanding / uint64(width)
	remainder := outstanding % uint64(width)

	bins := make([]binAmount, 0, width)
	for i := int32(0); i < width; i++ {
		amt := per
		if uint64(i) < remainder {
			amt++
		}
		bins = append(bins, binAmount{BinID: pos.MinBin + i, Amount: amt})
	}
	return bins
}

type pendingHarvestResponse struct {
	PositionPDA  string `json:"positionPDA"`
	LbPair       string `json:"lbPair"`
	Owner        string `json:"owner"`
	Side         string `json:"side"`
	SafeBinCount int    `json:"safeBinCount"`
	TotalBins    int    `json:"totalBins"`
}

func (s *Server) handlePendingHarvests(w http.ResponseWriter, r *http.Request) {
	snap := s.reg.Snapshot()
	out := []pendingHarvestResponse{}
	for key, entry := range snap.AllPositions() {
		pool, ok := snap.Pool(entry.Position.Pool)
		if !ok {
			continue
		}
		safe := entry.Position.SafeBinCount(pool.ActiveID)
		if safe == 0 {
			continue
		}
		if state, ok := s.sched.StateOf(key); ok && state == scheduler.StateInFlight {
			continue
		}
		out = append(out, pendingHarvestResponse{
			PositionPDA:  key.String(),
			LbPair:       entry.Position.Pool.String(),
			Owner:        entry.Position.Owner.String(),
			Side:         entry.Position.Side.String(),
			SafeBinCount: safe,
			TotalBins:    int(entry.Position.Width()),
		})
	}
	writeJSON(w, out)
}

type addressBookResponse struct {
	Active []addressbook.Entry `json:"active"`
	Recent []addressbook.Entry `json:"recent"`
}

func (s *Server) handleAddressBook(w http.ResponseWriter, r *http.Request) {
	walletStr := r.URL.Query().Get("wallet")
	if walletStr == "" {
		writeError(w, http.StatusBadRequest, keepererr.Benign("api.missing_wallet", nil))
		return
	}
	wallet, err := solana.PublicKeyFromBase58(walletStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, keepererr.Benign("api.bad_address", err))
		return
	}
	active, recent, err := s.book.Active(wallet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if active == nil {
		active = []addressbook.Entry{}
	}
	if recent == nil {
		recent = []addressbook.Entry{}
	}
	writeJSON(w, addressBookResponse{Active: active, Recent: recent})
}

type statsResponse struct {
	PositionCount   int    `json:"positionCount"`
	PoolCount       int    `json:"poolCount"`
	Subscribers     int    `json:"eventSubscribers"`
	StreamConnected bool   `json:"streamConnected"`
	TotalHarvests   int    `json:"totalHarvests"`
	UptimeSeconds   int64  `json:"uptimeSeconds"`
	ServerTimeUTC   string `json:"serverTimeUtc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	positions, pools := s.reg.Count()
	s.statsMu.Lock()
	connected, harvests := s.streamConnected, s.totalHarvests
	s.statsMu.Unlock()
	writeJSON(w, statsResponse{
		PositionCount:   positions,
		PoolCount:       pools,
		Subscribers:     s.bus.SubscriberCount(),
		StreamConnected: connected,
		TotalHarvests:   harvests,
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
		ServerTimeUTC:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, ch, replay := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	for _, evt := range replay {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
	for evt := range ch {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}
