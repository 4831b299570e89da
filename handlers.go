package main

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/queue"
	"ownrealm/pkg/store"
	"ownrealm/pkg/sweep"
	"ownrealm/pkg/travel"
	"ownrealm/pkg/types"
)

const defaultHistoryLimit = 50

// app wires the engine services to the HTTP surface and the game loop.
type app struct {
	cfg    ServerConfig
	store  *store.Store
	queue  *queue.Service
	travel *travel.Service
	sweep  *sweep.Service
	now    func() time.Time

	tick        atomic.Int64
	mapSnapshot atomic.Value // []byte

	ipLimiters map[string]*rate.Limiter
	ipLock     sync.Mutex
}

func newApp(st *store.Store, cfg ServerConfig, now func() time.Time) *app {
	return &app{
		cfg:        cfg,
		store:      st,
		queue:      queue.New(st, now, InfoLog),
		travel:     travel.New(st, now, cfg.TradeSpeed, InfoLog),
		sweep:      sweep.New(st, now, nil, InfoLog),
		now:        now,
		ipLimiters: make(map[string]*rate.Limiter),
	}
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/map", a.handleMap)

	// Settlements
	mux.HandleFunc("GET /api/settlements", a.handleListSettlements)
	mux.HandleFunc("GET /api/settlements/{id}", a.handleSettlement)
	mux.HandleFunc("GET /api/settlements/{id}/sync", a.handleSync)
	mux.HandleFunc("GET /api/settlements/{id}/resources", a.handleResources)
	mux.HandleFunc("GET /api/settlements/{id}/rates", a.handleRates)

	// Queues
	mux.HandleFunc("GET /api/settlements/{id}/queue", a.handleListQueue)
	mux.HandleFunc("POST /api/settlements/{id}/queue", a.handleEnqueue)
	mux.HandleFunc("DELETE /api/queue/{entryId}", a.handleCancel)

	// Travel & history
	mux.HandleFunc("POST /api/settlements/{id}/attack", a.handleAttack)
	mux.HandleFunc("GET /api/settlements/{id}/travel", a.handleTraveling)
	mux.HandleFunc("GET /api/settlements/{id}/battles", a.handleBattles)
	mux.HandleFunc("GET /api/settlements/{id}/trades", a.handleTrades)

	// Market
	mux.HandleFunc("GET /api/offers", a.handleListOffers)
	mux.HandleFunc("POST /api/offers", a.handleCreateOffer)
	mux.HandleFunc("POST /api/offers/{id}/accept", a.handleAcceptOffer)
	mux.HandleFunc("DELETE /api/offers/{id}", a.handleCancelOffer)

	mux.HandleFunc("POST /api/sweep", a.handleSweep)
	return mux
}

// handler wraps the routes in the middleware chain.
func (a *app) handler() http.Handler {
	var h http.Handler = a.routes()
	h = a.middlewareSecurity(h)
	h = middlewareCORS(h)
	return middlewareRequestID(h)
}

func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		WorldID:    a.store.WorldID(),
		ServerTime: a.now().UTC(),
		Tick:       a.tick.Load(),
		Stats:      stats,
	})
}

func (a *app) handleMap(w http.ResponseWriter, r *http.Request) {
	data := a.mapSnapshot.Load()
	w.Header().Set("Content-Type", "application/json")
	if data == nil {
		w.Write([]byte("[]"))
		return
	}
	w.Write(data.([]byte))
}

// --- Settlements ---

func (a *app) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListSettlements(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []types.Settlement{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *app) handleSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := a.store.Settlement(r.Context(), id, a.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSync returns everything the client predictor needs in one response.
func (a *app) handleSync(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.queue.CompleteDueFor(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	now := a.now()
	res, err := a.store.Resources(r.Context(), id, now)
	if err != nil {
		writeError(w, err)
		return
	}
	queues, err := a.queue.ListAll(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SyncSnapshot{ServerTime: now.UTC(), Resources: res, Queues: queues})
}

func (a *app) handleResources(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := a.store.Resources(r.Context(), id, a.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *app) handleRates(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := a.store.Resources(r.Context(), id, a.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Rates)
}

// --- Queues ---

func (a *app) handleListQueue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	typ := r.URL.Query().Get("type")
	if typ == "" {
		all, err := a.queue.ListAll(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, all)
		return
	}
	st, err := parseSubjectType(typ)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := a.queue.ListOpen(r.Context(), id, st)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []types.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseSubjectType(s string) (types.SubjectType, error) {
	for _, st := range types.AllSubjectTypes() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", core.Invalid("unknown subject type %q", s)
}

func (a *app) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	subject, err := game.ParseSubject(req.SubjectType, req.SubjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := a.queue.Admit(r.Context(), id, subject, req.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *app) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "entryId")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.queue.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Travel ---

func (a *app) handleAttack(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req attackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := a.travel.DispatchAttack(r.Context(), id, req.TargetID, req.Units)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *app) handleTraveling(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	orders, err := a.travel.ListTraveling(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []types.TravelOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func historyLimit(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 500 {
		return n
	}
	return defaultHistoryLimit
}

func (a *app) handleBattles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := a.store.ListBattles(r.Context(), id, historyLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []types.BattleRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *app) handleTrades(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := a.store.ListTrades(r.Context(), id, historyLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []types.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- Market ---

func (a *app) handleListOffers(w http.ResponseWriter, r *http.Request) {
	status := types.OfferStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = types.OfferOpen
	}
	if status == "all" {
		status = ""
	}
	offers, err := a.travel.ListOffers(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	if offers == nil {
		offers = []types.TradeOffer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

func (a *app) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	offer, err := a.travel.CreateOffer(r.Context(), req.SellerID, req.Resources, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (a *app) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req acceptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := a.travel.AcceptOffer(r.Context(), id, req.BuyerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *app) handleCancelOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.travel.CancelOffer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSweep runs the arrival sweep on demand, e.g. when a client sees an
// order's arrival time pass before the next tick.
func (a *app) handleSweep(w http.ResponseWriter, r *http.Request) {
	rep, err := a.sweep.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
