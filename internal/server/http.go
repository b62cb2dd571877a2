package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/game"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/observability"
	"QuantaCasino/internal/store"
	"QuantaCasino/internal/wallet"
	"QuantaCasino/internal/withdraw"
)

// Server is the HTTP API: account queries, bet placement, match play,
// tips, withdrawals, fairness verification and the live feed.
type Server struct {
	ledger      *ledger.Ledger
	fair        *fairness.Engine
	games       *game.Engine
	matches     *game.Matches
	withdrawals *withdraw.Processor
	store       store.Store
	houseAddr   string
	houseID     uuid.UUID
	feed        *Feed
	health      *observability.HealthChecker
	metrics     *observability.Metrics
	log         zerolog.Logger
}

type Deps struct {
	Ledger      *ledger.Ledger
	Fairness    *fairness.Engine
	Games       *game.Engine
	Matches     *game.Matches
	Withdrawals *withdraw.Processor
	Store       store.Store
	HouseAddr   string
	HouseID     uuid.UUID
	Feed        *Feed
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
}

func New(d Deps) *Server {
	return &Server{
		ledger:      d.Ledger,
		fair:        d.Fairness,
		games:       d.Games,
		matches:     d.Matches,
		withdrawals: d.Withdrawals,
		store:       d.Store,
		houseAddr:   d.HouseAddr,
		houseID:     d.HouseID,
		feed:        d.Feed,
		health:      d.Health,
		metrics:     d.Metrics,
		log:         observability.NewLogger("http"),
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.metrics.HTTPMiddleware)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", s.feed.HandleWS)

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/transactions", s.handleTransactions)
			r.Get("/client-seed", s.handleGetSeed)
			r.Put("/client-seed", s.handleSetSeed)
			r.Post("/rotate-seed", s.handleRotateSeed)
			r.Get("/deposit-address", s.handleDepositAddress)
			r.Post("/link-address", s.handleLinkAddress)
		})

		r.Post("/bets", s.handlePlaceBet)

		r.Post("/matches", s.handleCreateMatch)
		r.Get("/matches/{id}", s.handleGetMatch)
		r.Post("/matches/{id}/moves", s.handleMove)

		r.Post("/tips", s.handleTip)

		r.Post("/withdrawals", s.handleRequestWithdrawal)
		r.Get("/withdrawals/{id}", s.handleGetWithdrawal)

		r.Get("/rounds/{id}/verify", s.handleVerifyRound)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errStatus maps domain sentinels onto HTTP statuses. Unrecognized
// errors are internal: their text never reaches the client.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, game.ErrRoundNotFound),
		errors.Is(err, game.ErrMatchNotFound),
		errors.Is(err, withdraw.ErrWithdrawalNotFound),
		errors.Is(err, fairness.ErrSeedPairNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, ledger.ErrDuplicateOperation):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrMatchOver):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, game.ErrUnknownGame),
		errors.Is(err, game.ErrBetOutOfRange),
		errors.Is(err, game.ErrInvalidParams),
		errors.Is(err, game.ErrBadMove),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, withdraw.ErrAmountTooSmall),
		errors.Is(err, withdraw.ErrBadAmount),
		errors.Is(err, wallet.ErrInvalidAddress),
		errors.Is(err, fairness.ErrClientSeedInvalid):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	balance, err := s.ledger.Balance(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":     id,
		"balance_mqc": balance,
		"balance_qc":  float64(balance) / float64(ledger.MQCPerQC),
	})
}

type entryView struct {
	ID           uuid.UUID `json:"id"`
	Seq          int64     `json:"seq"`
	DeltaMQC     int64     `json:"delta_mqc"`
	Kind         string    `json:"kind"`
	Correlation  string    `json:"correlation"`
	BalanceAfter int64     `json:"balance_after_mqc"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	page, err := s.ledger.Entries(r.Context(), id, cursor, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]entryView, 0, len(page.Entries))
	for _, e := range page.Entries {
		views = append(views, entryView{
			ID:           e.ID,
			Seq:          e.Seq,
			DeltaMQC:     e.Delta,
			Kind:         e.Kind.String(),
			Correlation:  e.Correlation,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":     views,
		"next_cursor": page.NextCursor,
	})
}

func seedPairView(p *fairness.SeedPair) map[string]interface{} {
	v := map[string]interface{}{
		"seed_pair_id":     p.ID,
		"server_seed_hash": p.ServerSeedHash,
		"client_seed":      p.ClientSeed,
		"next_nonce":       p.NextNonce,
		"rounds":           p.Rounds,
		"active":           p.Active,
	}
	if p.Revealed() {
		v["server_seed"] = p.ServerSeed
		v["revealed_at"] = p.RevealedAt
	}
	return v
}

func (s *Server) handleGetSeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	pair, err := s.fair.Commit(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seedPairView(pair))
}

func (s *Server) handleSetSeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	var body struct {
		ClientSeed string `json:"client_seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	pair, err := s.fair.SetClientSeed(r.Context(), id, body.ClientSeed)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seedPairView(pair))
}

func (s *Server) handleRotateSeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	revealed, fresh, err := s.fair.Rotate(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"revealed": seedPairView(revealed),
		"active":   seedPairView(fresh),
	})
}

func (s *Server) handleDepositAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	linked, err := s.store.LinkedAddresses(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deposit_address":  s.houseAddr,
		"linked_addresses": linked,
	})
}

func (s *Server) handleLinkAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := wallet.DecodeAddress(body.Address); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if _, err := s.ledger.EnsureAccount(r.Context(), id, ledger.AccountUser); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.store.LinkAddress(r.Context(), body.Address, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": id,
		"address": body.Address,
	})
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account  uuid.UUID   `json:"account"`
		Game     string      `json:"game"`
		StakeMQC int64       `json:"stake_mqc"`
		Params   game.Params `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Account == uuid.Nil {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	if _, err := s.ledger.EnsureAccount(r.Context(), body.Account, ledger.AccountUser); err != nil {
		s.writeDomainError(w, err)
		return
	}
	result, err := s.games.PlaceBet(r.Context(), body.Account, game.Kind(body.Game), body.StakeMQC, body.Params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type matchView struct {
	ID         uuid.UUID `json:"id"`
	Challenger uuid.UUID `json:"challenger"`
	Opponent   uuid.UUID `json:"opponent"`
	StakeMQC   int64     `json:"stake_mqc"`
	Board      []string  `json:"board"`
	Next       uuid.UUID `json:"next,omitempty"`
	State      string    `json:"state"`
	Winner     uuid.UUID `json:"winner,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toMatchView(m *game.Match) matchView {
	return matchView{
		ID:         m.ID,
		Challenger: m.Challenger,
		Opponent:   m.Opponent,
		StakeMQC:   m.StakeMQC,
		Board:      m.Cells(),
		Next:       m.Next,
		State:      m.State.String(),
		Winner:     m.Winner,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Challenger uuid.UUID `json:"challenger"`
		Opponent   uuid.UUID `json:"opponent"`
		StakeMQC   int64     `json:"stake_mqc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Challenger == uuid.Nil || body.Opponent == uuid.Nil {
		writeError(w, "challenger and opponent are required", http.StatusBadRequest)
		return
	}
	if body.Challenger == body.Opponent {
		writeError(w, "cannot challenge yourself", http.StatusBadRequest)
		return
	}
	for _, id := range []uuid.UUID{body.Challenger, body.Opponent} {
		if _, err := s.ledger.EnsureAccount(r.Context(), id, ledger.AccountUser); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	match, err := s.matches.Create(r.Context(), body.Challenger, body.Opponent, body.StakeMQC)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatchView(match))
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid match id", http.StatusBadRequest)
		return
	}
	match, err := s.matches.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(match))
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid match id", http.StatusBadRequest)
		return
	}
	var body struct {
		Player uuid.UUID `json:"player"`
		Cell   int       `json:"cell"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	match, err := s.matches.Move(r.Context(), id, body.Player, body.Cell)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(match))
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From        uuid.UUID `json:"from"`
		To          uuid.UUID `json:"to"`
		AmountMQC   int64     `json:"amount_mqc"`
		Correlation string    `json:"correlation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.From == uuid.Nil || body.To == uuid.Nil {
		writeError(w, "from and to are required", http.StatusBadRequest)
		return
	}
	if body.From == body.To {
		writeError(w, "cannot tip yourself", http.StatusBadRequest)
		return
	}
	// Client-supplied correlation makes retries idempotent. Absent one,
	// every request is a fresh tip.
	if body.Correlation == "" {
		body.Correlation = uuid.NewString()
	}
	if _, err := s.ledger.EnsureAccount(r.Context(), body.To, ledger.AccountUser); err != nil {
		s.writeDomainError(w, err)
		return
	}
	debit, credit, err := s.ledger.Transfer(r.Context(), body.From, body.To, body.AmountMQC, ledger.KindTip, body.Correlation)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"correlation":        body.Correlation,
		"amount_mqc":         body.AmountMQC,
		"from_balance_after": debit.BalanceAfter,
		"to_balance_after":   credit.BalanceAfter,
	})
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account     uuid.UUID `json:"account"`
		Amount      string    `json:"amount"`
		AmountMQC   int64     `json:"amount_mqc"`
		Destination string    `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Account == uuid.Nil {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amountMQC := body.AmountMQC
	if body.Amount != "" {
		var err error
		amountMQC, err = withdraw.ParseAmount(body.Amount)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	pending, err := s.withdrawals.Request(r.Context(), body.Account, amountMQC, body.Destination)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pending)
}

func (s *Server) handleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid withdrawal id", http.StatusBadRequest)
		return
	}
	pending, err := s.withdrawals.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleVerifyRound(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}
	round, pair, err := s.games.VerifyRound(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := map[string]interface{}{
		"round_id":         round.ID,
		"game":             round.Game,
		"state":            round.State.String(),
		"stake_mqc":        round.StakeMQC,
		"payout_mqc":       round.PayoutMQC,
		"win":              round.Win,
		"push":             round.Push,
		"server_seed_hash": round.SeedHash,
		"client_seed":      round.ClientSeed,
		"nonce":            round.Nonce,
		"outcome":          round.Outcome,
		"detail":           round.Detail,
	}
	// The server seed only leaves the house after rotation retires the
	// pair; until then verifiers get the commitment hash alone.
	if pair != nil && pair.Revealed() {
		outcome, seedHash := fairness.Verify(pair.ServerSeed, round.ClientSeed, round.Nonce)
		resp["server_seed"] = pair.ServerSeed
		resp["recomputed_outcome"] = outcome
		resp["recomputed_hash"] = seedHash
		resp["verified"] = outcome == round.Outcome && seedHash == round.SeedHash
	}
	writeJSON(w, http.StatusOK, resp)
}
