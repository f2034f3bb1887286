package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"SynthPool/internal/collateral"
	"SynthPool/internal/engine"
	"SynthPool/internal/fees"
	"SynthPool/internal/ledger"
	"SynthPool/internal/observability"
)

// Server exposes the engine over HTTP. All mutating endpoints funnel
// into the single-writer engine; the HTTP layer does request parsing,
// decimal conversion and error mapping only.
type Server struct {
	engine     *engine.Engine
	collateral *collateral.StaticProvider // nil when collateral is external
	log        zerolog.Logger
	metrics    *observability.Metrics
	health     *observability.HealthChecker
}

func New(eng *engine.Engine, metrics *observability.Metrics, health *observability.HealthChecker) *Server {
	return &Server{
		engine:  eng,
		log:     observability.NewLogger("http"),
		metrics: metrics,
		health:  health,
	}
}

// WithCollateral enables the admin collateral endpoint backed by a
// static provider.
func (s *Server) WithCollateral(p *collateral.StaticProvider) *Server {
	s.collateral = p
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/issue", s.instrument("issue", s.handleIssue))
		r.Post("/burn", s.instrument("burn", s.handleBurn))
		r.Post("/burn-to-target", s.instrument("burn_to_target", s.handleBurnToTarget))
		r.Post("/exchange", s.instrument("exchange", s.handleExchange))
		r.Post("/exchange/atomic", s.instrument("exchange_atomic", s.handleAtomicExchange))
		r.Post("/settle", s.instrument("settle", s.handleSettle))

		r.Get("/accounts/{address}/debt", s.instrument("get_debt", s.handleGetDebt))
		r.Get("/accounts/{address}/collateralisation", s.instrument("get_cratio", s.handleGetCollateralisation))
		r.Get("/accounts/{address}/balance/{currency}", s.instrument("get_balance", s.handleGetBalance))
		r.Get("/accounts/{address}/queue/{currency}", s.instrument("get_queue", s.handleGetQueue))
		r.Get("/fees/{src}/{dest}", s.instrument("get_fee_rate", s.handleGetFeeRate))

		r.Route("/admin", func(r chi.Router) {
			r.Put("/fees/{currency}", s.instrument("update_fee_config", s.handleUpdateFeeConfig))
			r.Post("/breaker/{currency}/reset", s.instrument("reset_breaker", s.handleResetBreaker))
			r.Put("/settings", s.instrument("update_settings", s.handleUpdateSettings))
			r.Post("/migrate-debt", s.instrument("migrate_debt", s.handleMigrateDebt))
			r.Put("/collateral/{address}", s.instrument("set_collateral", s.handleSetCollateral))
		})
	})

	return r
}

// ============================================================
// Issuance
// ============================================================

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := ledger.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.Issue(account, amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		SharesMinted: formatAmount(res.SharesMinted),
		DebtRatio:    formatRate(res.DebtRatio),
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req burnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := ledger.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.Burn(account, amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, burnResult(res))
}

func (s *Server) handleBurnToTarget(w http.ResponseWriter, r *http.Request) {
	var req burnToTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := ledger.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.BurnToTarget(account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, burnResult(res))
}

func burnResult(res engine.BurnResult) burnResponse {
	return burnResponse{
		AmountBurned: formatAmount(res.AmountBurned),
		SharesBurned: formatAmount(res.SharesBurned),
		DebtRatio:    formatRate(res.DebtRatio),
	}
}

// ============================================================
// Exchange & settlement
// ============================================================

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	req, account, amount, ok := s.decodeExchange(w, r)
	if !ok {
		return
	}

	res, err := s.engine.Exchange(account, ledger.CurrencyKey(req.SrcAsset), amount, ledger.CurrencyKey(req.DestAsset))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeResult(res))
}

func (s *Server) handleAtomicExchange(w http.ResponseWriter, r *http.Request) {
	req, account, amount, ok := s.decodeExchange(w, r)
	if !ok {
		return
	}

	var minDest int64
	if req.MinDestAmount != "" {
		var err error
		minDest, err = parseAmount(req.MinDestAmount)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	res, err := s.engine.AtomicExchange(account, ledger.CurrencyKey(req.SrcAsset), amount, ledger.CurrencyKey(req.DestAsset), minDest)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeResult(res))
}

func (s *Server) decodeExchange(w http.ResponseWriter, r *http.Request) (exchangeRequest, ledger.Address, int64, bool) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, "", 0, false
	}

	account, err := ledger.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return req, "", 0, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return req, "", 0, false
	}
	if req.SrcAsset == "" || req.DestAsset == "" {
		writeError(w, "src_asset and dest_asset are required", http.StatusBadRequest)
		return req, "", 0, false
	}
	return req, account, amount, true
}

func exchangeResult(res engine.ExchangeResult) exchangeResponse {
	return exchangeResponse{
		Skipped:            res.Skipped,
		TrippedAsset:       string(res.TrippedAsset),
		DestAmountReceived: formatAmount(res.DestAmountReceived),
		Fee:                formatAmount(res.Fee),
		FeeRate:            formatRate(res.FeeRate),
	}
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := ledger.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Asset == "" {
		results, err := s.engine.SettleAll(account)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		total := settleResponse{ReclaimAmount: "0", RebateAmount: "0"}
		var reclaim, rebate int64
		for _, res := range results {
			total.EntriesDrained += res.EntriesDrained
			reclaim += res.ReclaimAmount
			rebate += res.RebateAmount
		}
		total.ReclaimAmount = formatAmount(reclaim)
		total.RebateAmount = formatAmount(rebate)
		writeJSON(w, http.StatusOK, total)
		return
	}

	res, err := s.engine.Settle(account, ledger.CurrencyKey(req.Asset))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{
		EntriesDrained: res.EntriesDrained,
		ReclaimAmount:  formatAmount(res.ReclaimAmount),
		RebateAmount:   formatAmount(res.RebateAmount),
	})
}

// ============================================================
// Queries
// ============================================================

func (s *Server) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	account, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	debt, err := s.engine.DebtBalanceOf(account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	maxIssuable, err := s.engine.MaxIssuable(account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, debtResponse{
		DebtBalance: formatAmount(debt),
		MaxIssuable: formatAmount(maxIssuable),
	})
}

func (s *Server) handleGetCollateralisation(w http.ResponseWriter, r *http.Request) {
	account, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ratio, err := s.engine.CollateralisationRatio(account)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collateralisationResponse{Ratio: formatRate(ratio)})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	currency, err := parseCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Currency: string(currency),
		Balance:  formatAmount(s.engine.SynthBalance(account, currency)),
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	account, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	currency, err := parseCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := s.engine.QueueEntries(account, currency)
	out := make([]queueEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, queueEntryResponse{
			SrcAsset:          string(e.SrcAsset),
			SrcAmount:         formatAmount(e.SrcAmount),
			DestAsset:         string(e.DestAsset),
			DestAmountAtTrade: formatAmount(e.DestAmountAtTrade),
			FeeRateAtTrade:    formatRate(e.FeeRateAtTrade),
			TimestampUs:       e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFeeRate(w http.ResponseWriter, r *http.Request) {
	src := chi.URLParam(r, "src")
	dest := chi.URLParam(r, "dest")

	rate, err := s.engine.FeeRateForExchange(ledger.CurrencyKey(src), ledger.CurrencyKey(dest))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feeRateResponse{
		SrcAsset:  src,
		DestAsset: dest,
		FeeRate:   formatRate(rate),
	})
}

// ============================================================
// Admin
// ============================================================

func (s *Server) handleUpdateFeeConfig(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")

	var req feeConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := feeConfigFromRequest(ledger.CurrencyKey(currency), req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := fees.ValidateConfig(cfg); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.UpdateFeeConfig(cfg); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")

	var req breakerResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	value, err := parseRate(req.Value)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.ResetBreaker(ledger.CurrencyKey(currency), value); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	settings, err := settingsFromRequest(req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := settings.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.UpdateSettings(settings); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleMigrateDebt(w http.ResponseWriter, r *http.Request) {
	migrator, err := ledger.ParseAddress(r.Header.Get("X-Migrator-Address"))
	if err != nil {
		writeError(w, "missing or invalid X-Migrator-Address header", http.StatusBadRequest)
		return
	}

	var req migrateDebtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	account, err := ledger.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	delta, err := parseSignedAmount(req.DeltaShares)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.MigrateDebtShares(migrator, account, delta); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, migrateDebtResponse{
		Account:     string(account),
		DeltaShares: formatAmount(delta),
	})
}

func (s *Server) handleSetCollateral(w http.ResponseWriter, r *http.Request) {
	if s.collateral == nil {
		writeError(w, "collateral is managed externally", http.StatusNotImplemented)
		return
	}

	account, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req collateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	value, err := parseSignedAmount(req.Value)
	if err != nil || value < 0 {
		writeError(w, "value must be a non-negative decimal", http.StatusBadRequest)
		return
	}
	category := collateral.Category(req.Category)
	if category == "" {
		category = collateral.CategoryStaked
	}

	s.collateral.SetBalance(account, category, value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ============================================================
// Plumbing
// ============================================================

// instrument wraps a handler with request counting and latency metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		if s.metrics != nil {
			s.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
			s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// writeEngineError maps engine sentinels onto HTTP statuses. Input
// shape problems are 400, state-dependent rejections are 409, oracle
// staleness is 503 since retrying later can succeed.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrZeroAmount),
		errors.Is(err, engine.ErrSameAsset),
		errors.Is(err, engine.ErrUnknownAsset):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidRate):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrTooVolatile),
		errors.Is(err, engine.ErrSlippageExceeded),
		errors.Is(err, engine.ErrVolumeLimitExceeded),
		errors.Is(err, engine.ErrVolatileAsset),
		errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrMaxQueueLengthReached),
		errors.Is(err, engine.ErrCannotSettleDuringWaitingPeriod),
		errors.Is(err, engine.ErrMinimumStakeTimeNotElapsed),
		errors.Is(err, engine.ErrNoDebtToBurn):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("unmapped engine error")
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}
