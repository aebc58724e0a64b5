// Package gateway exposes the pool's deposit/withdraw command surface over
// HTTP. Amounts cross the wire as decimal strings.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sharepool/coordinator"
	"sharepool/observability"
)

const maxRequestBody = 1 << 16 // 64 KiB, requests are tiny JSON documents

// Pool is the coordinator surface the gateway depends on.
type Pool interface {
	Deposit(ctx context.Context, account string, amount *big.Int) (*coordinator.DepositReceipt, error)
	Withdraw(ctx context.Context, account string, shares *big.Int) (*coordinator.WithdrawReceipt, error)
	WithdrawAll(ctx context.Context, account string) (*coordinator.WithdrawReceipt, error)
	ShareOf(account string) *big.Int
	ValueOfShares(ctx context.Context, shares *big.Int) (*big.Int, error)
	Stats(ctx context.Context) (totalShares, underlying *big.Int, err error)
}

// Config carries the gateway knobs.
type Config struct {
	// AuthHeader and AuthSecret guard the mutating routes; an empty secret
	// disables authentication.
	AuthHeader string
	AuthSecret string
	// RatePerSecond bounds mutating request throughput; zero disables the
	// limiter.
	RatePerSecond float64
	RateBurst     int
	ServiceName   string
}

// Server is the HTTP front-end for the pool coordinator.
type Server struct {
	pool       Pool
	logger     *slog.Logger
	authHeader string
	authSecret string
	limiter    interface{ Allow() bool }
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	service    string
}

// NewServer constructs the gateway over the given pool coordinator.
func NewServer(pool Pool, logger *slog.Logger, cfg Config) *Server {
	if pool == nil {
		panic("gateway: pool required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	header := strings.TrimSpace(cfg.AuthHeader)
	if header == "" {
		header = "X-Auth-Secret"
	}
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "sharepool-gateway"
	}

	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sharepool",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed by the gateway.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sharepool",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	registry.MustRegister(requests, durations)
	// The coordinator series must come out of the same scrape endpoint.
	observability.PoolMetrics().Register(registry)

	var limiter interface{ Allow() bool }
	if l := newRateLimiter(cfg.RatePerSecond, cfg.RateBurst); l != nil {
		limiter = l
	}

	return &Server{
		pool:       pool,
		logger:     logger,
		authHeader: header,
		authSecret: strings.TrimSpace(cfg.AuthSecret),
		limiter:    limiter,
		registry:   registry,
		requests:   requests,
		durations:  durations,
		service:    service,
	}
}

// Handler assembles the route tree with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1/pool", func(pr chi.Router) {
		pr.Get("/", s.handleStats)
		pr.Get("/accounts/{account}", s.handleAccount)
		pr.Get("/value", s.handleValue)

		pr.Group(func(mr chi.Router) {
			mr.Use(s.requireAuth)
			mr.Use(s.rateLimit)
			mr.Post("/deposits", s.handleDeposit)
			mr.Post("/withdrawals", s.handleWithdraw)
			mr.Post("/withdrawals/all", s.handleWithdrawAll)
		})
	})

	return otelhttp.NewHandler(r, s.service)
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type depositResponse struct {
	Account       string `json:"account"`
	SharesMinted  string `json:"sharesMinted"`
	BalanceBefore string `json:"balanceBefore"`
	BalanceAfter  string `json:"balanceAfter"`
}

type withdrawRequest struct {
	Account string `json:"account"`
	Shares  string `json:"shares"`
}

type withdrawResponse struct {
	Account        string `json:"account"`
	SharesBurned   string `json:"sharesBurned"`
	AmountReleased string `json:"amountReleased"`
}

type accountResponse struct {
	Account string `json:"account"`
	Shares  string `json:"shares"`
	Value   string `json:"value"`
}

type valueResponse struct {
	Shares string `json:"shares"`
	Amount string `json:"amount"`
}

type statsResponse struct {
	TotalShares       string `json:"totalShares"`
	UnderlyingBalance string `json:"underlyingBalance"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: err.Error()}})
		return
	}
	amount, err := parseWireAmount(req.Amount, "amount")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: err.Error()}})
		return
	}
	receipt, err := s.pool.Deposit(r.Context(), req.Account, amount)
	if err != nil {
		s.logger.Warn("deposit rejected", "account", req.Account, "error", err,
			"requestId", RequestIDFromContext(r.Context()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		Account:       receipt.Account,
		SharesMinted:  receipt.SharesMinted.String(),
		BalanceBefore: receipt.BalanceBefore.String(),
		BalanceAfter:  receipt.BalanceAfter.String(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: err.Error()}})
		return
	}
	shares, err := parseWireAmount(req.Shares, "shares")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: err.Error()}})
		return
	}
	receipt, err := s.pool.Withdraw(r.Context(), req.Account, shares)
	if err != nil {
		s.logger.Warn("withdraw rejected", "account", req.Account, "error", err,
			"requestId", RequestIDFromContext(r.Context()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		Account:        receipt.Account,
		SharesBurned:   receipt.SharesBurned.String(),
		AmountReleased: receipt.Released.String(),
	})
}

func (s *Server) handleWithdrawAll(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: err.Error()}})
		return
	}
	receipt, err := s.pool.WithdrawAll(r.Context(), req.Account)
	if err != nil {
		s.logger.Warn("withdraw all rejected", "account", req.Account, "error", err,
			"requestId", RequestIDFromContext(r.Context()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		Account:        receipt.Account,
		SharesBurned:   receipt.SharesBurned.String(),
		AmountReleased: receipt.Released.String(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(chi.URLParam(r, "account"))
	if account == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "invalid_account", Message: "account identifier required"}})
		return
	}
	shares := s.pool.ShareOf(account)
	value, err := s.pool.ValueOfShares(r.Context(), shares)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Account: account,
		Shares:  shares.String(),
		Value:   value.String(),
	})
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	shares, err := parseWireAmount(r.URL.Query().Get("shares"), "shares")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "bad_request", Message: err.Error()}})
		return
	}
	amount, err := s.pool.ValueOfShares(r.Context(), shares)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Shares: shares.String(), Amount: amount.String()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totalShares, underlying, err := s.pool.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalShares:       totalShares.String(),
		UnderlyingBalance: underlying.String(),
	})
}

func decodeRequest(r *http.Request, into any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parseWireAmount(raw, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return value, nil
}
