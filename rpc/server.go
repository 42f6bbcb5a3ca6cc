package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zkusd/config"
	"zkusd/core/events"
	"zkusd/core/types"
	"zkusd/native/engine"
	"zkusd/native/oracle"
	"zkusd/native/token"
	"zkusd/observability/logging"
	"zkusd/observability/metrics"
	"zkusd/state"
)

// HeightSource yields the current logical block height used for oracle parity
// reads and settlement.
type HeightSource interface {
	Current() uint64
}

// Server exposes the protocol over HTTP. Each request runs against a fresh
// optimistic state transaction; commits that lose a concurrency race are
// re-executed by the store.
type Server struct {
	store      *state.Store
	engineAddr [20]byte
	heights    HeightSource
	logger     *slog.Logger
	metrics    *metrics.ProtocolMetrics
	limiter    *rateLimiter
}

func NewServer(store *state.Store, engineAddr [20]byte, heights HeightSource, logger *slog.Logger, rateCfg config.RateLimit) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      store,
		engineAddr: engineAddr,
		heights:    heights,
		logger:     logger,
		metrics:    metrics.Protocol(),
		limiter:    newRateLimiter(rateCfg),
	}
}

// modules wires the protocol engines onto a single transaction. The recorder
// collects events emitted during the transaction so they are only logged once
// the commit succeeds.
type modules struct {
	engine   *engine.Engine
	oracle   *oracle.Oracle
	token    *token.Ledger
	recorder *events.Recorder
}

func (s *Server) modules(txn *state.Txn) *modules {
	recorder := &events.Recorder{}

	feed := oracle.NewOracle()
	feed.SetState(txn)
	feed.SetEmitter(recorder)

	ledger := token.NewLedger()
	ledger.SetState(txn)

	eng := engine.NewEngine(s.engineAddr)
	eng.SetState(txn)
	eng.SetToken(ledger)
	eng.SetPriceSource(feed)
	eng.SetOracleControl(feed)
	eng.SetEmitter(recorder)
	eng.SetBlockHeight(s.heights.Current())

	ledger.SetAuthority(eng)

	return &modules{engine: eng, oracle: feed, token: ledger, recorder: recorder}
}

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(s.rateLimit)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/protocol", s.handleProtocolStatus)
		v1.Get("/price", s.handleGetPrice)
		v1.Get("/supply", s.handleSupply)
		v1.Get("/vaults/{address}", s.handleGetVault)

		v1.Post("/vaults", s.handleCreateVault)
		v1.Post("/vaults/{address}/deposit", s.handleDeposit)
		v1.Post("/vaults/{address}/redeem", s.handleRedeem)
		v1.Post("/vaults/{address}/mint", s.handleMint)
		v1.Post("/vaults/{address}/burn", s.handleBurn)
		v1.Post("/vaults/{address}/liquidate", s.handleLiquidate)
		v1.Post("/vaults/{address}/owner", s.handleUpdateOwner)

		v1.Post("/oracle/submit", s.handleSubmitPrice)
		v1.Post("/oracle/settle", s.handleSettle)

		v1.Post("/admin/emergency-stop", s.handleToggleEmergencyStop)
		v1.Post("/admin/admin", s.handleUpdateAdmin)
		v1.Post("/admin/oracle-fee", s.handleUpdateOracleFee)
		v1.Post("/admin/oracle-funds", s.handleDepositOracleFunds)
		v1.Post("/admin/whitelist", s.handleUpdateWhitelist)
		v1.Post("/admin/fallback-price", s.handleUpdateFallbackPrice)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// recorderRef carries the event recorder of the last transaction attempt out
// of the Update closure so events are logged only after a successful commit.
type recorderRef struct {
	recorder *events.Recorder
}

func (r *recorderRef) flush(s *Server) {
	if r == nil || r.recorder == nil {
		return
	}
	s.logEvents(r.recorder)
}

func (s *Server) logEvents(recorder *events.Recorder) {
	for _, evt := range recorder.Events {
		attrs := []any{"event", evt.EventType()}
		if detailed, ok := evt.(interface{ Event() *types.Event }); ok {
			structured := detailed.Event()
			for key, value := range structured.Attributes {
				attrs = append(attrs, logging.MaskField(key, value))
			}
		}
		s.logger.Info("protocol event", attrs...)
	}
}
