// Package api serves the exchange over REST and WebSocket.
//
// Reads are answered from the live exchange state. Writes are signed
// transactions queued with the host and applied in the next block; their
// outcome is available as a receipt under /api/v1/txs/{hash}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/asset"
	"github.com/uhyunpark/tokenex/pkg/app/core/event"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/host"
)

const (
	maxTxBytes        = 64 << 10
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Config configures the HTTP listener
type Config struct {
	Addr        string
	CORSOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg    Config
	host   *host.Host
	ex     *exchange.Exchange
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(cfg Config, h *host.Host, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:    cfg,
		host:   h,
		ex:     h.Exchange(),
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	s.setupBroadcasts()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/assets/{asset}", s.handleGetAsset).Methods("GET")

	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	api.HandleFunc("/txs", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/txs/{hash}", s.handleGetTx).Methods("GET")

	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// setupBroadcasts forwards exchange events and committed blocks to WebSocket
// subscribers
func (s *Server) setupBroadcasts() {
	s.ex.Events().Subscribe(func(e event.Event) {
		msg := WSMessage{Type: "event", Data: e}
		s.hub.BroadcastToChannel(ChannelEvents, msg)
		for _, account := range eventAccounts(e) {
			s.hub.BroadcastToChannel(AccountChannel(account), msg)
		}
	})
	s.host.OnBlock(func(b host.BlockInfo) {
		s.hub.BroadcastToChannel(ChannelBlocks, WSMessage{Type: "block", Data: b})
	})
}

// eventAccounts lists the distinct accounts an event involves
func eventAccounts(e event.Event) []core.AccountID {
	var out []core.AccountID
	for _, a := range []core.AccountID{e.Account, e.Creator, e.Taker} {
		if a.IsZero() {
			continue
		}
		dup := false
		for _, seen := range out {
			dup = dup || seen == a
		}
		if !dup {
			out = append(out, a)
		}
	}
	return out
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Infow("api_stopped")
		return nil
	}
}

type ctxKey struct{}

// requestID tags every request with an id, echoed in X-Request-ID and in
// error bodies
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.host.Config()
	respondJSON(w, ConfigInfo{
		FeeAccount:       s.ex.FeeAccount().Hex(),
		FeePercent:       s.ex.FeePercent(),
		Custody:          cfg.Custody.Hex(),
		ChainID:          cfg.Domain.ChainID.String(),
		DomainName:       cfg.Domain.Name,
		DomainVersion:    cfg.Domain.Version,
		BlockTimeMs:      cfg.BlockTime.Milliseconds(),
		MaxBlockBytes:    cfg.MaxBlockBytes,
		NativeAsset:      core.Native.Hex(),
		RegisteredAssets: s.ex.Assets().Count(),
	})
}

func (s *Server) assetInfo(a *asset.Asset) AssetInfo {
	supply := s.ex.Supply(a.ID)
	return AssetInfo{
		ID:              a.ID.Hex(),
		Symbol:          a.Symbol,
		Name:            a.Name,
		Decimals:        a.Decimals,
		Native:          a.ID.IsNative(),
		Supply:          supply.Dec(),
		SupplyFormatted: formatUnits(supply, a.Decimals),
	}
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.ex.Assets().List()
	response := make([]AssetInfo, len(assets))
	for i, a := range assets {
		response[i] = s.assetInfo(a)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupAsset(w, r, mux.Vars(r)["asset"])
	if !ok {
		return
	}
	respondJSON(w, s.assetInfo(a))
}

func (s *Server) balanceInfo(a *asset.Asset, bal *uint256.Int) BalanceInfo {
	return BalanceInfo{
		Asset:     a.ID.Hex(),
		Symbol:    a.Symbol,
		Balance:   bal.Dec(),
		Formatted: formatUnits(bal, a.Decimals),
	}
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAccount(w, r)
	if !ok {
		return
	}

	entries := s.ex.Balances(account)
	balances := make([]BalanceInfo, 0, len(entries))
	for _, e := range entries {
		a, err := s.ex.Assets().Lookup(e.Asset)
		if err != nil {
			// balance in an asset that is no longer registered
			a = &asset.Asset{ID: e.Asset}
		}
		balances = append(balances, s.balanceInfo(a, e.Balance))
	}

	native, _ := s.ex.Assets().Lookup(core.Native)
	respondJSON(w, AccountBalances{
		Address:  account.Hex(),
		Balances: balances,
		Wallet:   s.balanceInfo(native, s.host.Vault().Wallet(account)),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAccount(w, r)
	if !ok {
		return
	}
	a, ok := s.lookupAsset(w, r, mux.Vars(r)["asset"])
	if !ok {
		return
	}
	respondJSON(w, s.balanceInfo(a, s.ex.BalanceOf(a.ID, account)))
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAccount(w, r)
	if !ok {
		return
	}
	respondJSON(w, NonceInfo{Address: account.Hex(), Nonce: s.host.Nonce(account)})
}

func orderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Creator:    o.Creator.Hex(),
		AssetGet:   o.AssetGet.Hex(),
		AmountGet:  o.AmountGet.Dec(),
		AssetGive:  o.AssetGive.Hex(),
		AmountGive: o.AmountGive.Dec(),
		Status:     o.Status.String(),
		Timestamp:  o.Timestamp,
	}
}

// handleGetOrders supports ?status=open|cancelled|filled, ?creator=0x... and ?limit=N
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f orderbook.Filter

	if v := q.Get("status"); v != "" {
		st, ok := orderbook.ParseStatus(v)
		if !ok {
			respondError(w, r, http.StatusBadRequest, "invalid status", v)
			return
		}
		f.Status = &st
	}
	if v := q.Get("creator"); v != "" {
		creator, err := core.ParseAccount(v)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid creator", err.Error())
			return
		}
		f.Creator = &creator
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid limit", v)
			return
		}
		f.Limit = n
	}

	orders := s.ex.Orders(f)
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.ex.Order(id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

// handleGetEvents pages through the event log: ?since=<seq>&limit=<n>
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since uint64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid since", err.Error())
			return
		}
		since = n
	}
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, r, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxEventLimit)
	}

	events := s.ex.Events().Since(since, limit)
	if events == nil {
		events = []event.Event{}
	}
	respondJSON(w, events)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, r, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	hash, err := s.host.Submit(body)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	s.log.Debugw("tx_accepted", "hash", hash.Hex(), "bytes", len(body), "request_id", requestIDFrom(r))
	respondJSON(w, SubmitTxResponse{Status: "submitted", Hash: hash})
}

func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := decodeHash(raw)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid hash", err.Error())
		return
	}
	hash := common.BytesToHash(b)

	receipt, err := s.host.Receipt(hash)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if receipt != nil {
		respondJSON(w, TxStatus{Hash: hash, Status: string(receipt.Status), Receipt: receipt})
		return
	}
	if s.host.Pending(hash) {
		respondJSON(w, TxStatus{Hash: hash, Status: "pending"})
		return
	}
	respondError(w, r, http.StatusNotFound, "transaction not found", hash.Hex())
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	head := s.host.Head()
	respondJSON(w, ChainStatus{
		Height:      head.Height,
		Time:        head.Time,
		StateHash:   head.StateHash,
		MempoolSize: s.host.MempoolSize(),
		Events:      s.ex.Events().Len(),
		Orders:      len(s.ex.Orders(orderbook.Filter{})),
	})
}

// ==============================
// Helper Functions
// ==============================

func parseAccount(w http.ResponseWriter, r *http.Request) (core.AccountID, bool) {
	account, err := core.ParseAccount(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid address", err.Error())
		return core.AccountID{}, false
	}
	return account, true
}

func (s *Server) lookupAsset(w http.ResponseWriter, r *http.Request, raw string) (*asset.Asset, bool) {
	id, err := core.ParseAsset(raw)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid asset", err.Error())
		return nil, false
	}
	a, err := s.ex.Assets().Lookup(id)
	if err != nil {
		respondErr(w, r, err)
		return nil, false
	}
	return a, true
}

func decodeHash(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != common.HashLength {
		return nil, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return b, nil
}

// formatUnits renders a base-unit amount with the asset's decimals,
// e.g. 1500000000000000000 with 18 decimals is "1.5"
func formatUnits(x *uint256.Int, decimals uint8) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -int32(decimals)).String()
}

// httpStatus maps domain errors to HTTP status codes
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, host.ErrInvalidTx):
		return http.StatusBadRequest, "invalid transaction"
	case errors.Is(err, host.ErrTxTooLarge):
		return http.StatusRequestEntityTooLarge, "transaction too large"
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, core.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, core.ErrInvalidAsset):
		return http.StatusNotFound, "asset not found"
	case errors.Is(err, host.ErrStaleNonce), errors.Is(err, host.ErrDuplicateTx):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrTransferFailed):
		return http.StatusBadGateway, "transfer failed"
	case exchange.IsRejection(err):
		return http.StatusUnprocessableEntity, "rejected"
	}
	return http.StatusInternalServerError, "internal error"
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, label := httpStatus(err)
	respondError(w, r, status, label, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: requestIDFrom(r),
	})
}
