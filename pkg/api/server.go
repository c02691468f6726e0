// Package api serves a local, read-only view of the trading session: tracked
// orders, positions and account health. It never accepts order flow; the
// signed submission path stays inside the trader.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/nadotrader/pkg/tracker"
	"github.com/uhyunpark/nadotrader/pkg/trader"
)

type Server struct {
	trader *trader.Trader
	router *mux.Router
	log    *zap.Logger
	srv    *http.Server
}

func NewServer(t *trader.Trader, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		trader: t,
		router: mux.NewRouter(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{digest}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/account", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("status server starting", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	var productID *uint32
	if v := r.URL.Query().Get("product_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid product_id", err.Error())
			return
		}
		pid := uint32(n)
		productID = &pid
	}

	records := s.trader.GetOpenOrders(productID)
	response := make([]OrderInfo, len(records))
	for i, rec := range records {
		response[i] = orderInfo(rec)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	digestStr := mux.Vars(r)["digest"]
	if len(digestStr) != 2+64 {
		respondError(w, http.StatusBadRequest, "invalid digest", "")
		return
	}

	rec, ok := s.trader.GetOrder(common.HexToHash(digestStr))
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, orderInfo(rec))
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.trader.GetPositions(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "position query failed", err.Error())
		return
	}

	response := make([]PositionInfo, len(positions))
	for i, p := range positions {
		response[i] = PositionInfo{
			ProductID:     p.ProductID,
			Size:          p.Size.String(),
			EntryPrice:    p.EntryPrice.String(),
			UnrealizedPnL: p.UnrealizedPnl.String(),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	info, err := s.trader.GetAccountInfo(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "account query failed", err.Error())
		return
	}

	response := AccountResponse{
		Subaccount: info.Subaccount,
		Health:     info.Health.String(),
	}
	for _, b := range info.Balances {
		response.Balances = append(response.Balances, BalanceInfo{
			ProductID: b.ProductID,
			Amount:    b.Amount.String(),
		})
	}
	respondJSON(w, response)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{
		Subaccount: s.trader.Subaccount().Hex(),
		Products:   len(s.trader.Products()),
		OpenOrders: len(s.trader.GetOpenOrders(nil)),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func orderInfo(rec tracker.Record) OrderInfo {
	return OrderInfo{
		Digest:    rec.Digest.Hex(),
		ProductID: rec.ProductID,
		Side:      rec.Side.String(),
		PriceX18:  rec.PriceX18.String(),
		AmountX18: rec.AmountX18.String(),
		FilledX18: rec.FilledX18.String(),
		State:     rec.State.String(),
		Reason:    rec.Reason,
		Attempts:  rec.Attempts,
		Submitted: rec.SubmittedAt.UTC().Format(time.RFC3339),
		Updated:   rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
