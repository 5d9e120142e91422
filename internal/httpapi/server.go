// Package httpapi exposes the read-only operator surface and the
// health endpoint, and mounts the OCPP WebSocket route.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"csms/internal/store"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Server struct {
	Store store.Gateway
	OCPP  http.Handler
	Log   *zap.SugaredLogger
}

func NewServer(gw store.Gateway, ocppHandler http.Handler, log *zap.SugaredLogger) *Server {
	return &Server{Store: gw, OCPP: ocppHandler, Log: log.With("component", "httpapi")}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/ocpp/*", s.OCPP.ServeHTTP)

	r.Get("/v1/charge-points/{chargePointId}", s.GetChargePoint)
	r.Get("/v1/charge-points/{chargePointId}/transactions", s.ListTransactions)
	r.Get("/v1/transactions/{transactionId}", s.GetTransaction)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Server) GetChargePoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chargePointId")
	cp, err := s.Store.GetChargePoint(r.Context(), id)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if cp == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"chargePointId":   cp.ChargePointId,
		"vendor":          cp.Vendor,
		"model":           cp.Model,
		"firmwareVersion": cp.FirmwareVersion,
		"serialNumber":    cp.SerialNumber,
		"status":          cp.Status,
		"lastSeenAt":      cp.LastSeenAt,
		"additionalInfo":  cp.AdditionalInfo,
		"createdAt":       cp.CreatedAt,
		"updatedAt":       cp.UpdatedAt,
	})
}

func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	cp := chi.URLParam(r, "chargePointId")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	items, err := s.Store.ListTransactionsByChargePoint(r.Context(), cp, limit)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, items)
}

func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "transactionId"), 10, 64)
	if err != nil {
		http.Error(w, "bad transaction id", http.StatusBadRequest)
		return
	}
	tx, err := s.Store.FindTransactionByID(r.Context(), id)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if tx == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, tx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
