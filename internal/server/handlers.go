package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paperbull/engine/internal/domain"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultOrdersLimit  = 200
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// handleMarketStatus handles GET /api/market/status
func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	open := s.marketHours.IsOpen(now)
	window := s.marketHours.Window()

	data := map[string]interface{}{
		"open":         open,
		"open_hour":    window.OpenHour,
		"open_minute":  window.OpenMinute,
		"close_hour":   window.CloseHour,
		"close_minute": window.CloseMinute,
	}

	if !open {
		data["next_open"] = s.marketHours.NextOpen(now).Format(time.RFC3339)
	}
	if last := s.engine.LastTick(); !last.IsZero() {
		data["last_tick"] = last.Format(time.RFC3339)
	}

	s.writeEnvelope(w, http.StatusOK, data)
}

// companyView augments a company row with its derived last-tick change
// for API consumers.
type companyView struct {
	domain.Company
	ChangePct float64 `json:"change_pct"`
}

// handleListCompanies handles GET /api/companies
// Pass ?include_delisted=true to include delisted companies.
func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	includeDelisted := r.URL.Query().Get("include_delisted") == "true"

	var (
		list []domain.Company
		err  error
	)
	if includeDelisted {
		list, err = s.companies.ListAll(r.Context())
	} else {
		list, err = s.companies.ListActive(r.Context())
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list companies")
		http.Error(w, "Failed to list companies", http.StatusInternalServerError)
		return
	}

	views := make([]companyView, len(list))
	for i := range list {
		views[i] = companyView{Company: list[i], ChangePct: list[i].ChangePct()}
	}

	s.writeEnvelope(w, http.StatusOK, map[string]interface{}{
		"companies": views,
		"count":     len(views),
	})
}

// handleCompanyHistory handles GET /api/companies/{id}/history
func (s *Server) handleCompanyHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid company ID", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, perr := strconv.Atoi(raw)
		if perr != nil || parsed < 1 || parsed > maxHistoryLimit {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.history.ListRecent(r.Context(), id, limit)
	if err != nil {
		s.log.Error().Err(err).Int64("company_id", id).Msg("Failed to load price history")
		http.Error(w, "Failed to load price history", http.StatusInternalServerError)
		return
	}

	s.writeEnvelope(w, http.StatusOK, map[string]interface{}{
		"company_id": id,
		"records":    records,
		"count":      len(records),
	})
}

// handleListOrders handles GET /api/orders?status=pending
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch domain.OrderStatus(raw) {
		case domain.OrderStatusPending, domain.OrderStatusExecuted,
			domain.OrderStatusCancelled, domain.OrderStatusExpired:
			status = domain.OrderStatus(raw)
		default:
			http.Error(w, "Invalid order status", http.StatusBadRequest)
			return
		}
	}

	list, err := s.orders.ListByStatus(r.Context(), status, defaultOrdersLimit)
	if err != nil {
		s.log.Error().Err(err).Str("status", string(status)).Msg("Failed to list orders")
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}

	s.writeEnvelope(w, http.StatusOK, map[string]interface{}{
		"orders": list,
		"status": status,
		"count":  len(list),
	})
}

// handleTriggerTick handles POST /api/market/tick. Runs a market tick
// immediately, outside the cron schedule. The hours gate still applies.
func (s *Server) handleTriggerTick(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Msg("Manual market tick triggered")

	err := s.engine.RunMarketTick(r.Context())
	if errors.Is(err, domain.ErrConcurrencyViolation) {
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "skipped",
			"message": "A tick is already in progress",
		})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Manual market tick failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Market tick completed",
	})
}

// handleTriggerNewsTick handles POST /api/market/news-tick
func (s *Server) handleTriggerNewsTick(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Msg("Manual news tick triggered")

	if err := s.engine.RunNewsTick(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Manual news tick failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "News tick completed",
	})
}

// writeEnvelope wraps data in the standard {"data":..., "metadata":...}
// response shape.
func (s *Server) writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
