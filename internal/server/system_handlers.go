package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/paperbull/engine/internal/database"
)

// SystemHandlers serves host and database health endpoints.
type SystemHandlers struct {
	log      zerolog.Logger
	marketDB *database.DB
	ledgerDB *database.DB
	cacheDB  *database.DB
}

// NewSystemHandlers creates system monitoring handlers.
func NewSystemHandlers(log zerolog.Logger, marketDB, ledgerDB, cacheDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:      log.With().Str("handler", "system").Logger(),
		marketDB: marketDB,
		ledgerDB: ledgerDB,
		cacheDB:  cacheDB,
	}
}

// HandleSystemHealth handles GET /api/system/health
// Returns CPU and memory usage plus per-database connectivity.
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.getSystemStats()

	databases := map[string]string{}
	for _, db := range []*database.DB{h.marketDB, h.ledgerDB, h.cacheDB} {
		if db == nil {
			continue
		}
		status := "ok"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := db.HealthCheck(ctx); err != nil {
			status = "error: " + err.Error()
		}
		cancel()
		databases[db.Name()] = status
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"cpu_percent": cpuPct,
			"mem_percent": memPct,
			"databases":   databases,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, response)
}

// HandleDatabaseStats handles GET /api/system/database/stats
// Returns file sizes and connection pool stats for each database.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	for _, db := range []*database.DB{h.marketDB, h.ledgerDB, h.cacheDB} {
		if db == nil {
			continue
		}
		poolStats := db.Conn().Stats()
		stats[db.Name()] = map[string]interface{}{
			"size_mb":          h.fileSizeMB(db.Path()),
			"open_connections": poolStats.OpenConnections,
			"in_use":           poolStats.InUse,
			"idle":             poolStats.Idle,
		}
	}

	response := map[string]interface{}{
		"data": stats,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, response)
}

// getSystemStats returns CPU and RAM usage percentages. The 100ms CPU
// sample keeps the endpoint fast enough for frequent polling.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) fileSizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / 1024 / 1024
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
