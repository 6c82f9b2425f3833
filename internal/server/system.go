package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemStats returns host and database health for the ops panel.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"goroutines": runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_percent"] = vm.UsedPercent
		stats["memory_used_mb"] = vm.Used / 1024 / 1024
		stats["memory_total_mb"] = vm.Total / 1024 / 1024
	} else {
		s.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	if s.db != nil {
		if dbStats, err := s.db.GetStats(); err == nil {
			stats["database"] = map[string]interface{}{
				"size_bytes":     dbStats.SizeBytes,
				"wal_size_bytes": dbStats.WALSizeBytes,
				"page_count":     dbStats.PageCount,
				"page_size":      dbStats.PageSize,
				"freelist_count": dbStats.FreelistCount,
			}
		} else {
			s.log.Warn().Err(err).Msg("Failed to read database stats")
		}
	}

	if last := s.lastActivity(); last.Phase != "" {
		stats["last_activity"] = last
	}

	s.writeJSON(w, stats)
}
