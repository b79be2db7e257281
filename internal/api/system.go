package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/railhub/internal/state"
)

// SystemMetrics represents the complete system statistics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	State         StateMetrics   `json:"state"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains bus client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// StateMetrics contains state store statistics.
type StateMetrics struct {
	Total  int            `json:"total"`
	ByKind map[string]int `json:"by_kind"`
}

// handleSystem returns runtime and component statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		State: stateMetrics(s.store.Snapshot()),
	}

	if s.publisher != nil {
		metrics.MQTT = MQTTMetrics{Connected: s.publisher.IsConnected()}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func stateMetrics(snap state.Snapshot) StateMetrics {
	m := StateMetrics{Total: len(snap), ByKind: make(map[string]int)}
	for _, rec := range snap {
		m.ByKind[string(rec.Kind)]++
	}
	return m
}
