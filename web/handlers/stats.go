package handlers

import (
	"net/http"
	"time"

	"github.com/scrypster/storyforge/internal/registry"
)

// StatsHandler handles statistics endpoint requests.
type StatsHandler struct {
	reg     *registry.Registry
	hub     *Hub
	started time.Time
}

// NewStatsHandler creates a new StatsHandler instance.
func NewStatsHandler(reg *registry.Registry, hub *Hub) *StatsHandler {
	return &StatsHandler{reg: reg, hub: hub, started: time.Now()}
}

// GetStats handles GET /api/stats - registry occupancy and live sockets.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Registry:      map[string]int{},
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if h.reg != nil {
		resp.Registry = h.reg.Sizes()
	}
	if h.hub != nil {
		resp.Connections = h.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
