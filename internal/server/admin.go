package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/limiter"
)

// limitUpdate is the wire shape for one class budget.
type limitUpdate struct {
	MaxRequests int `json:"maxRequests"`
	WindowMs    int `json:"windowMs"`
}

// ListLimits returns the live rate limit table.
func (s *Server) ListLimits(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]limitUpdate)
	for class, cfg := range s.registry.Snapshot() {
		out[class] = limitUpdate{
			MaxRequests: cfg.MaxRequests,
			WindowMs:    int(cfg.Window.Milliseconds()),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// ReloadLimits swaps budgets for the named classes at runtime. Unnamed
// classes keep their current values; in-flight windows are untouched and
// pick up the new budget on their next reset.
func (s *Server) ReloadLimits(w http.ResponseWriter, r *http.Request) {
	var req map[string]limitUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	updates := make(map[string]limiter.Config, len(req))
	for class, u := range req {
		if u.MaxRequests <= 0 || u.WindowMs <= 0 {
			http.Error(w, "maxRequests and windowMs must be positive", http.StatusBadRequest)
			return
		}
		if _, ok := s.registry.Get(class); !ok {
			http.Error(w, "unknown class: "+class, http.StatusBadRequest)
			return
		}
		updates[class] = limiter.Config{
			MaxRequests: u.MaxRequests,
			Window:      time.Duration(u.WindowMs) * time.Millisecond,
		}
	}
	s.registry.Update(updates)

	s.auditLog.LogSecurity(audit.SecurityEntry{
		Level:     audit.LevelInfo,
		Type:      "rate_limits_reloaded",
		IPAddress: audit.ClientIP(r),
		Details:   map[string]interface{}{"classes": len(updates)},
	})

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
