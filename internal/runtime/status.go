package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/drblury/servoflow/bus"
	"github.com/drblury/servoflow/internal/runtime/bridge"
	"github.com/drblury/servoflow/internal/runtime/jsoncodec"
	"github.com/drblury/servoflow/internal/runtime/logging"
)

// StatusReport is the body of GET /api/status.
type StatusReport struct {
	State     State         `json:"state"`
	Cycles    uint64        `json:"cycles"`
	StartedAt time.Time     `json:"started_at"`
	LastError string        `json:"last_error,omitempty"`
	Modules   int           `json:"modules"`
	Bridge    *bridge.Stats `json:"bridge,omitempty"`
	Resources ResourceUsage `json:"resources"`
}

// BusReport is the body of GET /api/bus.
type BusReport struct {
	Cycle uint64   `json:"cycle"`
	Bus   *bus.Bus `json:"bus"`
}

func (o *Orchestrator) registerStatusHandlers() {
	port := o.cfg.Status.Port
	o.servers.Handle(port, "/api/modules", o.withCORS(o.handleModules))
	o.servers.Handle(port, "/api/bus", o.withCORS(o.handleBus))
	o.servers.Handle(port, "/api/status", o.withCORS(o.handleStatus))
}

// StatusHandler serves the status API without binding a port.
func (o *Orchestrator) StatusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/modules", o.withCORS(o.handleModules))
	mux.Handle("/api/bus", o.withCORS(o.handleBus))
	mux.Handle("/api/status", o.withCORS(o.handleStatus))
	return mux
}

func (o *Orchestrator) handleModules(w http.ResponseWriter, _ *http.Request) {
	o.writeJSON(w, o.Modules())
}

func (o *Orchestrator) handleBus(w http.ResponseWriter, _ *http.Request) {
	cycle, snapshot := o.LastBus()
	o.writeJSON(w, BusReport{Cycle: cycle, Bus: snapshot})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	o.writeJSON(w, o.Status())
}

func (o *Orchestrator) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.EncodeLine(w, v); err != nil {
		o.logger.Error("Failed to encode status response", err, logging.LogFields{"component": "status"})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (o *Orchestrator) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if allowed := o.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet, http.MethodHead:
			next(w, r)
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when CORS headers must not be sent.
func (o *Orchestrator) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range o.cfg.Status.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
