package app

import (
	"encoding/json"
	"net/http"
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeText   = "text/plain"
	ContentTypeHeader = "Content-Type"
)

// statusResponse is the JSON shape returned by /internal/status: proxy-wide
// counters, per-destination stats and the security chain's violation
// tallies, everything the control listener's dashboard reads to render its
// live view.
type statusResponse struct {
	Proxy       interface{}            `json:"proxy"`
	Destination map[string]interface{} `json:"destinations"`
	Security    interface{}            `json:"security"`
	Connections map[string]int64       `json:"connections"`
}

// healthHandler reports process liveness for the controller's probe and for
// operators polling the control listener directly.
func (a *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(ContentTypeHeader, ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// statusHandler reports the same counters the dashboard renders, as JSON,
// for scripting and for operators without a terminal.
func (a *Application) statusHandler(w http.ResponseWriter, r *http.Request) {
	proxyStats := a.statsCollector.GetProxyStats()
	endpointStats := a.statsCollector.GetEndpointStats()
	securityStats := a.statsCollector.GetSecurityStats()
	connectionStats := a.statsCollector.GetConnectionStats()

	destinations := make(map[string]interface{}, len(endpointStats))
	for key, stat := range endpointStats {
		destinations[key] = stat
	}

	response := statusResponse{
		Proxy:       proxyStats,
		Destination: destinations,
		Security:    securityStats,
		Connections: connectionStats,
	}

	w.Header().Set(ContentTypeHeader, ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
