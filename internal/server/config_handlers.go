package server

import (
	"net/http"
)

// ConfigResponse represents the public configuration sent to the frontend
type ConfigResponse struct {
	FailurePolicy   string `json:"failure_policy"`
	UpstreamTimeout int    `json:"upstream_timeout_seconds"`
	RunLog          bool   `json:"run_log"`
	MCP             bool   `json:"mcp"`
	PublicURL       string `json:"public_url,omitempty"`
}

// handleGetConfig returns public configuration settings for the frontend
func (ss *StoreServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	sf := ss.Storefront()
	resp := ConfigResponse{
		FailurePolicy:   sf.Policy(),
		UpstreamTimeout: int(sf.UpstreamTimeout().Seconds()),
		RunLog:          ss.db != nil,
		MCP:             ss.config.MCP.Enabled,
		PublicURL:       ss.ngrokService.PublicURL(),
	}

	w.Header().Set("Content-Type", "application/json")
	ss.respondJSON(w, resp)
}
