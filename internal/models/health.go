package models

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status     string         `json:"status"`
	Database   string         `json:"database"`
	Timestamp  string         `json:"timestamp"`
	PoolStatus map[string]any `json:"pool_status,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Healthy reports whether the backend and its database are reachable.
func (h *HealthResponse) Healthy() bool {
	return h.Status == "healthy"
}
