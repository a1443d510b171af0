// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"net/http"

	"github.com/go-chi/render"
)

// CheckHealth handles GET /health -- pings Postgres and, when configured, the
// Redis mail queue. Returns 200 if every configured dependency is healthy,
// 503 otherwise.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	postgresStatus := "ok"
	redisStatus := "disabled"

	if err := h.Store.CheckHealth(r.Context()); err != nil {
		logError(r, "postgres health check failed", "error", err)
		postgresStatus = "error"
	}
	if h.Queue != nil {
		redisStatus = "ok"
		if err := h.Queue.CheckHealth(r.Context()); err != nil {
			logError(r, "redis health check failed", "error", err)
			redisStatus = "error"
		}
	}

	if postgresStatus == "error" || redisStatus == "error" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, struct {
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}{postgresStatus, redisStatus})
}
