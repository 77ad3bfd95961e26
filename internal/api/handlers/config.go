package handlers

import (
	"net/http"

	"github.com/frazar/scandex/internal/config"
)

// ConfigHandler exposes the effective configuration.
type ConfigHandler struct {
	Cfg *config.Config
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cfg)
}
