package handlers

import (
	"net/http"

	"github.com/pysugar/key-wallet-nexus/internal/db"
	"github.com/pysugar/key-wallet-nexus/internal/registry"
	"github.com/pysugar/key-wallet-nexus/internal/version"
	"gorm.io/gorm"
)

// ListServicesHandler returns the known service profiles.
func ListServicesHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles := reg.List()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"services": profiles,
			"count":    len(profiles),
		})
	}
}

// GetGatewayKeyHandler returns the current gateway API key.
func GetGatewayKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"apiKey": db.GetGatewayKey(database),
		})
	}
}

// RegenerateGatewayKeyHandler rotates the gateway API key.
func RegenerateGatewayKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"apiKey": db.RegenerateGatewayKey(database),
		})
	}
}

// VersionHandler reports build information.
func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version":   version.Version,
			"commit":    version.Commit,
			"buildTime": version.BuildTime,
		})
	}
}

// HealthHandler is the liveness probe.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	}
}
