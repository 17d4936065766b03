package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/discovery"
	"github.com/pysugar/key-wallet-nexus/internal/ledger"
	"github.com/pysugar/key-wallet-nexus/internal/registry"
)

// ScanHandler scans the environment for importable API keys. Responses carry
// masked values only.
func ScanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, discovery.Scan())
	}
}

// ImportHandler registers a discovered key. The client names the environment
// variable; the secret itself is re-read server-side so it never travels
// through the import request.
func ImportHandler(l *ledger.Ledger, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		var req struct {
			EnvVar string         `json:"envVar"`
			Tier   models.KeyTier `json:"tier"`
			Quota  float64        `json:"quota"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		service, secret, found := discovery.Resolve(req.EnvVar)
		if !found {
			writeErrorMessage(w, http.StatusNotFound, "no key found in that environment variable")
			return
		}

		meta := ledger.Metadata{Service: service, Quota: req.Quota}
		if profile, ok := reg.Lookup(service); ok {
			meta.Type = profile.Type
		}
		view, err := l.Register(owner, secret, meta, req.Tier)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}
