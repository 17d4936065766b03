package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/ledger"
	"github.com/pysugar/key-wallet-nexus/internal/vault"
)

// RegisterKeyHandler stores a new credential for the calling owner.
func RegisterKeyHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		var req struct {
			Secret   string          `json:"secret"`
			Tier     models.KeyTier  `json:"tier"`
			Metadata ledger.Metadata `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		view, err := l.Register(owner, req.Secret, req.Metadata, req.Tier)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

// ListKeysHandler returns the owner's credentials, optionally filtered.
func ListKeysHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		views := l.List(owner, ledger.Filters{
			Service: q.Get("service"),
			Tier:    models.KeyTier(q.Get("tier")),
			Status:  models.KeyStatus(q.Get("status")),
			Type:    models.ServiceType(q.Get("type")),
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"keys":  views,
			"count": len(views),
		})
	}
}

// GetKeyHandler returns one credential. A foreign or unknown id reads as
// not-found.
func GetKeyHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		view, err := l.Get(chi.URLParam(r, "id"), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// UpdateKeyHandler applies a partial update to a credential.
func UpdateKeyHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		var patch ledger.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		view, err := l.Update(chi.URLParam(r, "id"), owner, patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// DeleteKeyHandler removes a credential.
func DeleteKeyHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		deleted := l.Delete(chi.URLParam(r, "id"), owner)
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
	}
}

// GetKeyQuotaHandler reports a credential's remaining quota.
func GetKeyQuotaHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if _, err := l.Get(id, owner); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l.CheckQuota(id))
	}
}

// ValidateKeyHandler runs format validation on a secret without storing it.
func ValidateKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Secret string `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		writeJSON(w, http.StatusOK, vault.ValidateFormat(req.Secret))
	}
}
