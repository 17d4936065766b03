// Package handlers wires the wallet's HTTP API: credential CRUD, the proxy
// call endpoint, analytics and discovery.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/pysugar/key-wallet-nexus/internal/errs"
)

// ownerFromRequest yields the authenticated owner identity. The gateway key
// authenticates the caller; X-Wallet-Owner scopes which wallet is operated on.
func ownerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get("X-Wallet-Owner")
	if owner == "" {
		writeErrorMessage(w, http.StatusUnauthorized, "X-Wallet-Owner header is required")
		return "", false
	}
	return owner, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{"message": message},
	})
}

// writeError maps the wallet error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr  *errs.ValidationError
		conflictErr    *errs.ConflictError
		unknownService *errs.UnknownServiceError
		quotaErr       *errs.QuotaExhaustedError
		unavailableErr *errs.CredentialUnavailableError
		upstreamErr    *errs.UpstreamError
		noDataErr      *errs.InsufficientDataError
	)
	switch {
	case errors.As(err, &validationErr):
		writeErrorMessage(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &conflictErr):
		writeErrorMessage(w, http.StatusConflict, conflictErr.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "credential not found")
	case errors.As(err, &unknownService):
		writeErrorMessage(w, http.StatusBadRequest, unknownService.Error())
	case errors.As(err, &quotaErr):
		writeErrorMessage(w, http.StatusTooManyRequests, quotaErr.Error())
	case errors.As(err, &unavailableErr):
		writeErrorMessage(w, http.StatusConflict, unavailableErr.Error())
	case errors.As(err, &upstreamErr):
		writeErrorMessage(w, http.StatusBadGateway, upstreamErr.Error())
	case errors.As(err, &noDataErr):
		writeErrorMessage(w, http.StatusNotFound, noDataErr.Error())
	default:
		log.Printf("❌ Unhandled error: %v", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
