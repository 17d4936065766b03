package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/pysugar/key-wallet-nexus/internal/proxy"
)

// maxProxyBodySize caps inbound proxy request bodies at 5MB.
const maxProxyBodySize = 5 * 1024 * 1024

// ExecuteHandler routes a call through a wallet credential and relays the
// upstream response. Routing metadata rides back in X-API-Wallet-* headers so
// the upstream body can pass through untouched.
func ExecuteHandler(executor *proxy.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(w, r)
		if !ok {
			return
		}

		var req struct {
			Method   string            `json:"method"`
			Endpoint string            `json:"endpoint"`
			Service  string            `json:"service,omitempty"`
			Headers  map[string]string `json:"headers,omitempty"`
			Query    map[string]string `json:"query,omitempty"`
			Body     json.RawMessage   `json:"body,omitempty"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBodySize))
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Failed to read request body")
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Endpoint == "" {
			writeErrorMessage(w, http.StatusBadRequest, "endpoint is required")
			return
		}

		resp, err := executor.Execute(r.Context(), owner, proxy.Request{
			Method:      req.Method,
			Endpoint:    req.Endpoint,
			ServiceHint: req.Service,
			Headers:     req.Headers,
			Query:       req.Query,
			Body:        req.Body,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		log.Printf("📨 Proxied %s call for %s: key=%s tier=%s status=%d in %dms",
			resp.Service, owner, resp.KeyUsed, resp.Tier, resp.Status, resp.ResponseTime)

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("X-API-Wallet-Service", resp.Service)
		w.Header().Set("X-API-Wallet-Key", resp.KeyUsed)
		w.Header().Set("X-API-Wallet-Tier", string(resp.Tier))
		w.Header().Set("X-API-Wallet-Cost", fmt.Sprintf("%g", resp.Cost))
		w.Header().Set("X-API-Wallet-Response-Time", fmt.Sprintf("%dms", resp.ResponseTime))
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	}
}
