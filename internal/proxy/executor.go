// Package proxy executes outbound calls on behalf of wallet owners: it picks
// a credential through the routing engine, injects the decrypted secret into
// the upstream request and settles quota and cost bookkeeping afterwards.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/key-wallet-nexus/internal/costs"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/errs"
	"github.com/pysugar/key-wallet-nexus/internal/ledger"
	"github.com/pysugar/key-wallet-nexus/internal/registry"
	"github.com/pysugar/key-wallet-nexus/internal/routing"
)

// upstreamTimeout bounds a single proxied call including all retries.
const upstreamTimeout = 30 * time.Second

// Request is a call to be executed against an upstream service with a
// wallet-managed credential.
type Request struct {
	Method      string            `json:"method"`
	Endpoint    string            `json:"endpoint"`
	Headers     map[string]string `json:"headers,omitempty"`
	Query       map[string]string `json:"query,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	ServiceHint string            `json:"service,omitempty"`
}

// Response carries the upstream result plus the routing outcome that
// produced it.
type Response struct {
	Status       int               `json:"status"`
	Body         []byte            `json:"-"`
	Headers      map[string]string `json:"headers,omitempty"`
	Service      string            `json:"service"`
	KeyUsed      string            `json:"keyUsed"`
	Tier         models.KeyTier    `json:"tier"`
	Cost         float64           `json:"cost"`
	ResponseTime int64             `json:"responseTimeMs"`
}

// Executor routes and executes proxied calls.
type Executor struct {
	engine  *routing.Engine
	ledger  *ledger.Ledger
	tracker *costs.Tracker
	client  *http.Client
}

// NewExecutor wires an executor over the routing engine, ledger and cost
// tracker.
func NewExecutor(e *routing.Engine, l *ledger.Ledger, t *costs.Tracker) *Executor {
	return &Executor{
		engine:  e,
		ledger:  l,
		tracker: t,
		client:  &http.Client{Timeout: upstreamTimeout},
	}
}

// Execute picks a credential for the request, calls the upstream service with
// the secret injected and records usage against the chosen key. Quota is
// reserved at admission and refunded if no upstream response was delivered.
// A non-2xx upstream response is not an error; it passes through verbatim.
func (x *Executor) Execute(ctx context.Context, owner string, req Request) (Response, error) {
	decision, err := x.engine.Select(owner, req.ServiceHint, req.Endpoint)
	if err != nil {
		return Response{}, err
	}

	secret, err := x.ledger.GetDecryptedSecret(decision.KeyID)
	if err != nil {
		x.ledger.Release(decision.KeyID, decision.QuotaCost)
		return Response{}, err
	}

	upstreamReq, err := x.buildUpstreamRequest(ctx, req, decision.Profile, secret)
	if err != nil {
		x.ledger.Release(decision.KeyID, decision.QuotaCost)
		return Response{}, err
	}

	start := time.Now()
	resp, attempts, err := x.doWithRetries(upstreamReq, decision.Profile, req.Body)
	if err != nil {
		x.ledger.Release(decision.KeyID, decision.QuotaCost)
		log.Printf("❌ Upstream call to %s failed after %d attempts: %v", decision.Service, attempts, err)
		return Response{}, &errs.UpstreamError{Service: decision.Service, Attempts: attempts, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// The upstream delivered a response; the reservation stands.
		body = nil
	}
	elapsed := time.Since(start).Milliseconds()

	x.ledger.Commit(decision.KeyID, decision.QuotaCost)
	x.tracker.Record(owner, decision.Service, 1, decision.EstimatedCost, decision.Tier == models.TierFree)

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		if shouldSkipResponseHeader(k) {
			continue
		}
		headers[k] = resp.Header.Get(k)
	}

	return Response{
		Status:       resp.StatusCode,
		Body:         body,
		Headers:      headers,
		Service:      decision.Service,
		KeyUsed:      decision.KeyID,
		Tier:         decision.Tier,
		Cost:         decision.EstimatedCost,
		ResponseTime: elapsed,
	}, nil
}

// buildUpstreamRequest resolves the target URL, clones query parameters and
// forwardable headers and injects the credential per the profile's auth
// method.
func (x *Executor) buildUpstreamRequest(ctx context.Context, req Request, profile registry.ServiceProfile, secret string) (*http.Request, error) {
	target, err := resolveTarget(profile.BaseURL, req.Endpoint)
	if err != nil {
		return nil, err
	}

	query := target.Query()
	for k, v := range req.Query {
		query.Set(k, v)
	}
	if profile.AuthMethod == registry.AuthQuery {
		query.Set(profile.AuthKey, secret)
	}
	target.RawQuery = query.Encode()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	for k, v := range req.Headers {
		if shouldSkipRequestHeader(http.CanonicalHeaderKey(k)) {
			continue
		}
		upstreamReq.Header.Set(k, v)
	}

	switch profile.AuthMethod {
	case registry.AuthHeader:
		upstreamReq.Header.Set(profile.AuthKey, secret)
	case registry.AuthBearer:
		upstreamReq.Header.Set("Authorization", "Bearer "+secret)
	case registry.AuthBasic:
		upstreamReq.SetBasicAuth(secret, "")
	}
	return upstreamReq, nil
}

// doWithRetries runs the request, retrying transport failures up to the
// profile's retry budget with linear backoff. A response with any status
// code, 2xx or not, ends the loop.
func (x *Executor) doWithRetries(req *http.Request, profile registry.ServiceProfile, body []byte) (*http.Response, int, error) {
	maxAttempts := 1 + profile.Retry.MaxRetries
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-req.Context().Done():
				return nil, attempt - 1, req.Context().Err()
			case <-time.After(profile.Retry.BackoffDuration() * time.Duration(attempt-1)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		resp, err := x.client.Do(req)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err
		log.Printf("⚠️ Upstream attempt %d/%d for %s failed: %v", attempt, maxAttempts, profile.Name, err)
	}
	return nil, maxAttempts, lastErr
}

// resolveTarget joins the endpoint onto the profile's base URL. An absolute
// endpoint must point at the profile's host: a service hint resolves the
// profile without looking at the endpoint, so without this check a caller
// could name one service and ship its secret to another host.
func resolveTarget(baseURL, endpoint string) (*url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if strings.Contains(endpoint, "://") {
		target, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
		if !strings.EqualFold(target.Host, base.Host) {
			return nil, &errs.ValidationError{Issues: []string{
				fmt.Sprintf("endpoint host %q does not match the service host %q", target.Host, base.Host),
			}}
		}
		return target, nil
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return base.ResolveReference(ref), nil
}

func shouldSkipRequestHeader(header string) bool {
	switch header {
	case "Authorization",
		"Host",
		"Accept-Encoding",
		"Connection",
		"Proxy-Connection",
		"Keep-Alive",
		"Transfer-Encoding",
		"Te",
		"Trailer",
		"Upgrade",
		"Proxy-Authenticate",
		"Proxy-Authorization":
		return true
	default:
		return false
	}
}

func shouldSkipResponseHeader(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection",
		"Proxy-Connection",
		"Keep-Alive",
		"Transfer-Encoding",
		"Te",
		"Trailer",
		"Upgrade",
		"Proxy-Authenticate",
		"Proxy-Authorization":
		return true
	default:
		return false
	}
}
