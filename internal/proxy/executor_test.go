package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/key-wallet-nexus/internal/costs"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/errs"
	"github.com/pysugar/key-wallet-nexus/internal/ledger"
	"github.com/pysugar/key-wallet-nexus/internal/registry"
	"github.com/pysugar/key-wallet-nexus/internal/routing"
	"github.com/pysugar/key-wallet-nexus/internal/vault"
	"gorm.io/gorm"
)

type fixture struct {
	executor *Executor
	ledger   *ledger.Ledger
	tracker  *costs.Tracker
	registry *registry.Registry
	vault    *vault.Vault
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(&models.Credential{}, &models.CostRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	v, err := vault.New("executor-test-master-key")
	if err != nil {
		t.Fatalf("failed to build vault: %v", err)
	}

	l := ledger.New(database, v)
	r := registry.New()
	tr := costs.NewTracker(database)
	return &fixture{
		executor: NewExecutor(routing.New(l, r), l, tr),
		ledger:   l,
		tracker:  tr,
		registry: r,
		vault:    v,
		db:       database,
	}
}

// addService points a profile at a test server so calls stay local.
func (f *fixture) addService(name string, serviceType models.ServiceType, baseURL string, method registry.AuthMethod, authKey string, paidCost float64, retries int) {
	f.registry.Add(registry.ServiceProfile{
		Name:       name,
		Type:       serviceType,
		BaseURL:    baseURL,
		AuthMethod: method,
		AuthKey:    authKey,
		Pricing: map[models.KeyTier]float64{
			models.TierFree: 0, models.TierPaid: paidCost,
		},
		Retry: registry.RetryPolicy{MaxRetries: retries, BackoffMs: 1},
	})
}

func (f *fixture) register(t *testing.T, owner, secret, service string, tier models.KeyTier, quota float64) models.CredentialView {
	t.Helper()
	view, err := f.ledger.Register(owner, secret, ledger.Metadata{Service: service, Quota: quota}, tier)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return view
}

func TestExecute_InjectsQueryAuth(t *testing.T) {
	f := newFixture(t)
	var gotKey, gotClientAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("appid")
		gotClientAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"weather":"clear"}`))
	}))
	defer srv.Close()

	f.addService("weatherlocal", models.ServiceWeather, srv.URL, registry.AuthQuery, "appid", 0.001, 0)
	f.register(t, "user-1", "ow_secret_1234567890123456789012", "weatherlocal", models.TierFree, 1000)

	resp, err := f.executor.Execute(context.Background(), "user-1", Request{
		Method:      http.MethodGet,
		Endpoint:    "/data/2.5/weather",
		Query:       map[string]string{"q": "London"},
		Headers:     map[string]string{"Authorization": "Bearer client-token"},
		ServiceHint: "weatherlocal",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if gotKey != "ow_secret_1234567890123456789012" {
		t.Fatalf("expected secret in query param, got %q", gotKey)
	}
	// The caller's own Authorization header must never reach the upstream.
	if gotClientAuth != "" {
		t.Fatalf("client Authorization header leaked upstream: %q", gotClientAuth)
	}
	if string(resp.Body) != `{"weather":"clear"}` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
}

func TestExecute_InjectsBearerAuth(t *testing.T) {
	f := newFixture(t)
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("paylocal", models.ServicePayment, srv.URL, registry.AuthBearer, "Authorization", 0.005, 0)
	f.register(t, "user-1", "sk_test_1234567890123456789012345678", "paylocal", models.TierPaid, 10000)

	_, err := f.executor.Execute(context.Background(), "user-1", Request{
		Method:      http.MethodPost,
		Endpoint:    "/v1/charges",
		ServiceHint: "paylocal",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotAuth != "Bearer sk_test_1234567890123456789012345678" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
}

func TestExecute_InjectsHeaderAuth(t *testing.T) {
	f := newFixture(t)
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("headerlocal", models.ServiceOther, srv.URL, registry.AuthHeader, "X-Api-Key", 0.001, 0)
	f.register(t, "user-1", "hdr_secret_123456789012345678901", "headerlocal", models.TierFree, 1000)

	if _, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/v1/things",
		ServiceHint: "headerlocal",
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotHeader != "hdr_secret_123456789012345678901" {
		t.Fatalf("unexpected auth header: %q", gotHeader)
	}
}

func TestExecute_RejectsForeignHostEndpoint(t *testing.T) {
	f := newFixture(t)
	foreignHits := 0
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits++
		w.Write([]byte("{}"))
	}))
	defer foreign.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("paylocal", models.ServicePayment, srv.URL, registry.AuthBearer, "Authorization", 0.005, 0)
	cred := f.register(t, "user-1", "sk_test_1234567890123456789012345678", "paylocal", models.TierPaid, 10000)

	// A hint names the service, so an absolute endpoint pointing elsewhere
	// must be refused before the secret goes anywhere.
	_, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    foreign.URL + "/v1/collect",
		ServiceHint: "paylocal",
	})
	var invalid *errs.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if foreignHits != 0 {
		t.Fatalf("foreign host received %d requests", foreignHits)
	}
	if q := f.ledger.CheckQuota(cred.ID); q.Used != 0 {
		t.Fatalf("expected refunded reservation, got used=%v", q.Used)
	}
}

func TestExecute_AllowsAbsoluteEndpointOnServiceHost(t *testing.T) {
	f := newFixture(t)
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("paylocal", models.ServicePayment, srv.URL, registry.AuthBearer, "Authorization", 0.005, 0)
	f.register(t, "user-1", "sk_test_1234567890123456789012345678", "paylocal", models.TierPaid, 10000)

	resp, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    srv.URL + "/v1/charges",
		ServiceHint: "paylocal",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != http.StatusOK || gotPath != "/v1/charges" {
		t.Fatalf("unexpected result: status=%d path=%q", resp.Status, gotPath)
	}
}

func TestExecute_ChargesQuotaAndRecordsCost(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("paylocal", models.ServicePayment, srv.URL, registry.AuthBearer, "Authorization", 0.005, 0)
	cred := f.register(t, "user-1", "sk_test_1234567890123456789012345678", "paylocal", models.TierPaid, 10000)

	resp, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/v1/charges",
		ServiceHint: "paylocal",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Cost != 0.005 || resp.Tier != models.TierPaid || resp.KeyUsed != cred.ID {
		t.Fatalf("unexpected routing outcome: %+v", resp)
	}

	q := f.ledger.CheckQuota(cred.ID)
	if q.Used != 0.005 || q.Remaining != 9999.995 {
		t.Fatalf("expected used=0.005 remaining=9999.995, got used=%v remaining=%v", q.Used, q.Remaining)
	}

	view, err := f.ledger.Get(cred.ID, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", view.UsageCount)
	}

	stats := f.tracker.Stats()
	if stats.TotalRecords != 1 || stats.FreeTierHits != 0 {
		t.Fatalf("unexpected cost ledger stats: %+v", stats)
	}
}

func TestExecute_FreeTierDrainsThenFallsBackToPaid(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("weatherlocal", models.ServiceWeather, srv.URL, registry.AuthQuery, "appid", 0.001, 0)
	free := f.register(t, "user-1", "ow_free_9234567890123456789012", "weatherlocal", models.TierFree, 1)
	paid := f.register(t, "user-1", "ow_paid_9234567890123456789012", "weatherlocal", models.TierPaid, 10000)

	// First call rides the free key at zero dollar cost but burns its one
	// request unit of quota.
	resp, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/data/2.5/weather",
		ServiceHint: "weatherlocal",
	})
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if resp.KeyUsed != free.ID || resp.Cost != 0 {
		t.Fatalf("expected free key at zero cost, got key=%s cost=%v", resp.KeyUsed, resp.Cost)
	}
	if q := f.ledger.CheckQuota(free.ID); q.Used != 1 || q.HasQuota {
		t.Fatalf("expected free key drained, got used=%v hasQuota=%v", q.Used, q.HasQuota)
	}

	// Second call must fall back to the paid key.
	resp, err = f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/data/2.5/weather",
		ServiceHint: "weatherlocal",
	})
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if resp.KeyUsed != paid.ID || resp.Tier != models.TierPaid || resp.Cost != 0.001 {
		t.Fatalf("expected paid fallback, got key=%s tier=%s cost=%v", resp.KeyUsed, resp.Tier, resp.Cost)
	}

	stats := f.tracker.Stats()
	if stats.TotalRecords != 2 || stats.FreeTierHits != 1 {
		t.Fatalf("unexpected cost ledger stats: %+v", stats)
	}
}

func TestExecute_RetriesTransportFailure(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			// Drop the connection mid-response to force a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server does not support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("flakylocal", models.ServiceOther, srv.URL, registry.AuthHeader, "X-Api-Key", 0.001, 3)
	f.register(t, "user-1", "flaky_secret_12345678901234567890", "flakylocal", models.TierFree, 1000)

	resp, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/v1/flaky",
		ServiceHint: "flakylocal",
	})
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d", resp.Status)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecute_UpstreamErrorRefundsQuota(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens; every attempt is a connection failure

	f.addService("deadlocal", models.ServicePayment, srv.URL, registry.AuthBearer, "Authorization", 0.005, 1)
	cred := f.register(t, "user-1", "sk_test_1234567890123456789012345678", "deadlocal", models.TierPaid, 10000)

	_, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/v1/charges",
		ServiceHint: "deadlocal",
	})
	var upstreamErr *errs.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstreamErr.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", upstreamErr.Attempts)
	}

	// The reservation must be refunded: no response was delivered.
	q := f.ledger.CheckQuota(cred.ID)
	if q.Used != 0 {
		t.Fatalf("expected refunded quota, got used=%v", q.Used)
	}
	if f.tracker.Stats().TotalRecords != 0 {
		t.Fatal("failed call must not append a cost record")
	}
}

func TestExecute_NonOKPassesThroughWithoutRetry(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	f.addService("limitedlocal", models.ServiceOther, srv.URL, registry.AuthHeader, "X-Api-Key", 0.001, 3)
	cred := f.register(t, "user-1", "limited_secret_1234567890123456", "limitedlocal", models.TierFree, 1000)

	resp, err := f.executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/v1/limited",
		ServiceHint: "limitedlocal",
	})
	if err != nil {
		t.Fatalf("non-2xx must not be an error: %v", err)
	}
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 passthrough, got %d", resp.Status)
	}
	if attempts != 1 {
		t.Fatalf("non-2xx must not be retried, got %d attempts", attempts)
	}
	if !strings.Contains(string(resp.Body), "rate limited") {
		t.Fatalf("expected upstream body passthrough, got %s", resp.Body)
	}

	// A delivered response counts against quota even when it is an error.
	view, err := f.ledger.Get(cred.ID, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.UsageCount != 1 {
		t.Fatalf("expected usage recorded, got count %d", view.UsageCount)
	}
}

func TestExecute_SuspendedCredentialRefundsReservation(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	f.addService("paylocal", models.ServicePayment, srv.URL, registry.AuthBearer, "Authorization", 0.005, 0)
	cred := f.register(t, "user-1", "sk_test_1234567890123456789012345678", "paylocal", models.TierPaid, 10000)

	// Corrupt the stored blob, then reload the ledger so the bad blob is what
	// decryption sees after routing admits the call.
	if err := f.db.Model(&models.Credential{}).Where("id = ?", cred.ID).
		Update("encrypted_secret", "not:a:validblob").Error; err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}
	reloaded := ledger.New(f.db, f.vault)
	executor := NewExecutor(routing.New(reloaded, f.registry), reloaded, f.tracker)

	_, err := executor.Execute(context.Background(), "user-1", Request{
		Endpoint:    "/v1/charges",
		ServiceHint: "paylocal",
	})
	var unavailable *errs.CredentialUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected CredentialUnavailableError, got %v", err)
	}

	q := reloaded.CheckQuota(cred.ID)
	if q.Used != 0 {
		t.Fatalf("expected refunded reservation, got used=%v", q.Used)
	}
}
