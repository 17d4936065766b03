package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/key-wallet-nexus/internal/costs"
	"github.com/pysugar/key-wallet-nexus/internal/db"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"github.com/pysugar/key-wallet-nexus/internal/ledger"
	"github.com/pysugar/key-wallet-nexus/internal/proxy"
	"github.com/pysugar/key-wallet-nexus/internal/proxy/handlers"
	"github.com/pysugar/key-wallet-nexus/internal/proxy/middleware"
	"github.com/pysugar/key-wallet-nexus/internal/registry"
	"github.com/pysugar/key-wallet-nexus/internal/routing"
	"github.com/pysugar/key-wallet-nexus/internal/vault"
)

func main() {
	seed := flag.Bool("seed", false, "register demo credentials on startup")
	dbPath := flag.String("db", "wallet.db", "path to the SQLite database")
	flag.Parse()

	// Initialize database
	database, err := db.InitDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Vault and credential ledger
	v, err := vault.New(db.EnsureMasterKey(database))
	if err != nil {
		log.Fatalf("Failed to initialize vault: %v", err)
	}
	keyLedger := ledger.New(database, v)
	keyLedger.StartResetLoop()

	// Service registry (built-ins, plus optional YAML overlay)
	reg := registry.New()
	if path := os.Getenv("WALLET_PROFILES"); path != "" {
		if err := reg.LoadFile(path); err != nil {
			log.Fatalf("Failed to load service profiles: %v", err)
		}
	}

	// Cost ledger, analytics and the call path
	tracker := costs.NewTracker(database)
	analyzer := costs.NewAnalyzer(tracker)
	engine := routing.New(keyLedger, reg)
	executor := proxy.NewExecutor(engine, keyLedger, tracker)

	if *seed {
		seedDemoCredentials(keyLedger)
	}

	// Create router
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.NewRateLimiter(50, 100).Handler)

	// Public routes
	r.Get("/health", handlers.HealthHandler())
	r.Get("/version", handlers.VersionHandler())

	// API routes (gateway key required)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.GatewayAuth(database))

		// Credential management
		r.Route("/keys", func(r chi.Router) {
			r.Post("/", handlers.RegisterKeyHandler(keyLedger))
			r.Get("/", handlers.ListKeysHandler(keyLedger))
			r.Post("/validate", handlers.ValidateKeyHandler())
			r.Get("/{id}", handlers.GetKeyHandler(keyLedger))
			r.Put("/{id}", handlers.UpdateKeyHandler(keyLedger))
			r.Patch("/{id}", handlers.UpdateKeyHandler(keyLedger))
			r.Delete("/{id}", handlers.DeleteKeyHandler(keyLedger))
			r.Get("/{id}/quota", handlers.GetKeyQuotaHandler(keyLedger))
		})

		// Proxied execution
		r.Post("/proxy", handlers.ExecuteHandler(executor))

		// Analytics
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/overview", handlers.GetOverviewHandler(keyLedger, tracker))
			r.Get("/usage", handlers.GetUsageHandler(tracker))
			r.Get("/savings", handlers.GetSavingsHandler(analyzer))
			r.Get("/suggestions", handlers.GetSuggestionsHandler(analyzer))
			r.Get("/trends", handlers.GetTrendsHandler(analyzer))
		})

		// Service profiles
		r.Get("/services", handlers.ListServicesHandler(reg))

		// Discovery
		r.Get("/discovery/scan", handlers.ScanHandler())
		r.Post("/discovery/import", handlers.ImportHandler(keyLedger, reg))

		// Gateway key management
		r.Get("/config/apikey", handlers.GetGatewayKeyHandler(database))
		r.Post("/config/apikey/regenerate", handlers.RegenerateGatewayKeyHandler(database))
	})

	// Start server
	host := os.Getenv("HOST")
	if host == "" {
		host = "127.0.0.1" // Default to localhost, set HOST=0.0.0.0 for LAN access
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	addr := host + ":" + port

	log.Printf("🚀 Key-Wallet-Nexus starting on http://%s", addr)
	log.Printf("🔌 Wallet API: http://%s/api", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// seedDemoCredentials registers a small demo wallet for local exploration.
func seedDemoCredentials(l *ledger.Ledger) {
	demo := []struct {
		secret string
		tier   models.KeyTier
		meta   ledger.Metadata
	}{
		{
			secret: "ow_demo_free_1234567890123456789012",
			tier:   models.TierFree,
			meta:   ledger.Metadata{Service: "openweather", Type: models.ServiceWeather, Quota: 1000},
		},
		{
			secret: "sk_test_demo_4567890123456789012345678",
			tier:   models.TierPaid,
			meta:   ledger.Metadata{Service: "stripe", Type: models.ServicePayment, Quota: 10000},
		},
	}
	for _, d := range demo {
		if _, err := l.Register("demo", d.secret, d.meta, d.tier); err != nil {
			log.Printf("⚠️ Demo seed for %s skipped: %v", d.meta.Service, err)
			continue
		}
	}
	log.Printf("🌱 Demo credentials seeded for owner 'demo'")
}
