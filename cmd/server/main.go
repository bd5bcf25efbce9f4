package main

import (
	"log"
	"net/http"

	"moderation-gateway/internal/config"
	"moderation-gateway/internal/database"
	"moderation-gateway/internal/handlers"
	"moderation-gateway/internal/keys"
	"moderation-gateway/internal/middleware"
	"moderation-gateway/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Couldn't load config: %v", err)
	}

	log.Printf("Starting on port %s → %s", cfg.Port, cfg.BackendURL)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	keyFormat, err := keys.NewFormat(cfg.KeyPrefix, cfg.KeyEnv)
	if err != nil {
		log.Fatalf("Invalid key format config: %v", err)
	}

	rateLimiter, err := services.NewRateLimiter(cfg.RedisURL, cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	if err != nil {
		log.Fatalf("Redis connection failed: %v", err)
	}
	defer rateLimiter.Close()

	cacheService := services.NewCacheService(rateLimiter.GetClient(), cfg.CacheTTL)
	metricsCollector := services.NewMetricsCollector()
	proxyService := services.NewProxyService(cfg.BackendURL, cfg.ProxyTimeout, cfg.ProxyMaxRetries)

	loggingMiddleware := middleware.NewLoggingMiddleware(db, metricsCollector)
	authMiddleware := middleware.NewAuthMiddleware(db, keyFormat, metricsCollector)
	quotaMiddleware := middleware.NewQuotaMiddleware(db, metricsCollector)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(rateLimiter, cfg.RateLimitBurst, metricsCollector)
	cacheMiddleware := middleware.NewCacheMiddleware(cacheService, cfg.CacheTTL, metricsCollector)
	localLimitMiddleware := middleware.NewLocalLimitMiddleware(5, 10)

	proxyHandler := handlers.NewProxyHandler(proxyService)
	keysHandler := handlers.NewKeysHandler(db, db, keyFormat, cfg.DefaultMonthlyQuota, cfg.MaxKeysPerDeveloper)
	rulesHandler := handlers.NewRulesHandler(db)
	adminHandler := handlers.NewAdminHandler(db)
	metricsHandler := handlers.NewMetricsHandler(metricsCollector, db, rateLimiter)

	// Admission order is fixed: authenticate, then quota, then rate limit.
	admit := func(h http.Handler) http.Handler {
		return loggingMiddleware.Middleware(
			authMiddleware.Middleware(
				quotaMiddleware.Middleware(
					rateLimitMiddleware.Middleware(h))))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", metricsHandler.HealthCheck)
	mux.HandleFunc("/metrics", metricsHandler.GetMetrics)

	mux.Handle("/v1/keys", localLimitMiddleware.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			keysHandler.CreateAPIKey(w, r)
		case http.MethodGet:
			keysHandler.ListAPIKeys(w, r)
		case http.MethodDelete:
			keysHandler.RevokeAPIKey(w, r)
		default:
			http.Error(w, `{"error":"Method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/admin/developers", localLimitMiddleware.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			adminHandler.CreateDeveloper(w, r)
		case http.MethodDelete:
			adminHandler.DeactivateDeveloper(w, r)
		default:
			http.Error(w, `{"error":"Method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/admin/quota/reset", localLimitMiddleware.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"Method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		adminHandler.ResetPeriod(w, r)
	})))

	// Usage is read-only: authenticated, but it does not consume quota.
	mux.Handle("/v1/usage", loggingMiddleware.Middleware(authMiddleware.Middleware(http.HandlerFunc(keysHandler.Usage))))

	mux.Handle("/v1/rules", admit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			rulesHandler.CreateRule(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("id") != "" {
				rulesHandler.GetRule(w, r)
			} else {
				rulesHandler.ListRules(w, r)
			}
		case http.MethodPut:
			rulesHandler.UpdateRule(w, r)
		case http.MethodDelete:
			rulesHandler.DeleteRule(w, r)
		default:
			http.Error(w, `{"error":"Method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/", admit(cacheMiddleware.Middleware(proxyHandler)))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	log.Printf("Ready")

	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
