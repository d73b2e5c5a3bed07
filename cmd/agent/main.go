package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/stocktrend/prediagent/internal/agent"
	"github.com/stocktrend/prediagent/pkg/auth"
	"github.com/stocktrend/prediagent/pkg/forecast"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/shutdown"
	"github.com/stocktrend/prediagent/pkg/store"
	"github.com/stocktrend/prediagent/pkg/tlsutil"
	"github.com/stocktrend/prediagent/pkg/tracing"
)

const version = "1.0.0"

func main() {
	addr := flag.String("addr", "127.0.0.1:8002", "Listen address")
	db := flag.String("db", "prediagent.db", "Database: 'memory', a SQLite path, or a PostgreSQL DSN")
	retention := flag.Duration("retention", 7*24*time.Hour, "Forecast retention window (0 disables pruning)")
	apiKeyHash := flag.String("api-key-hash", os.Getenv("PREDIAGENT_API_KEY_HASH"), "Admin key as id:bcrypt-hash (empty disables admin endpoints)")
	tlsAuto := flag.Bool("tls-auto", false, "Serve TLS with a generated self-signed certificate")
	certFile := flag.String("cert", "certs/agent.crt", "TLS certificate file for --tls-auto")
	keyFile := flag.String("key", "certs/agent.key", "TLS key file for --tls-auto")
	traceEndpoint := flag.String("trace-endpoint", "", "OTLP HTTP endpoint for traces (empty disables tracing)")
	rateRPS := flag.Float64("rate-rps", 10, "Per-client requests per second on forecast endpoints (0 disables)")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	jsonLogs := flag.Bool("json-logs", false, "Emit JSON log lines")
	flag.Parse()

	log.Println("Starting prediAgent forecast agent")
	log.Printf("Version: %s", version)
	log.Printf("Listen address: %s", *addr)

	logger, err := logging.NewFileLogger("agent", logging.ParseLevel(*logLevel), *jsonLogs)
	if err != nil {
		log.Printf("File logging unavailable (%v), using stdout", err)
		logger = logging.NewLogger(logging.ParseLevel(*logLevel), *jsonLogs)
	}

	// Store
	dataStore, err := store.NewStore(storeConfig(*db))
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	switch {
	case *db == "memory":
		log.Println("WARNING: Using in-memory store (data will not persist)")
	default:
		log.Printf("Using persistent store: %s", *db)
	}

	engine := forecast.NewEngine(dataStore, logger, forecast.DefaultConfig())

	// Tracing
	provider, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "predi-agent",
		ServiceVersion: version,
		Environment:    os.Getenv("PREDIAGENT_ENV"),
		OTLPEndpoint:   *traceEndpoint,
		Enabled:        *traceEndpoint != "",
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	srv := agent.NewServer(dataStore, engine, logger, agent.Config{
		Version: version,
		RateRPS: *rateRPS,
	})

	// Admin API keys
	if *apiKeyHash != "" {
		id, hash, ok := strings.Cut(*apiKeyHash, ":")
		if !ok || id == "" || hash == "" {
			log.Fatalf("Invalid --api-key-hash value, want id:bcrypt-hash")
		}
		keys := auth.NewKeyManager()
		keys.Load(id, hash, "configured admin key")
		srv.SetKeyManager(keys)
		log.Println("Admin endpoints enabled")
	}

	// Retention
	var pruner *agent.Retention
	if *retention > 0 {
		cfg := agent.DefaultRetentionConfig()
		cfg.MaxAge = *retention
		pruner = agent.NewRetention(cfg, dataStore, logger, srv.Metrics())
		pruner.Start()
		srv.SetRetention(pruner)
	} else {
		log.Println("Forecast retention disabled")
	}

	router := mux.NewRouter()
	if *traceEndpoint != "" {
		router.Use(tracing.HTTPMiddleware(provider))
	}
	router.Use(srv.RateLimit())
	router.Use(srv.LogRequests())
	srv.RegisterRoutes(router)

	httpSrv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// TLS for non-loopback binds
	if *tlsAuto {
		if _, err := os.Stat(*certFile); os.IsNotExist(err) {
			log.Println("Generating self-signed certificate...")
			if err := os.MkdirAll("certs", 0755); err != nil {
				log.Fatalf("Failed to create certs directory: %v", err)
			}
			var sans []string
			if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
				sans = append(sans, host)
			}
			if err := tlsutil.GenerateSelfSignedCert(*certFile, *keyFile, "predi-agent", sans...); err != nil {
				log.Fatalf("Failed to generate certificate: %v", err)
			}
		}
		tlsConfig, err := tlsutil.LoadServerConfig(*certFile, *keyFile, "", false)
		if err != nil {
			log.Fatalf("Failed to load TLS config: %v", err)
		}
		httpSrv.TLSConfig = tlsConfig
		log.Println("TLS enabled")
	}

	mgr := shutdown.New(30 * time.Second)
	mgr.Register(shutdown.CloseResource(logger, "logger"))
	mgr.Register(shutdown.CloseResource(dataStore, "store"))
	mgr.Register(func(ctx context.Context) error {
		return provider.Shutdown(ctx)
	})
	if pruner != nil {
		mgr.Register(func(ctx context.Context) error {
			pruner.Stop()
			return nil
		})
	}
	mgr.Register(shutdown.StopHTTPServer(httpSrv, "agent"))

	go func() {
		log.Printf("Agent listening on %s", *addr)
		log.Println("API endpoints:")
		log.Println("  GET    /.well-known/agent-card.json")
		log.Println("  POST   /          (JSON-RPC 2.0)")
		log.Println("  POST   /invoke")
		log.Println("  GET    /health")
		log.Println("  GET    /ready")
		log.Println("  GET    /metrics")

		var serveErr error
		if *tlsAuto {
			serveErr = httpSrv.ListenAndServeTLS("", "")
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("Server failed", map[string]interface{}{
				"error": serveErr.Error(),
			})
			mgr.Trigger()
		}
	}()

	// Wait converts signals into Done; Trigger covers server failures
	go mgr.Wait()
	<-mgr.Done()
	mgr.Shutdown()
}

// storeConfig maps the --db flag onto a store configuration: the literal
// "memory", a PostgreSQL DSN, or a SQLite path.
func storeConfig(db string) store.Config {
	switch {
	case db == "memory":
		return store.Config{Type: "memory"}
	case strings.HasPrefix(db, "postgres://"),
		strings.HasPrefix(db, "postgresql://"),
		strings.Contains(db, "host="):
		return store.Config{Type: "postgres", DSN: db}
	default:
		return store.Config{Type: "sqlite", Path: db}
	}
}
