package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/stocktrend/prediagent/internal/ui"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/shutdown"
)

const version = "1.0.0"

func main() {
	addr := flag.String("addr", "0.0.0.0:8501", "Listen address")
	agentURL := flag.String("agent-url", "http://127.0.0.1:8002", "Forecast agent base URL")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	jsonLogs := flag.Bool("json-logs", false, "Emit JSON log lines")
	flag.Parse()

	log.Println("Starting prediAgent dashboard")
	log.Printf("Version: %s", version)
	log.Printf("Listen address: %s", *addr)
	log.Printf("Agent URL: %s", *agentURL)

	logger, err := logging.NewFileLogger("ui", logging.ParseLevel(*logLevel), *jsonLogs)
	if err != nil {
		log.Printf("File logging unavailable (%v), using stdout", err)
		logger = logging.NewLogger(logging.ParseLevel(*logLevel), *jsonLogs)
	}

	srv := ui.NewServer(ui.Config{
		AgentURL: *agentURL,
		Version:  version,
	}, logger)

	router := mux.NewRouter()
	srv.RegisterRoutes(router)

	httpSrv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mgr := shutdown.New(15 * time.Second)
	mgr.Register(shutdown.CloseResource(logger, "logger"))
	mgr.Register(shutdown.StopHTTPServer(httpSrv, "ui"))

	go func() {
		log.Printf("Dashboard listening on %s", *addr)
		log.Println("Endpoints:")
		log.Println("  GET    /")
		log.Println("  GET    /api/forecast?ticker=SYM")
		log.Println("  GET    /api/agent/health")
		log.Println("  GET    /healthz")
		log.Println("  GET    /metrics")

		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", map[string]interface{}{
				"error": err.Error(),
			})
			mgr.Trigger()
		}
	}()

	go mgr.Wait()
	<-mgr.Done()
	mgr.Shutdown()
}
