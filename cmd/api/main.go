package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/owanbe/settlement/internal/api"
	"github.com/owanbe/settlement/internal/config"
	"github.com/owanbe/settlement/internal/engine"
	"github.com/owanbe/settlement/internal/escrow"
	"github.com/owanbe/settlement/internal/gateway"
	"github.com/owanbe/settlement/internal/notify"
	"github.com/owanbe/settlement/internal/store"
)

func main() {
	// Local development convenience; ignored when no .env exists.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ledgerStore, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer ledgerStore.Close()

	// Initialize Layers
	paystack := gateway.NewClient(cfg.PaystackSecret)
	mailer := notify.NewMailer(cfg.ZeptoAPIURL, cfg.ZeptoAPIKey, cfg.EmailFrom)
	reconciler := engine.New(ledgerStore, paystack, mailer)
	handler := api.NewHandler(ledgerStore, reconciler, paystack, cfg)

	// Vendor escrow sweep runs alongside the server.
	worker := escrow.NewWorker(ledgerStore, paystack)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx, cfg.SweepInterval)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	handler.Register(apiV1)

	log.Printf("Server starting on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
