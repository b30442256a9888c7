// One-shot vendor escrow sweep, for cron-style operation alongside (or
// instead of) the in-process worker.
package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/owanbe/settlement/internal/config"
	"github.com/owanbe/settlement/internal/escrow"
	"github.com/owanbe/settlement/internal/gateway"
	"github.com/owanbe/settlement/internal/store"
)

func main() {
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

	paystack := gateway.NewClient(cfg.PaystackSecret)
	worker := escrow.NewWorker(ledgerStore, paystack)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := worker.Sweep(ctx); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	log.Println("Sweep complete.")
}
