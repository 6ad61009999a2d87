package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"mpesa-settlement/internal/config"
	"mpesa-settlement/internal/domain/ports/repository"
	pg "mpesa-settlement/internal/infra/db/postgres"
	"mpesa-settlement/internal/infra/logging"
	"mpesa-settlement/internal/usecase"
)

func main() {
	// ---- Config ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()
	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planRepo := pg.NewPostgresPlanRepo(pool)

	// If plans already exist, do nothing
	existing, err := planRepo.ListAll(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(existing))
		for _, p := range existing {
			fmt.Printf("  - %s (id=%s, price=%d %s, total=%d)\n", p.Name, p.ID, p.Price, p.Currency, p.TotalAmount())
		}
		return
	}

	plans := usecase.NewPlanUseCase(planRepo, pg.NewTxManager(pool), logging.New(cfg.Log, cfg.Runtime.Dev))
	plan, _, err := plans.Upsert(ctx, usecase.PlanInput{
		ID:         "standard",
		Name:       "Standard Plan",
		PeriodName: "Yearly",
		Price:      2000,
		Taxes:      []usecase.TaxInput{{Name: "VAT", Rate: "0.16"}},
	})
	if err != nil {
		log.Fatalf("save plan: %v", err)
	}
	fmt.Printf("seeded: %s (id=%s, price=%d %s, total incl. taxes=%d)\n", plan.Name, plan.ID, plan.Price, plan.Currency, plan.TotalAmount())
	fmt.Println("✅ Seeding complete.")
}
