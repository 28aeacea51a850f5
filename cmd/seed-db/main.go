// Command seed-db provisions a development database: demo discount codes
// covering every rule type, plus an admin API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/lonestarfoods/discount-engine/internal/domain/auth"
	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
	"github.com/lonestarfoods/discount-engine/internal/handler"
	"github.com/lonestarfoods/discount-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or DISCOUNT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or DISCOUNT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("DISCOUNT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or DISCOUNT_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("DISCOUNT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	codeRepo := postgres.NewCodeRepository(pool)
	usageRepo := postgres.NewUsageRepository(pool)
	manager := discount.NewManager(codeRepo, usageRepo, nil)

	if err := seedDiscounts(ctx, manager); err != nil {
		return errors.Wrap(err, "seed discounts")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func intPtr(v int) *int { return &v }

func seedDiscounts(ctx context.Context, manager *discount.Manager) error {
	slog.Info("seeding demo discount codes")

	seeds := []discount.CreateInput{
		{
			Code:        "WELCOME10",
			Name:        "Welcome discount",
			Description: "Tiered welcome discount, bigger orders save more",
			CreatedBy:   "seed-db",
			Rules: []discount.RuleInput{
				{Type: discount.RulePercentage, Value: 5},
				{Type: discount.RulePercentage, Value: 10, MinOrderAmount: 5000},
				{Type: discount.RulePercentage, Value: 15, MinOrderAmount: 10000, MaxDiscount: 5000},
			},
		},
		{
			Code:          "TACOTUESDAY",
			Name:          "Taco Tuesday",
			Description:   "Buy two taco kits, get a salsa free",
			MaxUsageTotal: intPtr(500),
			CreatedBy:     "seed-db",
			Rules: []discount.RuleInput{
				{
					Type:           discount.RuleBOGO,
					BuyProductSKU:  "TACO-KIT-12",
					BuyQuantity:    2,
					GetProductSKU:  "SALSA-VERDE-16",
					GetQuantity:    1,
					GetDiscountPct: 100,
				},
			},
		},
		{
			Code:        "FREESHIP50",
			Name:        "Free shipping over $50",
			Description: "Free shipping on orders of $50 or more",
			CreatedBy:   "seed-db",
			Rules: []discount.RuleInput{
				{Type: discount.RuleFreeShipping, MinOrderAmount: 5000},
			},
		},
		{
			Code:           "FIRSTORDER5",
			Name:           "First order $5 off",
			Description:    "Five dollars off your first order",
			FirstOrderOnly: true,
			CreatedBy:      "seed-db",
			Rules: []discount.RuleInput{
				{Type: discount.RuleFixedAmount, Value: 500},
			},
			Restrictions: []discount.RestrictionInput{
				{Type: discount.RestrictionEmailDomain, Value: "mailinator.com", Include: boolPtr(false)},
			},
		},
	}

	for _, in := range seeds {
		created, err := manager.Create(ctx, in)
		if err != nil {
			// Re-running the seed hits the unique code constraint; skip.
			slog.Warn("skipping existing code", slog.String("code", in.Code), slog.String("error", err.Error()))
			continue
		}
		slog.Info("seeded discount code",
			slog.String("code", created.Code),
			slog.Int("rules", len(created.Rules)),
		)
	}

	return nil
}

func boolPtr(v bool) *bool { return &v }

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	info := &auth.APIKeyInfo{
		ID:      uuid.New().String(),
		KeyHash: handler.HashKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{"admin"},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("name", info.Name))
	return nil
}
