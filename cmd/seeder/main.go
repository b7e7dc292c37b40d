package main

import (
	"context"

	"github.com/agentkit-dev/credits-server/internal/config"
	"github.com/agentkit-dev/credits-server/internal/models"
	"github.com/agentkit-dev/credits-server/internal/repository"
	"github.com/agentkit-dev/credits-server/internal/utils"
)

// Seeder creates the platform clearing accounts so the counter side of
// every ledger operation exists before the first request arrives. Safe
// to run repeatedly; accounts that already exist are left untouched.
func main() {
	logger := utils.NewLogger()

	cfg := config.LoadConfig()

	db, err := config.SetupDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to set up database: %v", err)
	}
	defer db.Close()

	repo := repository.NewPostgresRepository(db, repository.QuotaDefaults{
		DailyQuota:   cfg.Ledger.DefaultDailyQuota,
		RefillAmount: cfg.Ledger.DefaultRefillAmount,
	})

	ctx := context.Background()
	err = repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		for _, id := range models.PlatformAccountIDs {
			account, err := tx.GetOrCreateAccount(ctx, models.OwnerPlatform, id)
			if err != nil {
				return err
			}
			logger.Info("Platform account %s ready (balance %s)", id, account.TotalBalance())
		}
		return nil
	})
	if err != nil {
		logger.Fatal("Failed to seed platform accounts: %v", err)
	}

	logger.Info("Seeding completed successfully")
}
