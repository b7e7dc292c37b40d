package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentkit-dev/credits-server/internal/api"
	"github.com/agentkit-dev/credits-server/internal/config"
	"github.com/agentkit-dev/credits-server/internal/repository"
	"github.com/agentkit-dev/credits-server/internal/service"
	"github.com/agentkit-dev/credits-server/internal/utils"
)

func main() {
	logger := utils.NewLogger()

	// Load configuration
	cfg := config.LoadConfig()

	// Set up database connection
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		logger.Fatal("Failed to set up database: %v", err)
	}
	defer db.Close()

	// Create repository
	repo := repository.NewPostgresRepository(db, repository.QuotaDefaults{
		DailyQuota:   cfg.Ledger.DefaultDailyQuota,
		RefillAmount: cfg.Ledger.DefaultRefillAmount,
	})

	// Create service
	svc := service.NewDefaultService(repo, cfg.Admin.JWTSecret, cfg.Admin.PasswordHash)

	// Create API handler
	handler := api.NewHandler(svc, cfg.Admin.AuthEnabled)

	// Set up Gin router
	router := gin.Default()

	// Add middleware for JWT secret
	router.Use(func(c *gin.Context) {
		c.Set("jwtSecret", []byte(cfg.Admin.JWTSecret))
		c.Next()
	})

	// Set up routes
	handler.SetupRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Starting server on %s", serverAddr)
	if err := http.ListenAndServe(serverAddr, router); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
