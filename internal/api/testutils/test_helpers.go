package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentkit-dev/credits-server/internal/api"
	"github.com/agentkit-dev/credits-server/internal/config"
	"github.com/agentkit-dev/credits-server/internal/repository"
	"github.com/agentkit-dev/credits-server/internal/service"
)

// TestAdminPassword is the admin password the test service is built with.
const TestAdminPassword = "testpassword"

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository repository.Repository
	Service    service.Service
	JWTSecret  []byte
	DB         *sqlx.DB
	AdminJWT   string
}

// SetupTestContext creates a new test context with initialized dependencies.
// Quota defaults are pinned so balance assertions are deterministic
// regardless of the environment.
func SetupTestContext(t *testing.T) *TestContext {
	// Load configuration from environment
	cfg := config.LoadConfig()

	// Override with test-specific config
	if cfg.Database.DBName == "credits" && cfg.Database.TestDBName != "" {
		cfg.Database.DBName = cfg.Database.TestDBName
	} else if cfg.Database.TestDBName == "" {
		// Fallback to hardcoded test DB if not in environment
		cfg.Database.DBName = "credits_test"
	}

	// Use a test JWT secret
	if cfg.Admin.JWTSecret == "" {
		cfg.Admin.JWTSecret = "test-secret-key"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(TestAdminPassword), bcrypt.MinCost)
	assert.NoError(t, err, "Failed to hash test admin password")

	// Set up database
	db, err := config.SetupDatabase(cfg)
	assert.NoError(t, err, "Failed to set up test database")

	// Create repository with fixed quota defaults
	repo := repository.NewPostgresRepository(db, repository.QuotaDefaults{
		DailyQuota:   decimal.NewFromInt(100),
		RefillAmount: decimal.NewFromInt(20),
	})

	// Create service
	svc := service.NewDefaultService(repo, cfg.Admin.JWTSecret, string(hash))

	// Create API handler with auth enabled so the middleware is exercised
	handler := api.NewHandler(svc, true)

	// Set up Gin router
	gin.SetMode(gin.TestMode)
	router := gin.Default()

	// Add middleware for JWT secret
	router.Use(func(c *gin.Context) {
		c.Set("jwtSecret", []byte(cfg.Admin.JWTSecret))
		c.Next()
	})

	// Set up routes
	handler.SetupRoutes(router)

	cleanupTestDatabase(t, repo)

	token := mintAdminJWT(t, cfg.Admin.JWTSecret)

	return &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		JWTSecret:  []byte(cfg.Admin.JWTSecret),
		DB:         db,
		AdminJWT:   token,
	}
}

// CleanupTestContext cleans up test resources
func CleanupTestContext(t *TestContext) {
	if t.DB != nil {
		cleanupTestDatabase(nil, t.Repository)
		t.DB.Close()
	}
}

// cleanupTestDatabase wipes the ledger tables, children first.
func cleanupTestDatabase(t *testing.T, repo repository.Repository) {
	if pgRepo, ok := repo.(*repository.PostgresRepository); ok {
		db := pgRepo.GetDB()

		for _, table := range []string{"transactions", "events", "accounts"} {
			_, err := db.Exec("DELETE FROM " + table)
			if t != nil && err != nil {
				t.Logf("Warning: Failed to clean %s: %v", table, err)
			}
		}
	}
}

// mintAdminJWT issues a token equivalent to what /admin/login returns.
func mintAdminJWT(t *testing.T, jwtSecret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	tokenString, err := token.SignedString([]byte(jwtSecret))
	assert.NoError(t, err, "Failed to generate JWT token")

	return tokenString
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}
