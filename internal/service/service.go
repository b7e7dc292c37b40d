package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentkit-dev/credits-server/internal/models"
	"github.com/agentkit-dev/credits-server/internal/repository"
)

// Metrics
var ledgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "credit_ledger_operations_total",
	Help: "Ledger operations by outcome",
}, []string{"operation", "outcome"})

// Service defines all the business logic operations
type Service interface {
	// Authentication
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)

	// Accounts
	GetOrCreateAccount(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error)

	// Ledger operations
	Recharge(ctx context.Context, userID string, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error)
	Reward(ctx context.Context, userID string, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error)
	Refund(ctx context.Context, userID string, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error)
	Adjust(ctx context.Context, userID string, creditType models.CreditType, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error)
	UpdateDailyQuota(ctx context.Context, userID string, dailyQuota, refillAmount *decimal.Decimal, note string) (*models.Account, error)
	Expense(ctx context.Context, ownerType models.OwnerType, ownerID string, amount decimal.Decimal, eventType models.EventType, upstreamTxID, note string) (*models.Account, error)
	RefillDailyCredits(ctx context.Context, userID, upstreamTxID string) (*models.Account, error)
	ResetDailyCredits(ctx context.Context, userID, upstreamTxID string) (*models.Account, error)

	// Event journal reads
	ListEvents(ctx context.Context, ownerType models.OwnerType, ownerID string, direction models.Direction, cursor string, limit int) ([]models.Event, string, bool, error)
	GetEventByUpstreamTxID(ctx context.Context, upstreamTxID string) (*models.Event, error)
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo              repository.Repository
	jwtSecret         []byte
	adminPasswordHash string
	tokenDuration     time.Duration
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, jwtSecret, adminPasswordHash string) Service {
	return &DefaultService{
		repo:              repo,
		jwtSecret:         []byte(jwtSecret),
		adminPasswordHash: adminPasswordHash,
		tokenDuration:     24 * time.Hour, // 24 hours token validity
	}
}

// Login exchanges the admin password for a bearer token.
func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if s.adminPasswordHash == "" {
		return nil, fmt.Errorf("%w: admin login is not configured", models.ErrUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid password", models.ErrUnauthorized)
	}

	token, err := s.generateJWT()
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.LoginResponse{
		Status:    "success",
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
	}, nil
}

// GetOrCreateAccount returns the account for an owner, creating it with
// default quota settings on first reference.
func (s *DefaultService) GetOrCreateAccount(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error) {
	var account *models.Account
	err := s.repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		account, err = tx.GetOrCreateAccount(ctx, ownerType, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (s *DefaultService) ListEvents(ctx context.Context, ownerType models.OwnerType, ownerID string, direction models.Direction, cursor string, limit int) ([]models.Event, string, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return s.repo.ListEventsByOwner(ctx, ownerType, ownerID, direction, cursor, limit)
}

func (s *DefaultService) GetEventByUpstreamTxID(ctx context.Context, upstreamTxID string) (*models.Event, error) {
	return s.repo.GetEventByUpstreamTxID(ctx, upstreamTxID)
}

// observe records the outcome of a ledger operation.
func observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ledgerOpsTotal.WithLabelValues(operation, outcome).Inc()
}

// Helper methods
func (s *DefaultService) generateJWT() (string, error) {
	expirationTime := time.Now().Add(s.tokenDuration)

	claims := jwt.MapClaims{
		"sub": "admin", // subject
		"exp": expirationTime.Unix(),
		"iat": time.Now().Unix(), // issued at
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
