package repository

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/agentkit-dev/credits-server/internal/models"
)

func account(daily, reward, permanent int64) *models.Account {
	return &models.Account{
		DailyCredits:  decimal.NewFromInt(daily),
		RewardCredits: decimal.NewFromInt(reward),
		Credits:       decimal.NewFromInt(permanent),
	}
}

func TestPickDeductPoolPriority(t *testing.T) {
	// Daily wins when it covers the amount alone.
	ct, ok := pickDeductPool(account(10, 50, 100), decimal.NewFromInt(10))
	assert.True(t, ok)
	assert.Equal(t, models.CreditTypeDaily, ct)

	// Reward is next when daily cannot pay alone.
	ct, ok = pickDeductPool(account(10, 50, 100), decimal.NewFromInt(11))
	assert.True(t, ok)
	assert.Equal(t, models.CreditTypeReward, ct)

	// Permanent pays when neither daily nor reward covers the amount.
	ct, ok = pickDeductPool(account(10, 5, 100), decimal.NewFromInt(12))
	assert.True(t, ok)
	assert.Equal(t, models.CreditTypePermanent, ct)
}

func TestPickDeductPoolNeverCombines(t *testing.T) {
	// The pools sum to 15 but none covers 10 alone, so selection fails.
	ct, ok := pickDeductPool(account(5, 5, 5), decimal.NewFromInt(10))
	assert.False(t, ok)
	assert.Empty(t, ct)
}

func TestPickDeductPoolExactBalance(t *testing.T) {
	ct, ok := pickDeductPool(account(0, 0, 7), decimal.NewFromInt(7))
	assert.True(t, ok)
	assert.Equal(t, models.CreditTypePermanent, ct)

	_, ok = pickDeductPool(account(0, 0, 0), decimal.NewFromInt(1))
	assert.False(t, ok)
}
