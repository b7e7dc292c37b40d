package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/agentkit-dev/credits-server/internal/api/testutils"
	"github.com/agentkit-dev/credits-server/internal/models"
)

// parseAccount decodes an account body and fails the test on bad JSON.
func parseAccount(t *testing.T, w *httptest.ResponseRecorder) models.Account {
	t.Helper()

	var account models.Account
	err := json.Unmarshal(w.Body.Bytes(), &account)
	assert.NoError(t, err, "Failed to parse account response: %s", w.Body.String())
	return account
}

func assertDecimalEqual(t *testing.T, expected int64, actual decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, actual.Equal(decimal.NewFromInt(expected)),
		"%s: expected %d, got %s", field, expected, actual)
}

func TestRecharge(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	rechargeReq := models.RechargeRequest{
		UpstreamTxID: "recharge-tx-1",
		UserID:       "recharge-user",
		Amount:       decimal.NewFromInt(50),
		Note:         "bought the starter pack",
	}

	// Test case 1: Successful recharge into the permanent pool
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/recharge",
		rechargeReq,
		testutils.AuthHeaders(testCtx.AdminJWT),
	)

	assert.Equal(t, http.StatusCreated, w.Code)

	account := parseAccount(t, w)
	assert.Equal(t, models.OwnerUser, account.OwnerType)
	assert.Equal(t, "recharge-user", account.OwnerID)
	assertDecimalEqual(t, 50, account.Credits, "credits")
	// A brand-new user account starts with a full daily pool
	assertDecimalEqual(t, 100, account.DailyCredits, "dailyCredits")
	assertDecimalEqual(t, 0, account.RewardCredits, "rewardCredits")

	// Test case 2: Resubmitting the same upstream transaction is rejected
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/recharge",
		rechargeReq,
		testutils.AuthHeaders(testCtx.AdminJWT),
	)

	assert.Equal(t, http.StatusConflict, w.Code)

	var errResp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "DUPLICATE_TRANSACTION", errResp.Code)

	// The balance did not move
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/admin/credit/accounts/user/recharge-user",
		nil,
		testutils.AuthHeaders(testCtx.AdminJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)
	assertDecimalEqual(t, 50, parseAccount(t, w).Credits, "credits")

	// Test case 3: Missing user id
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/recharge",
		models.RechargeRequest{UpstreamTxID: "recharge-tx-2", Amount: decimal.NewFromInt(10)},
		testutils.AuthHeaders(testCtx.AdminJWT),
	)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 4: Zero and negative amounts
	for i, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		w = testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			"/admin/credit/recharge",
			models.RechargeRequest{
				UpstreamTxID: "recharge-tx-bad-" + string(rune('a'+i)),
				UserID:       "recharge-user",
				Amount:       amount,
			},
			testutils.AuthHeaders(testCtx.AdminJWT),
		)

		assert.Equal(t, http.StatusBadRequest, w.Code, "amount %s must be rejected", amount)
	}
}

func TestRewardGoesToRewardPool(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/reward",
		models.RewardRequest{
			UpstreamTxID: "reward-tx-1",
			UserID:       "reward-user",
			Amount:       decimal.NewFromInt(30),
			Note:         "weekly challenge",
		},
		testutils.AuthHeaders(testCtx.AdminJWT),
	)

	assert.Equal(t, http.StatusCreated, w.Code)

	account := parseAccount(t, w)
	assertDecimalEqual(t, 30, account.RewardCredits, "rewardCredits")
	assertDecimalEqual(t, 0, account.Credits, "credits")
}

func TestRefundGoesToPermanentPool(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	amount, _ := decimal.NewFromString("12.5")
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/refund",
		models.RefundRequest{
			UpstreamTxID: "refund-tx-1",
			UserID:       "refund-user",
			Amount:       amount,
		},
		testutils.AuthHeaders(testCtx.AdminJWT),
	)

	assert.Equal(t, http.StatusCreated, w.Code)

	account := parseAccount(t, w)
	assert.True(t, account.Credits.Equal(amount),
		"credits: expected %s, got %s", amount, account.Credits)
	assertDecimalEqual(t, 0, account.RewardCredits, "rewardCredits")
}
