package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/agentkit-dev/credits-server/internal/api/testutils"
	"github.com/agentkit-dev/credits-server/internal/models"
)

func postExpense(testCtx *testutils.TestContext, req models.ExpenseRequest) *httptest.ResponseRecorder {
	return testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/internal/credit/expense",
		req,
		testutils.AuthHeaders(testCtx.AdminJWT),
	)
}

func TestExpensePoolPriority(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	const userID = "expense-user"

	// Fresh user: daily 100, reward 0, permanent 0
	w := postExpense(testCtx, models.ExpenseRequest{
		OwnerType:    "user",
		OwnerID:      userID,
		Amount:       decimal.NewFromInt(30),
		EventType:    "message",
		UpstreamTxID: "expense-tx-1",
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	account := parseAccount(t, w)
	assertDecimalEqual(t, 70, account.DailyCredits, "dailyCredits")
	assertDecimalEqual(t, 0, account.Credits, "credits")

	// Fund the permanent pool
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/recharge",
		models.RechargeRequest{
			UpstreamTxID: "expense-recharge-1",
			UserID:       userID,
			Amount:       decimal.NewFromInt(50),
		},
		testutils.AuthHeaders(testCtx.AdminJWT),
	)
	assert.Equal(t, http.StatusCreated, w.Code)

	// 80 exceeds every single pool (daily 70, reward 0, permanent 50),
	// even though the pools together hold 120. Pools are never combined.
	w = postExpense(testCtx, models.ExpenseRequest{
		OwnerType:    "user",
		OwnerID:      userID,
		Amount:       decimal.NewFromInt(80),
		EventType:    "skill_call",
		UpstreamTxID: "expense-tx-2",
	})

	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	// 70 drains the daily pool exactly
	w = postExpense(testCtx, models.ExpenseRequest{
		OwnerType:    "user",
		OwnerID:      userID,
		Amount:       decimal.NewFromInt(70),
		EventType:    "message",
		UpstreamTxID: "expense-tx-3",
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	account = parseAccount(t, w)
	assertDecimalEqual(t, 0, account.DailyCredits, "dailyCredits")
	assertDecimalEqual(t, 50, account.Credits, "credits")

	// With the daily pool empty the permanent pool pays next
	w = postExpense(testCtx, models.ExpenseRequest{
		OwnerType:    "user",
		OwnerID:      userID,
		Amount:       decimal.NewFromInt(20),
		EventType:    "message",
		UpstreamTxID: "expense-tx-4",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assertDecimalEqual(t, 30, parseAccount(t, w).Credits, "credits")
}

func TestExpenseValidation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	base := models.ExpenseRequest{
		OwnerType:    "user",
		OwnerID:      "expense-validation-user",
		Amount:       decimal.NewFromInt(1),
		EventType:    "message",
		UpstreamTxID: "expense-val-tx-1",
	}

	// Test case 1: Unknown event type
	req := base
	req.EventType = "login"
	w := postExpense(testCtx, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 2: Unknown owner type
	req = base
	req.OwnerType = "robot"
	w = postExpense(testCtx, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 3: Missing upstream transaction id
	req = base
	req.UpstreamTxID = ""
	w = postExpense(testCtx, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 4: Zero amount
	req = base
	req.Amount = decimal.Zero
	w = postExpense(testCtx, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 5: Duplicate upstream transaction id
	w = postExpense(testCtx, base)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = postExpense(testCtx, base)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Test case 6: Agent accounts have no quota and start empty
	w = postExpense(testCtx, models.ExpenseRequest{
		OwnerType:    "agent",
		OwnerID:      "expense-agent-1",
		Amount:       decimal.NewFromInt(1),
		EventType:    "skill_call",
		UpstreamTxID: "expense-val-tx-2",
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestRefillAndReset(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	const userID = "refill-user"

	refill := func(txID string) *httptest.ResponseRecorder {
		return testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			"/internal/credit/refill",
			models.RefillRequest{UserID: userID, UpstreamTxID: txID},
			testutils.AuthHeaders(testCtx.AdminJWT),
		)
	}
	reset := func(txID string) *httptest.ResponseRecorder {
		return testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			"/internal/credit/reset",
			models.RefillRequest{UserID: userID, UpstreamTxID: txID},
			testutils.AuthHeaders(testCtx.AdminJWT),
		)
	}

	// Test case 1: Refilling a full account is a no-op
	w := refill("refill-tx-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assertDecimalEqual(t, 100, parseAccount(t, w).DailyCredits, "dailyCredits")

	// Spend part of the daily pool
	w = postExpense(testCtx, models.ExpenseRequest{
		OwnerType:    "user",
		OwnerID:      userID,
		Amount:       decimal.NewFromInt(50),
		EventType:    "message",
		UpstreamTxID: "refill-expense-1",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Test case 2: Refill tops up by the refill amount, capped at the quota
	w = refill("refill-tx-2")
	assert.Equal(t, http.StatusOK, w.Code)
	assertDecimalEqual(t, 70, parseAccount(t, w).DailyCredits, "dailyCredits")

	// Test case 3: Reset restores the pool to exactly the quota
	w = reset("reset-tx-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assertDecimalEqual(t, 100, parseAccount(t, w).DailyCredits, "dailyCredits")

	// Test case 4: Resetting an already-full account is a no-op
	w = reset("reset-tx-2")
	assert.Equal(t, http.StatusOK, w.Code)
	assertDecimalEqual(t, 100, parseAccount(t, w).DailyCredits, "dailyCredits")

	// Test case 5: The scheduler's transaction id is idempotent too
	w = refill("refill-tx-2")
	assert.Equal(t, http.StatusConflict, w.Code)
}
