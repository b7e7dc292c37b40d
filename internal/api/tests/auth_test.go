package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/agentkit-dev/credits-server/internal/api/testutils"
	"github.com/agentkit-dev/credits-server/internal/models"
)

func TestAdminLogin(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	// Test case 1: Successful login
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/login",
		models.LoginRequest{Password: testutils.TestAdminPassword},
		nil,
	)

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.LoginResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "success", response.Status)
	assert.NotEmpty(t, response.Token)
	assert.Greater(t, response.ExpiresIn, 0)

	// Test case 2: Wrong password
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/login",
		models.LoginRequest{Password: "not-the-password"},
		nil,
	)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Test case 3: Missing password
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/login",
		map[string]string{},
		nil,
	)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	rechargeReq := models.RechargeRequest{
		UpstreamTxID: "auth-test-tx-1",
		UserID:       "auth-test-user",
		Amount:       decimal.NewFromInt(10),
	}

	// Test case 1: No Authorization header
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/recharge",
		rechargeReq,
		nil,
	)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Test case 2: Malformed token
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/recharge",
		rechargeReq,
		testutils.AuthHeaders("not-a-jwt"),
	)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Test case 3: Valid token passes the middleware
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/admin/credit/recharge",
		rechargeReq,
		testutils.AuthHeaders(testCtx.AdminJWT),
	)

	assert.Equal(t, http.StatusCreated, w.Code)

	// Internal routes share the same guard
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/internal/credit/expense",
		models.ExpenseRequest{
			OwnerType:    "user",
			OwnerID:      "auth-test-user",
			Amount:       decimal.NewFromInt(1),
			EventType:    "message",
			UpstreamTxID: "auth-test-tx-2",
		},
		nil,
	)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
