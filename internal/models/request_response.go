package models

import "github.com/shopspring/decimal"

// Request models
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type RechargeRequest struct {
	UpstreamTxID string          `json:"upstreamTxId" binding:"required"`
	UserID       string          `json:"userId" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note"`
}

// RewardRequest and RefundRequest share the recharge shape.
type RewardRequest = RechargeRequest
type RefundRequest = RechargeRequest

type AdjustRequest struct {
	UpstreamTxID string          `json:"upstreamTxId" binding:"required"`
	UserID       string          `json:"userId" binding:"required"`
	CreditType   string          `json:"creditType" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note" binding:"required"`
}

type UpdateDailyQuotaRequest struct {
	DailyQuota   *decimal.Decimal `json:"dailyQuota"`
	RefillAmount *decimal.Decimal `json:"refillAmount"`
	Note         string           `json:"note" binding:"required"`
}

type ExpenseRequest struct {
	OwnerType    string          `json:"ownerType" binding:"required"`
	OwnerID      string          `json:"ownerId" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	EventType    string          `json:"eventType" binding:"required,oneof=message skill_call"`
	UpstreamTxID string          `json:"upstreamTxId" binding:"required"`
	Note         string          `json:"note"`
}

type RefillRequest struct {
	UserID       string `json:"userId" binding:"required"`
	UpstreamTxID string `json:"upstreamTxId" binding:"required"`
}

// Response models
type LoginResponse struct {
	Status    string `json:"status"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
