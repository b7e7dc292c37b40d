package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OwnerType identifies what kind of entity owns a credit account.
type OwnerType string

const (
	OwnerUser     OwnerType = "user"
	OwnerAgent    OwnerType = "agent"
	OwnerPlatform OwnerType = "platform"
	OwnerSkill    OwnerType = "skill"
)

// ParseOwnerType converts an owner type from the wire into its enum value.
func ParseOwnerType(s string) (OwnerType, error) {
	switch OwnerType(s) {
	case OwnerUser, OwnerAgent, OwnerPlatform, OwnerSkill:
		return OwnerType(s), nil
	}
	return "", fmt.Errorf("unknown owner type %q", s)
}

// CreditType names one of the three balance pools on an account.
// The values double as column names, do not change them.
type CreditType string

const (
	CreditTypeDaily     CreditType = "daily_credits"
	CreditTypeReward    CreditType = "reward_credits"
	CreditTypePermanent CreditType = "credits"
)

// ParseCreditType converts a credit type from the wire into its enum value.
func ParseCreditType(s string) (CreditType, error) {
	switch CreditType(s) {
	case CreditTypeDaily, CreditTypeReward, CreditTypePermanent:
		return CreditType(s), nil
	}
	return "", fmt.Errorf("unknown credit type %q", s)
}

// Platform clearing account IDs. These accounts are the counter-side of
// every external-facing movement so the ledger as a whole stays zero-sum.
// For platform accounts the row id equals the owner id.
const (
	PlatformAccountRecharge   = "platform_recharge"
	PlatformAccountRefill     = "platform_refill"
	PlatformAccountAdjustment = "platform_adjustment"
	PlatformAccountReward     = "platform_reward"
	PlatformAccountRefund     = "platform_refund"
	PlatformAccountFee        = "platform_fee"
)

// PlatformAccountIDs lists every clearing account, in seeding order.
var PlatformAccountIDs = []string{
	PlatformAccountRecharge,
	PlatformAccountRefill,
	PlatformAccountAdjustment,
	PlatformAccountReward,
	PlatformAccountRefund,
	PlatformAccountFee,
}

// EventType is the business reason for a ledger event.
type EventType string

const (
	EventMessage    EventType = "message"
	EventSkillCall  EventType = "skill_call"
	EventRecharge   EventType = "recharge"
	EventReward     EventType = "reward"
	EventRefund     EventType = "refund"
	EventAdjustment EventType = "adjustment"
	EventRefill     EventType = "refill"
)

// UpstreamType identifies which collaborator originated an event. Together
// with the upstream transaction id it forms the idempotency key.
type UpstreamType string

const (
	UpstreamAPI         UpstreamType = "api"
	UpstreamScheduler   UpstreamType = "scheduler"
	UpstreamExecutor    UpstreamType = "executor"
	UpstreamInitializer UpstreamType = "initializer"
)

// Direction of credit flow relative to the primary account.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// ParseDirection converts a direction from the wire into its enum value.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionIncome, DirectionExpense:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// TxType is the role a posting plays within its event.
type TxType string

const (
	TxRecharge   TxType = "recharge"
	TxReward     TxType = "reward"
	TxRefund     TxType = "refund"
	TxAdjustment TxType = "adjustment"
	TxRefill     TxType = "refill"
	TxPay        TxType = "pay"
	TxFee        TxType = "fee"
)

// CreditDebit is the accounting side of a posting. CREDIT increases the
// posting's account, DEBIT decreases it.
type CreditDebit string

const (
	Credit CreditDebit = "credit"
	Debit  CreditDebit = "debit"
)

// Account is one durable balance record per (owner_type, owner_id).
// Balances live in three independent pools; no pool on a non-platform
// account ever goes negative. Accounts are created lazily and never deleted.
type Account struct {
	ID            string          `db:"id" json:"id"`
	OwnerType     OwnerType       `db:"owner_type" json:"ownerType"`
	OwnerID       string          `db:"owner_id" json:"ownerId"`
	DailyQuota    decimal.Decimal `db:"daily_quota" json:"dailyQuota"`
	RefillAmount  decimal.Decimal `db:"refill_amount" json:"refillAmount"`
	DailyCredits  decimal.Decimal `db:"daily_credits" json:"dailyCredits"`
	RewardCredits decimal.Decimal `db:"reward_credits" json:"rewardCredits"`
	Credits       decimal.Decimal `db:"credits" json:"credits"`
	IncomeAt      *time.Time      `db:"income_at" json:"incomeAt,omitempty"`
	ExpenseAt     *time.Time      `db:"expense_at" json:"expenseAt,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// TotalBalance is the sum of the three pools.
func (a *Account) TotalBalance() decimal.Decimal {
	return a.DailyCredits.Add(a.RewardCredits).Add(a.Credits)
}

// Pool returns the balance of one named pool.
func (a *Account) Pool(ct CreditType) decimal.Decimal {
	switch ct {
	case CreditTypeDaily:
		return a.DailyCredits
	case CreditTypeReward:
		return a.RewardCredits
	default:
		return a.Credits
	}
}

// Event is one immutable business action in the journal. It is the
// idempotency unit: (upstream_type, upstream_tx_id) is unique.
type Event struct {
	ID           string          `db:"id" json:"id"`
	AccountID    string          `db:"account_id" json:"accountId"`
	EventType    EventType       `db:"event_type" json:"eventType"`
	UpstreamType UpstreamType    `db:"upstream_type" json:"upstreamType"`
	UpstreamTxID string          `db:"upstream_tx_id" json:"upstreamTxId"`
	Direction    Direction       `db:"direction" json:"direction"`
	CreditType   CreditType      `db:"credit_type" json:"creditType"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"totalAmount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balanceAfter"`
	Note         *string         `db:"note" json:"note,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}

// Transaction is one per-account leg of an Event. The postings of one event
// always net to zero: sum(credit amounts) == sum(debit amounts).
type Transaction struct {
	ID           string          `db:"id" json:"id"`
	AccountID    string          `db:"account_id" json:"accountId"`
	EventID      string          `db:"event_id" json:"eventId"`
	TxType       TxType          `db:"tx_type" json:"txType"`
	CreditDebit  CreditDebit     `db:"credit_debit" json:"creditDebit"`
	CreditType   CreditType      `db:"credit_type" json:"creditType"`
	ChangeAmount decimal.Decimal `db:"change_amount" json:"changeAmount"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}
