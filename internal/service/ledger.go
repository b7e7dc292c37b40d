package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/agentkit-dev/credits-server/internal/models"
	"github.com/agentkit-dev/credits-server/internal/repository"
)

// Recharge adds purchased credits to a user's permanent pool, debiting the
// platform recharge clearing account.
func (s *DefaultService) Recharge(ctx context.Context, userID string, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error) {
	account, err := s.incomeOp(ctx, incomeOpParams{
		userID:       userID,
		amount:       amount,
		upstreamTxID: upstreamTxID,
		note:         note,
		operation:    "recharge",
		eventType:    models.EventRecharge,
		txType:       models.TxRecharge,
		pool:         models.CreditTypePermanent,
		platformID:   models.PlatformAccountRecharge,
	})
	observe("recharge", err)
	return account, err
}

// Reward adds earned credits to a user's reward pool.
func (s *DefaultService) Reward(ctx context.Context, userID string, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error) {
	account, err := s.incomeOp(ctx, incomeOpParams{
		userID:       userID,
		amount:       amount,
		upstreamTxID: upstreamTxID,
		note:         note,
		operation:    "reward",
		eventType:    models.EventReward,
		txType:       models.TxReward,
		pool:         models.CreditTypeReward,
		platformID:   models.PlatformAccountReward,
	})
	observe("reward", err)
	return account, err
}

// Refund returns credits to a user's permanent pool.
func (s *DefaultService) Refund(ctx context.Context, userID string, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error) {
	account, err := s.incomeOp(ctx, incomeOpParams{
		userID:       userID,
		amount:       amount,
		upstreamTxID: upstreamTxID,
		note:         note,
		operation:    "refund",
		eventType:    models.EventRefund,
		txType:       models.TxRefund,
		pool:         models.CreditTypePermanent,
		platformID:   models.PlatformAccountRefund,
	})
	observe("refund", err)
	return account, err
}

type incomeOpParams struct {
	userID       string
	amount       decimal.Decimal
	upstreamTxID string
	note         string
	operation    string
	eventType    models.EventType
	txType       models.TxType
	pool         models.CreditType
	platformID   string
}

// incomeOp is the shared shape of recharge, reward and refund: income one
// user pool, debit one platform clearing account, record the event and the
// two matching postings, all in one transaction.
func (s *DefaultService) incomeOp(ctx context.Context, p incomeOpParams) (*models.Account, error) {
	if p.amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s amount must be positive", models.ErrValidation, p.operation)
	}
	if p.upstreamTxID == "" {
		return nil, fmt.Errorf("%w: upstream transaction id is required", models.ErrValidation)
	}

	var account *models.Account
	err := s.repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		if err := tx.EnsureNotRecorded(ctx, models.UpstreamAPI, p.upstreamTxID); err != nil {
			return err
		}

		user, err := tx.Income(ctx, models.OwnerUser, p.userID, p.pool, p.amount)
		if err != nil {
			return err
		}

		platform, err := tx.DebitPlatform(ctx, p.platformID, models.CreditTypePermanent, p.amount)
		if err != nil {
			return err
		}

		event, err := tx.RecordEvent(ctx, &models.Event{
			AccountID:    user.ID,
			EventType:    p.eventType,
			UpstreamType: models.UpstreamAPI,
			UpstreamTxID: p.upstreamTxID,
			Direction:    models.DirectionIncome,
			CreditType:   p.pool,
			TotalAmount:  p.amount,
			BalanceAfter: user.TotalBalance(),
			Note:         notePtr(p.note),
		})
		if err != nil {
			return err
		}

		if err := tx.PostTransaction(ctx, user.ID, event.ID, p.txType, models.Credit, p.pool, p.amount); err != nil {
			return err
		}
		if err := tx.PostTransaction(ctx, platform.ID, event.ID, p.txType, models.Debit, models.CreditTypePermanent, p.amount); err != nil {
			return err
		}

		account = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// Adjust moves credits into or out of one named user pool against the
// platform adjustment account. The only operation allowed to reduce a pool
// the priority rule would not pick; a note is mandatory.
func (s *DefaultService) Adjust(ctx context.Context, userID string, creditType models.CreditType, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error) {
	account, err := s.adjust(ctx, userID, creditType, amount, upstreamTxID, note)
	observe("adjust", err)
	return account, err
}

func (s *DefaultService) adjust(ctx context.Context, userID string, creditType models.CreditType, amount decimal.Decimal, upstreamTxID, note string) (*models.Account, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: adjustment amount must not be zero", models.ErrValidation)
	}
	if note == "" {
		return nil, fmt.Errorf("%w: adjustment requires a note", models.ErrValidation)
	}
	if upstreamTxID == "" {
		return nil, fmt.Errorf("%w: upstream transaction id is required", models.ErrValidation)
	}

	var account *models.Account
	err := s.repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		if err := tx.EnsureNotRecorded(ctx, models.UpstreamAPI, upstreamTxID); err != nil {
			return err
		}

		var (
			user      *models.Account
			platform  *models.Account
			direction models.Direction
			userSide  models.CreditDebit
			err       error
		)
		magnitude := amount.Abs()

		if amount.Sign() > 0 {
			direction = models.DirectionIncome
			userSide = models.Credit
			user, err = tx.Income(ctx, models.OwnerUser, userID, creditType, magnitude)
			if err != nil {
				return err
			}
			platform, err = tx.DebitPlatform(ctx, models.PlatformAccountAdjustment, creditType, magnitude)
			if err != nil {
				return err
			}
		} else {
			direction = models.DirectionExpense
			userSide = models.Debit
			user, err = tx.DeductPool(ctx, models.OwnerUser, userID, creditType, magnitude)
			if err != nil {
				return err
			}
			platform, err = tx.Income(ctx, models.OwnerPlatform, models.PlatformAccountAdjustment, creditType, magnitude)
			if err != nil {
				return err
			}
		}

		event, err := tx.RecordEvent(ctx, &models.Event{
			AccountID:    user.ID,
			EventType:    models.EventAdjustment,
			UpstreamType: models.UpstreamAPI,
			UpstreamTxID: upstreamTxID,
			Direction:    direction,
			CreditType:   creditType,
			TotalAmount:  magnitude,
			BalanceAfter: user.TotalBalance(),
			Note:         notePtr(note),
		})
		if err != nil {
			return err
		}

		platformSide := models.Debit
		if userSide == models.Debit {
			platformSide = models.Credit
		}
		if err := tx.PostTransaction(ctx, user.ID, event.ID, models.TxAdjustment, userSide, creditType, magnitude); err != nil {
			return err
		}
		if err := tx.PostTransaction(ctx, platform.ID, event.ID, models.TxAdjustment, platformSide, creditType, magnitude); err != nil {
			return err
		}

		account = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// UpdateDailyQuota changes a user account's quota settings. Pure
// configuration: no value moves and no event is recorded.
func (s *DefaultService) UpdateDailyQuota(ctx context.Context, userID string, dailyQuota, refillAmount *decimal.Decimal, note string) (*models.Account, error) {
	account, err := s.updateDailyQuota(ctx, userID, dailyQuota, refillAmount, note)
	observe("update_daily_quota", err)
	return account, err
}

func (s *DefaultService) updateDailyQuota(ctx context.Context, userID string, dailyQuota, refillAmount *decimal.Decimal, note string) (*models.Account, error) {
	if note == "" {
		return nil, fmt.Errorf("%w: quota change requires a note", models.ErrValidation)
	}
	if dailyQuota == nil && refillAmount == nil {
		return nil, fmt.Errorf("%w: at least one of daily quota or refill amount must be provided", models.ErrValidation)
	}
	if dailyQuota != nil && dailyQuota.Sign() <= 0 {
		return nil, fmt.Errorf("%w: daily quota must be positive", models.ErrValidation)
	}
	if refillAmount != nil && refillAmount.Sign() < 0 {
		return nil, fmt.Errorf("%w: refill amount must not be negative", models.ErrValidation)
	}

	var account *models.Account
	err := s.repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		account, err = tx.UpdateQuota(ctx, userID, dailyQuota, refillAmount)
		return err
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// Expense charges an owner for a chargeable message or skill call. Used by
// the agent-execution billing hook. The deduction follows the pool priority
// rule; the counter-leg credits the platform fee account.
func (s *DefaultService) Expense(ctx context.Context, ownerType models.OwnerType, ownerID string, amount decimal.Decimal, eventType models.EventType, upstreamTxID, note string) (*models.Account, error) {
	account, err := s.expense(ctx, ownerType, ownerID, amount, eventType, upstreamTxID, note)
	observe("expense", err)
	return account, err
}

func (s *DefaultService) expense(ctx context.Context, ownerType models.OwnerType, ownerID string, amount decimal.Decimal, eventType models.EventType, upstreamTxID, note string) (*models.Account, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: expense amount must be positive", models.ErrValidation)
	}
	if eventType != models.EventMessage && eventType != models.EventSkillCall {
		return nil, fmt.Errorf("%w: expense event type must be message or skill_call", models.ErrValidation)
	}
	if upstreamTxID == "" {
		return nil, fmt.Errorf("%w: upstream transaction id is required", models.ErrValidation)
	}

	var account *models.Account
	err := s.repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		if err := tx.EnsureNotRecorded(ctx, models.UpstreamExecutor, upstreamTxID); err != nil {
			return err
		}

		owner, usedPool, err := tx.Deduct(ctx, ownerType, ownerID, amount)
		if err != nil {
			return err
		}

		fee, err := tx.Income(ctx, models.OwnerPlatform, models.PlatformAccountFee, usedPool, amount)
		if err != nil {
			return err
		}

		event, err := tx.RecordEvent(ctx, &models.Event{
			AccountID:    owner.ID,
			EventType:    eventType,
			UpstreamType: models.UpstreamExecutor,
			UpstreamTxID: upstreamTxID,
			Direction:    models.DirectionExpense,
			CreditType:   usedPool,
			TotalAmount:  amount,
			BalanceAfter: owner.TotalBalance(),
			Note:         notePtr(note),
		})
		if err != nil {
			return err
		}

		if err := tx.PostTransaction(ctx, owner.ID, event.ID, models.TxPay, models.Debit, usedPool, amount); err != nil {
			return err
		}
		if err := tx.PostTransaction(ctx, fee.ID, event.ID, models.TxFee, models.Credit, usedPool, amount); err != nil {
			return err
		}

		account = owner
		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// RefillDailyCredits tops a user's daily pool up by the account's refill
// amount, never beyond the daily quota. Called by the external scheduler;
// already-full accounts are a successful no-op with no event.
func (s *DefaultService) RefillDailyCredits(ctx context.Context, userID, upstreamTxID string) (*models.Account, error) {
	account, err := s.refillDailyCredits(ctx, userID, upstreamTxID)
	observe("refill", err)
	return account, err
}

func (s *DefaultService) refillDailyCredits(ctx context.Context, userID, upstreamTxID string) (*models.Account, error) {
	if upstreamTxID == "" {
		return nil, fmt.Errorf("%w: upstream transaction id is required", models.ErrValidation)
	}

	var account *models.Account
	err := s.repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		if err := tx.EnsureNotRecorded(ctx, models.UpstreamScheduler, upstreamTxID); err != nil {
			return err
		}

		current, err := tx.GetOrCreateAccountForUpdate(ctx, models.OwnerUser, userID)
		if err != nil {
			return err
		}

		headroom := current.DailyQuota.Sub(current.DailyCredits)
		top := decimal.Min(current.RefillAmount, headroom)
		if top.Sign() <= 0 {
			account = current
			return nil
		}

		account, err = s.moveDaily(ctx, tx, current, top, models.DirectionIncome, upstreamTxID, "scheduled refill")
		return err
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// ResetDailyCredits sets a user's daily pool back to exactly the daily
// quota, crediting a shortfall or forfeiting an excess. Called by the
// external scheduler at the start of each period.
func (s *DefaultService) ResetDailyCredits(ctx context.Context, userID, upstreamTxID string) (*models.Account, error) {
	account, err := s.resetDailyCredits(ctx, userID, upstreamTxID)
	observe("reset", err)
	return account, err
}

func (s *DefaultService) resetDailyCredits(ctx context.Context, userID, upstreamTxID string) (*models.Account, error) {
	if upstreamTxID == "" {
		return nil, fmt.Errorf("%w: upstream transaction id is required", models.ErrValidation)
	}

	var account *models.Account
	err := s.repo.RunLedgerTx(ctx, func(tx repository.LedgerTx) error {
		if err := tx.EnsureNotRecorded(ctx, models.UpstreamScheduler, upstreamTxID); err != nil {
			return err
		}

		current, err := tx.GetOrCreateAccountForUpdate(ctx, models.OwnerUser, userID)
		if err != nil {
			return err
		}

		delta := current.DailyQuota.Sub(current.DailyCredits)
		if delta.IsZero() {
			account = current
			return nil
		}

		direction := models.DirectionIncome
		if delta.Sign() < 0 {
			direction = models.DirectionExpense
		}

		account, err = s.moveDaily(ctx, tx, current, delta.Abs(), direction, upstreamTxID, "daily reset")
		return err
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// moveDaily books a refill-type movement of the daily pool between a user
// account and the platform refill account.
func (s *DefaultService) moveDaily(ctx context.Context, tx repository.LedgerTx, current *models.Account, amount decimal.Decimal, direction models.Direction, upstreamTxID, note string) (*models.Account, error) {
	var (
		user     *models.Account
		platform *models.Account
		userSide models.CreditDebit
		err      error
	)

	if direction == models.DirectionIncome {
		userSide = models.Credit
		user, err = tx.Income(ctx, current.OwnerType, current.OwnerID, models.CreditTypeDaily, amount)
		if err != nil {
			return nil, err
		}
		platform, err = tx.DebitPlatform(ctx, models.PlatformAccountRefill, models.CreditTypeDaily, amount)
		if err != nil {
			return nil, err
		}
	} else {
		userSide = models.Debit
		user, err = tx.DeductPool(ctx, current.OwnerType, current.OwnerID, models.CreditTypeDaily, amount)
		if err != nil {
			return nil, err
		}
		platform, err = tx.Income(ctx, models.OwnerPlatform, models.PlatformAccountRefill, models.CreditTypeDaily, amount)
		if err != nil {
			return nil, err
		}
	}

	event, err := tx.RecordEvent(ctx, &models.Event{
		AccountID:    user.ID,
		EventType:    models.EventRefill,
		UpstreamType: models.UpstreamScheduler,
		UpstreamTxID: upstreamTxID,
		Direction:    direction,
		CreditType:   models.CreditTypeDaily,
		TotalAmount:  amount,
		BalanceAfter: user.TotalBalance(),
		Note:         &note,
	})
	if err != nil {
		return nil, err
	}

	platformSide := models.Debit
	if userSide == models.Debit {
		platformSide = models.Credit
	}
	if err := tx.PostTransaction(ctx, user.ID, event.ID, models.TxRefill, userSide, models.CreditTypeDaily, amount); err != nil {
		return nil, err
	}
	if err := tx.PostTransaction(ctx, platform.ID, event.ID, models.TxRefill, platformSide, models.CreditTypeDaily, amount); err != nil {
		return nil, err
	}

	return user, nil
}

func notePtr(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}
