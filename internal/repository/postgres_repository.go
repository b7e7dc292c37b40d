package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"github.com/agentkit-dev/credits-server/internal/models"
)

// QuotaDefaults are the quota settings applied to lazily created user
// accounts. Non-user accounts always start with zero quota.
type QuotaDefaults struct {
	DailyQuota   decimal.Decimal
	RefillAmount decimal.Decimal
}

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// Plain reads, outside any ledger transaction
	GetAccount(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error)
	ListEventsByOwner(ctx context.Context, ownerType models.OwnerType, ownerID string, direction models.Direction, cursor string, limit int) ([]models.Event, string, bool, error)
	GetEventByUpstreamTxID(ctx context.Context, upstreamTxID string) (*models.Event, error)

	// RunLedgerTx runs fn inside a single database transaction. It is the
	// only way to mutate the ledger: every ledger operation either fully
	// commits or fully rolls back.
	RunLedgerTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx exposes the account store and the two journals inside one
// database transaction.
type LedgerTx interface {
	GetOrCreateAccount(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error)
	GetOrCreateAccountForUpdate(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error)

	// Income atomically adds amount to one pool (single column update,
	// never read-modify-write, so concurrent incomes are never lost).
	Income(ctx context.Context, ownerType models.OwnerType, ownerID string, creditType models.CreditType, amount decimal.Decimal) (*models.Account, error)

	// Deduct takes amount from the first pool that can cover it alone,
	// in priority order daily, reward, permanent. Pools are never
	// combined: if no single pool covers the amount the deduction fails
	// with ErrInsufficientCredits even when the pools sum to enough.
	// TODO(product): confirm the no-combining rule is intentional.
	Deduct(ctx context.Context, ownerType models.OwnerType, ownerID string, amount decimal.Decimal) (*models.Account, models.CreditType, error)

	// DeductPool takes amount from one named pool, failing with
	// ErrInsufficientCredits if that pool cannot cover it.
	DeductPool(ctx context.Context, ownerType models.OwnerType, ownerID string, creditType models.CreditType, amount decimal.Decimal) (*models.Account, error)

	// DebitPlatform debits a platform clearing account without a balance
	// check; clearing accounts absorb external value and may go negative.
	DebitPlatform(ctx context.Context, platformID string, creditType models.CreditType, amount decimal.Decimal) (*models.Account, error)

	// UpdateQuota changes the daily quota and/or refill amount of a user
	// account. The refill amount must not exceed the quota afterwards.
	UpdateQuota(ctx context.Context, userID string, dailyQuota, refillAmount *decimal.Decimal) (*models.Account, error)

	// EnsureNotRecorded is the fast-path idempotency check. The unique
	// index on (upstream_type, upstream_tx_id) remains the authoritative
	// guard; two concurrent calls can both pass this check and one of
	// them will then fail on insert with ErrDuplicateTransaction.
	EnsureNotRecorded(ctx context.Context, upstreamType models.UpstreamType, upstreamTxID string) error

	RecordEvent(ctx context.Context, event *models.Event) (*models.Event, error)
	PostTransaction(ctx context.Context, accountID, eventID string, txType models.TxType, creditDebit models.CreditDebit, creditType models.CreditType, amount decimal.Decimal) error
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db       *sqlx.DB
	defaults QuotaDefaults
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB, defaults QuotaDefaults) *PostgresRepository {
	return &PostgresRepository{
		db:       db,
		defaults: defaults,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

func (r *PostgresRepository) GetAccount(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error) {
	query := `SELECT * FROM accounts WHERE owner_type = $1 AND owner_id = $2`

	var account models.Account
	err := r.db.GetContext(ctx, &account, query, ownerType, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", models.ErrAccountNotFound, ownerType, ownerID)
		}
		return nil, err
	}

	return &account, nil
}

func (r *PostgresRepository) GetEventByUpstreamTxID(ctx context.Context, upstreamTxID string) (*models.Event, error) {
	query := `SELECT * FROM events WHERE upstream_tx_id = $1`

	var event models.Event
	err := r.db.GetContext(ctx, &event, query, upstreamTxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: upstream tx %q", models.ErrEventNotFound, upstreamTxID)
		}
		return nil, err
	}

	return &event, nil
}

// ListEventsByOwner returns one page of events for an owner, newest first.
// The cursor is the id of the last event of the previous page; event ids
// are time-sortable, so paging on id matches creation order.
func (r *PostgresRepository) ListEventsByOwner(
	ctx context.Context,
	ownerType models.OwnerType,
	ownerID string,
	direction models.Direction,
	cursor string,
	limit int,
) ([]models.Event, string, bool, error) {
	account, err := r.GetAccount(ctx, ownerType, ownerID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			return []models.Event{}, "", false, nil
		}
		return nil, "", false, err
	}

	query := `SELECT * FROM events WHERE account_id = $1`
	args := []interface{}{account.ID}

	if direction != "" {
		args = append(args, direction)
		query += fmt.Sprintf(` AND direction = $%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		query += fmt.Sprintf(` AND id < $%d`, len(args))
	}

	// Fetch one extra row to detect whether another page exists.
	args = append(args, limit+1)
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	events := []models.Event{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, "", false, err
	}

	hasMore := len(events) > limit
	nextCursor := ""
	if hasMore {
		events = events[:limit]
		nextCursor = events[len(events)-1].ID
	}

	return events, nextCursor, hasMore, nil
}

// RunLedgerTx runs fn inside a single database transaction and translates
// storage-level conflicts into the ledger error taxonomy.
func (r *PostgresRepository) RunLedgerTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	ltx := &ledgerTx{tx: tx, defaults: r.defaults}
	if err := fn(ltx); err != nil {
		tx.Rollback()
		return translateDBErr(err)
	}

	if err := tx.Commit(); err != nil {
		return translateDBErr(err)
	}

	return nil
}

// translateDBErr maps PostgreSQL error codes onto the ledger sentinels. A
// unique violation on the events upstream index is the canonical duplicate
// signal; serialization failures and deadlocks are retryable conflicts.
func translateDBErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", models.ErrDuplicateTransaction, pqErr.Constraint)
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", models.ErrTxConflict, pqErr.Message)
		}
	}
	return err
}

// ledgerTx implements LedgerTx on a *sqlx.Tx.
type ledgerTx struct {
	tx       *sqlx.Tx
	defaults QuotaDefaults
}

func (l *ledgerTx) GetOrCreateAccount(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error) {
	return l.getOrCreateAccount(ctx, ownerType, ownerID, false)
}

func (l *ledgerTx) GetOrCreateAccountForUpdate(ctx context.Context, ownerType models.OwnerType, ownerID string) (*models.Account, error) {
	return l.getOrCreateAccount(ctx, ownerType, ownerID, true)
}

func (l *ledgerTx) getOrCreateAccount(ctx context.Context, ownerType models.OwnerType, ownerID string, forUpdate bool) (*models.Account, error) {
	account, err := l.getAccount(ctx, ownerType, ownerID, forUpdate)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	return l.createAccount(ctx, ownerType, ownerID, forUpdate)
}

func (l *ledgerTx) getAccount(ctx context.Context, ownerType models.OwnerType, ownerID string, forUpdate bool) (*models.Account, error) {
	query := `SELECT * FROM accounts WHERE owner_type = $1 AND owner_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var account models.Account
	err := l.tx.GetContext(ctx, &account, query, ownerType, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Account not found
		}
		return nil, err
	}

	return &account, nil
}

// createAccount lazily creates an account on first reference. User accounts
// start with the default quota and a full daily pool, granted through an
// initial REFILL event against the platform refill account so the grant is
// on the books like any other movement.
func (l *ledgerTx) createAccount(ctx context.Context, ownerType models.OwnerType, ownerID string, forUpdate bool) (*models.Account, error) {
	id := xid.New().String()
	// Platform clearing accounts have fixed ids, same as the owner id.
	if ownerType == models.OwnerPlatform {
		id = ownerID
	}

	quota := decimal.Zero
	refill := decimal.Zero
	initial := decimal.Zero
	if ownerType == models.OwnerUser {
		// only users have a daily quota
		quota = l.defaults.DailyQuota
		refill = l.defaults.RefillAmount
		initial = quota
	}

	now := time.Now().UTC()
	res, err := l.tx.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_type, owner_id, daily_quota, refill_amount,
			daily_credits, reward_credits, credits, income_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $7, $7)
		ON CONFLICT (owner_type, owner_id) DO NOTHING
	`, id, ownerType, ownerID, quota, refill, initial, now)
	if err != nil {
		return nil, err
	}

	account, err := l.getAccount(ctx, ownerType, ownerID, forUpdate)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("failed to create account %s/%s", ownerType, ownerID)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		// Lost the creation race; the winner booked the initial grant.
		return account, nil
	}

	if ownerType == models.OwnerUser && initial.IsPositive() {
		if err := l.bookInitialGrant(ctx, account, initial); err != nil {
			return nil, err
		}
	}

	return account, nil
}

// bookInitialGrant records the first fill of a new user account as a
// double-entry REFILL event against the platform refill account.
func (l *ledgerTx) bookInitialGrant(ctx context.Context, account *models.Account, amount decimal.Decimal) error {
	platform, err := l.DebitPlatform(ctx, models.PlatformAccountRefill, models.CreditTypeDaily, amount)
	if err != nil {
		return err
	}

	note := "initial refill"
	event, err := l.RecordEvent(ctx, &models.Event{
		AccountID:    account.ID,
		EventType:    models.EventRefill,
		UpstreamType: models.UpstreamInitializer,
		UpstreamTxID: account.ID,
		Direction:    models.DirectionIncome,
		CreditType:   models.CreditTypeDaily,
		TotalAmount:  amount,
		BalanceAfter: account.TotalBalance(),
		Note:         &note,
	})
	if err != nil {
		return err
	}

	if err := l.PostTransaction(ctx, account.ID, event.ID, models.TxRefill, models.Credit, models.CreditTypeDaily, amount); err != nil {
		return err
	}
	return l.PostTransaction(ctx, platform.ID, event.ID, models.TxRefill, models.Debit, models.CreditTypeDaily, amount)
}

func (l *ledgerTx) Income(ctx context.Context, ownerType models.OwnerType, ownerID string, creditType models.CreditType, amount decimal.Decimal) (*models.Account, error) {
	// check first, create if not exists
	if _, err := l.GetOrCreateAccount(ctx, ownerType, ownerID); err != nil {
		return nil, err
	}

	// Single atomic column update; the credit type value is a trusted
	// enum that doubles as the column name.
	query := fmt.Sprintf(`
		UPDATE accounts SET %s = %s + $1, income_at = $2, updated_at = $2
		WHERE owner_type = $3 AND owner_id = $4
		RETURNING *
	`, creditType, creditType)

	var account models.Account
	if err := l.tx.GetContext(ctx, &account, query, amount, time.Now().UTC(), ownerType, ownerID); err != nil {
		return nil, err
	}

	return &account, nil
}

func (l *ledgerTx) Deduct(ctx context.Context, ownerType models.OwnerType, ownerID string, amount decimal.Decimal) (*models.Account, models.CreditType, error) {
	// Row lock across the check-then-write so two concurrent deductions
	// cannot both observe a sufficient balance.
	account, err := l.GetOrCreateAccountForUpdate(ctx, ownerType, ownerID)
	if err != nil {
		return nil, "", err
	}

	creditType, ok := pickDeductPool(account, amount)
	if !ok {
		return nil, "", fmt.Errorf("%w: no single pool of %s/%s covers %s",
			models.ErrInsufficientCredits, ownerType, ownerID, amount)
	}

	updated, err := l.deductPool(ctx, ownerType, ownerID, creditType, amount)
	if err != nil {
		return nil, "", err
	}

	return updated, creditType, nil
}

func (l *ledgerTx) DeductPool(ctx context.Context, ownerType models.OwnerType, ownerID string, creditType models.CreditType, amount decimal.Decimal) (*models.Account, error) {
	account, err := l.GetOrCreateAccountForUpdate(ctx, ownerType, ownerID)
	if err != nil {
		return nil, err
	}

	if account.Pool(creditType).LessThan(amount) {
		return nil, fmt.Errorf("%w: %s of %s/%s is %s, need %s",
			models.ErrInsufficientCredits, creditType, ownerType, ownerID,
			account.Pool(creditType), amount)
	}

	return l.deductPool(ctx, ownerType, ownerID, creditType, amount)
}

func (l *ledgerTx) DebitPlatform(ctx context.Context, platformID string, creditType models.CreditType, amount decimal.Decimal) (*models.Account, error) {
	if _, err := l.GetOrCreateAccount(ctx, models.OwnerPlatform, platformID); err != nil {
		return nil, err
	}
	// No balance check: clearing accounts may go negative.
	return l.deductPool(ctx, models.OwnerPlatform, platformID, creditType, amount)
}

// deductPool performs the unchecked column update shared by every
// deduction path. Callers are responsible for balance checks.
func (l *ledgerTx) deductPool(ctx context.Context, ownerType models.OwnerType, ownerID string, creditType models.CreditType, amount decimal.Decimal) (*models.Account, error) {
	query := fmt.Sprintf(`
		UPDATE accounts SET %s = %s - $1, expense_at = $2, updated_at = $2
		WHERE owner_type = $3 AND owner_id = $4
		RETURNING *
	`, creditType, creditType)

	var account models.Account
	if err := l.tx.GetContext(ctx, &account, query, amount, time.Now().UTC(), ownerType, ownerID); err != nil {
		return nil, err
	}

	return &account, nil
}

// pickDeductPool selects the pool that pays for a deduction: the first
// pool, in priority order daily, reward, permanent, whose balance covers
// the whole amount. Pools are never combined.
func pickDeductPool(account *models.Account, amount decimal.Decimal) (models.CreditType, bool) {
	switch {
	case account.DailyCredits.GreaterThanOrEqual(amount):
		return models.CreditTypeDaily, true
	case account.RewardCredits.GreaterThanOrEqual(amount):
		return models.CreditTypeReward, true
	case account.Credits.GreaterThanOrEqual(amount):
		return models.CreditTypePermanent, true
	}
	return "", false
}

func (l *ledgerTx) UpdateQuota(ctx context.Context, userID string, dailyQuota, refillAmount *decimal.Decimal) (*models.Account, error) {
	account, err := l.GetOrCreateAccountForUpdate(ctx, models.OwnerUser, userID)
	if err != nil {
		return nil, err
	}

	newQuota := account.DailyQuota
	newRefill := account.RefillAmount
	if dailyQuota != nil {
		newQuota = *dailyQuota
	}
	if refillAmount != nil {
		newRefill = *refillAmount
	}

	if newRefill.GreaterThan(newQuota) {
		return nil, fmt.Errorf("%w: refill amount %s exceeds daily quota %s",
			models.ErrValidation, newRefill, newQuota)
	}

	var updated models.Account
	err = l.tx.GetContext(ctx, &updated, `
		UPDATE accounts SET daily_quota = $1, refill_amount = $2, updated_at = $3
		WHERE owner_type = $4 AND owner_id = $5
		RETURNING *
	`, newQuota, newRefill, time.Now().UTC(), models.OwnerUser, userID)
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

func (l *ledgerTx) EnsureNotRecorded(ctx context.Context, upstreamType models.UpstreamType, upstreamTxID string) error {
	var exists bool
	err := l.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE upstream_type = $1 AND upstream_tx_id = $2)`,
		upstreamType, upstreamTxID).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		return fmt.Errorf("%w: %s/%s already recorded, do not resubmit",
			models.ErrDuplicateTransaction, upstreamType, upstreamTxID)
	}

	return nil
}

func (l *ledgerTx) RecordEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event.ID == "" {
		event.ID = xid.New().String()
	}
	event.CreatedAt = time.Now().UTC()

	_, err := l.tx.ExecContext(ctx, `
		INSERT INTO events (id, account_id, event_type, upstream_type, upstream_tx_id,
			direction, credit_type, total_amount, balance_after, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.ID, event.AccountID, event.EventType, event.UpstreamType, event.UpstreamTxID,
		event.Direction, event.CreditType, event.TotalAmount, event.BalanceAfter,
		event.Note, event.CreatedAt)
	if err != nil {
		return nil, err
	}

	return event, nil
}

func (l *ledgerTx) PostTransaction(ctx context.Context, accountID, eventID string, txType models.TxType, creditDebit models.CreditDebit, creditType models.CreditType, amount decimal.Decimal) error {
	_, err := l.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, event_id, tx_type, credit_debit,
			credit_type, change_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, xid.New().String(), accountID, eventID, txType, creditDebit, creditType,
		amount, time.Now().UTC())

	return err
}
