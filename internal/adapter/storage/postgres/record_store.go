package postgres

import (
	"context"
	"errors"
	"fmt"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RecordStore implements ports.RecordStore on the user_records and
// wallet_transactions tables. Amounts cross the driver as text so NUMERIC
// values never pass through float64.
type RecordStore struct {
	pool Pool
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(pool Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

// Create inserts a fresh record. Any transactions on rec are ignored.
func (s *RecordStore) Create(ctx context.Context, rec *domain.UserRecord) error {
	query := `INSERT INTO user_records (user_id, balance, display_name, avatar_url, version, created_at, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		rec.UserID, rec.Balance.StringFixed(domain.MoneyScale), rec.DisplayName, rec.AvatarURL,
		rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user record: %w", err)
	}
	return nil
}

// Get loads the record and its history, newest first.
func (s *RecordStore) Get(ctx context.Context, userID uuid.UUID) (*domain.UserRecord, error) {
	query := `SELECT user_id, balance::text, display_name, avatar_url, version, created_at, updated_at
		FROM user_records WHERE user_id = $1`

	rec := &domain.UserRecord{}
	var balance string
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&rec.UserID, &balance, &rec.DisplayName, &rec.AvatarURL,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user record: %w", err)
	}
	if rec.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}

	rec.Transactions, err = s.listTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RecordStore) listTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT id, kind, amount::text, item_name, request_id, created_at
		FROM wallet_transactions WHERE user_id = $1 ORDER BY seq DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		var (
			t      domain.Transaction
			kind   string
			amount string
		)
		if err := rows.Scan(&t.ID, &kind, &amount, &t.ItemName, &t.RequestID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		t.Kind = domain.TransactionKind(kind)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet transactions: %w", err)
	}
	return txns, nil
}

// AppendTransaction records txn and sets the balance in one database transaction.
// A repeated request id wins over a stale version so retries stay idempotent.
func (s *RecordStore) AppendTransaction(
	ctx context.Context,
	userID uuid.UUID,
	expectedVersion int64,
	newBalance decimal.Decimal,
	txn domain.Transaction,
) (int64, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	var current int64
	err = dbTx.QueryRow(ctx, `SELECT version FROM user_records WHERE user_id = $1 FOR UPDATE`, userID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ports.ErrRecordNotFound
		}
		return 0, fmt.Errorf("lock user record: %w", err)
	}

	tag, err := dbTx.Exec(ctx,
		`INSERT INTO wallet_transactions (id, user_id, kind, amount, item_name, request_id, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (user_id, request_id) DO NOTHING`,
		txn.ID, userID, string(txn.Kind), txn.Amount.StringFixed(domain.MoneyScale),
		txn.ItemName, txn.RequestID, txn.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert wallet transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ports.ErrDuplicateRequest
	}

	if current != expectedVersion {
		return 0, ports.ErrVersionConflict
	}

	var version int64
	err = dbTx.QueryRow(ctx,
		`UPDATE user_records SET balance = $1::numeric, version = version + 1, updated_at = NOW()
		WHERE user_id = $2 RETURNING version`,
		newBalance.StringFixed(domain.MoneyScale), userID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return version, nil
}

// UpdateProfile overwrites the display fields when the record is still at expectedVersion.
func (s *RecordStore) UpdateProfile(ctx context.Context, userID uuid.UUID, expectedVersion int64, displayName, avatarURL string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`UPDATE user_records SET display_name = $1, avatar_url = $2, version = version + 1, updated_at = NOW()
		WHERE user_id = $3 AND version = $4 RETURNING version`,
		displayName, avatarURL, userID, expectedVersion,
	).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("update profile: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM user_records WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check user record: %w", err)
	}
	if !exists {
		return 0, ports.ErrRecordNotFound
	}
	return 0, ports.ErrVersionConflict
}
