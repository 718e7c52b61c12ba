package repository

import (
	"context"
	"fmt"

	"payment_verifier/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLogLimit = 50

// TransactionLogRepository is the error ledger: one row per failed verification.
type TransactionLogRepository interface {
	InsertErrorLog(ctx context.Context, txHash, message string) error
	ListByTxHash(ctx context.Context, txHash string, limit int) ([]types.TransactionLog, error)
}

type transactionLogRepository struct {
	db     DB
	logger *zap.Logger
}

func NewTransactionLogRepository(db DB, logger *zap.Logger) TransactionLogRepository {
	return &transactionLogRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionLogRepository) InsertErrorLog(ctx context.Context, txHash, message string) error {
	query := `INSERT INTO transactions (id, tx_hash, result) VALUES ($1, $2, $3)`

	id := uuid.New()
	if _, err := r.db.Exec(ctx, query, id.String(), txHash, message); err != nil {
		r.logger.Error("failed to log transaction error", zap.String("tx_hash", txHash), zap.Error(err))
		return fmt.Errorf("failed to insert transaction log: %w", err)
	}

	r.logger.Info("transaction error logged", zap.String("tx_hash", txHash), zap.String("id", id.String()))
	return nil
}

func (r *transactionLogRepository) ListByTxHash(ctx context.Context, txHash string, limit int) ([]types.TransactionLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}

	query := `
		SELECT id::text, tx_hash, result, created_at
		FROM transactions
		WHERE tx_hash = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, txHash, limit)
	if err != nil {
		r.logger.Error("failed to list transaction logs", zap.String("tx_hash", txHash), zap.Error(err))
		return nil, fmt.Errorf("failed to list transaction logs: %w", err)
	}
	defer rows.Close()

	logs := make([]types.TransactionLog, 0)
	for rows.Next() {
		var entry types.TransactionLog
		if err := rows.Scan(&entry.ID, &entry.TxHash, &entry.Result, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction log: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transaction logs: %w", err)
	}
	return logs, nil
}
