package repository

import (
	"context"
	"errors"
	"fmt"

	"payment_verifier/types"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var ErrNoRowsUpdated = errors.New("no rows updated")

type StatusRepository interface {
	UpdateStatus(ctx context.Context, target types.UpdateTarget, txHash string) error
}

type statusRepository struct {
	db     DB
	logger *zap.Logger
}

func NewStatusRepository(db DB, logger *zap.Logger) StatusRepository {
	return &statusRepository{
		db:     db,
		logger: logger,
	}
}

func updateStatusQuery(target types.UpdateTarget) string {
	return fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`,
		pgx.Identifier{target.Table()}.Sanitize(),
		pgx.Identifier{target.StatusColumn()}.Sanitize(),
		pgx.Identifier{target.IdentifierColumn()}.Sanitize(),
	)
}

// UpdateStatus выставляет статус строке, найденной по хэшу транзакции.
func (r *statusRepository) UpdateStatus(ctx context.Context, target types.UpdateTarget, txHash string) error {
	if err := target.Validate(); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, updateStatusQuery(target), target.Status, txHash)
	if err != nil {
		r.logger.Error("failed to update status",
			zap.String("target", target.String()),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return fmt.Errorf("failed to update %s: %w", target.Table(), err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("status update matched no rows",
			zap.String("target", target.String()),
			zap.String("tx_hash", txHash))
		return fmt.Errorf("%w: %s", ErrNoRowsUpdated, target)
	}

	r.logger.Info("status updated",
		zap.String("target", target.String()),
		zap.String("tx_hash", txHash),
		zap.Int64("rows", tag.RowsAffected()))
	return nil
}
