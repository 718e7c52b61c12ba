package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment_verifier/internal/messaging"
	"payment_verifier/internal/metrics"
	"payment_verifier/internal/repository"
	"payment_verifier/internal/tracing"
	"payment_verifier/types"

	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type VerificationStatus string

const (
	StatusVerified       VerificationStatus = "verified"
	StatusAlreadyPending VerificationStatus = "already_pending"
)

type VerificationResult struct {
	ID          string
	TxHash      string
	Status      VerificationStatus
	Target      types.UpdateTarget
	Token       string
	Amount      decimal.Decimal
	BlockNumber uint64
}

const (
	defaultStageTimeout = 30 * time.Second
	// запись результата и снятие маркера выполняются и после истечения дедлайна
	persistTimeout = 10 * time.Second
)

type PipelineConfig struct {
	Waiter            WaiterConfig
	TimeDiffThreshold time.Duration
	TokenDecimals     int32
	Tolerance         decimal.Decimal
	// StageTimeout is the budget for everything except the confirmation wait:
	// config reads, the block lookup and log analysis together.
	StageTimeout time.Duration
}

// Pipeline содержит этапы проверки в порядке выполнения.
// Timeout ограничивает весь прогон: MaxWait + GracePeriod + StageTimeout; 0 без ограничения.
type Pipeline struct {
	Builder   ContextBuilder
	Waiter    ConfirmationWaiter
	Validator TimestampValidator
	Analyzer  LogAnalyzer
	Timeout   time.Duration
}

func NewPipeline(reader ChainReader, config repository.ConfigRepository, cfg PipelineConfig, logger *zap.Logger) Pipeline {
	stage := cfg.StageTimeout
	if stage <= 0 {
		stage = defaultStageTimeout
	}
	return Pipeline{
		Builder:   NewContextBuilder(config, logger),
		Waiter:    NewConfirmationWaiter(reader, cfg.Waiter, logger),
		Validator: NewTimestampValidator(reader, cfg.TimeDiffThreshold, logger),
		Analyzer:  NewLogAnalyzer(cfg.TokenDecimals, cfg.Tolerance, logger),
		Timeout:   cfg.Waiter.MaxWait + cfg.Waiter.GracePeriod + stage,
	}
}

type VerificationService interface {
	Verify(ctx context.Context, req types.VerificationRequest) (*VerificationResult, error)
	TransactionErrors(ctx context.Context, txHash string, limit int) ([]types.TransactionLog, error)
}

type verificationService struct {
	pipeline Pipeline
	statuses repository.StatusRepository
	ledger   repository.TransactionLogRepository
	pending  PendingSet
	nats     messaging.NATSClient
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewVerificationService wires the pipeline to the store. nats may be nil.
func NewVerificationService(
	pipeline Pipeline,
	statuses repository.StatusRepository,
	ledger repository.TransactionLogRepository,
	pending PendingSet,
	nats messaging.NATSClient,
	logger *zap.Logger,
) VerificationService {
	return &verificationService{
		pipeline: pipeline,
		statuses: statuses,
		ledger:   ledger,
		pending:  pending,
		nats:     nats,
		tracer:   tracing.Tracer("payment_verifier/service"),
		logger:   logger,
	}
}

func validateRequest(req types.VerificationRequest) error {
	if !types.IsTxHash(req.TxHash) {
		return fmt.Errorf("%w: malformed transaction hash %q", ErrInvalidRequest, req.TxHash)
	}
	if !req.ExpectedAmount.IsPositive() {
		return fmt.Errorf("%w: expected amount must be positive, got %s", ErrInvalidRequest, req.ExpectedAmount)
	}
	if req.DestinationField == "" {
		return fmt.Errorf("%w: destination field is empty", ErrInvalidRequest)
	}
	if err := req.Target.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Verify runs the whole pipeline for one transaction. A hash that is already
// being verified yields StatusAlreadyPending and no error.
func (s *verificationService) Verify(ctx context.Context, req types.VerificationRequest) (*VerificationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// отключение HTTP клиента не прерывает проверку, её ограничивает только Pipeline.Timeout
	base := context.WithoutCancel(ctx)
	target := string(req.Target.Kind)
	log := s.logger.With(zap.String("tx_hash", req.TxHash), zap.String("target", target))

	acquireCtx, cancelAcquire := context.WithTimeout(base, persistTimeout)
	acquired, err := s.pending.TryAcquire(acquireCtx, req.TxHash)
	cancelAcquire()
	if err != nil {
		log.Error("failed to mark transaction pending", zap.Error(err))
		return nil, fmt.Errorf("failed to mark transaction pending: %w", err)
	}
	if !acquired {
		metrics.DuplicateRequests.WithLabelValues(target).Inc()
		log.Info("transaction is already being verified")
		return &VerificationResult{TxHash: req.TxHash, Status: StatusAlreadyPending, Target: req.Target}, nil
	}

	metrics.PendingVerifications.Inc()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(base, persistTimeout)
		defer cancel()
		if err := s.pending.Release(releaseCtx, req.TxHash); err != nil {
			log.Error("failed to release pending marker", zap.Error(err))
		}
		metrics.PendingVerifications.Dec()
	}()

	id := uuid.New().String()
	log = log.With(zap.String("verification_id", id))

	spanCtx, span := s.tracer.Start(base, "verification.verify", trace.WithAttributes(
		attribute.String("verification.id", id),
		attribute.String("verification.target", target),
		attribute.String("tx.hash", req.TxHash),
	))
	defer span.End()

	log.Info("verification started", zap.String("expected_amount", req.ExpectedAmount.String()))
	start := time.Now()

	runCtx, cancelRun := context.WithCancel(spanCtx)
	if s.pipeline.Timeout > 0 {
		runCtx, cancelRun = context.WithTimeout(spanCtx, s.pipeline.Timeout)
	}
	result, err := s.run(runCtx, id, req)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTransactionNotConfirmed) {
		err = fmt.Errorf("%w after %s: %w", ErrVerificationTimeout, s.pipeline.Timeout, err)
	}
	cancelRun()

	persistCtx, cancelPersist := context.WithTimeout(spanCtx, persistTimeout)
	defer cancelPersist()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
		s.fail(persistCtx, id, req, err, log)
		metrics.VerificationLatency.WithLabelValues(target, "failed").Observe(time.Since(start).Seconds())
		return nil, err
	}

	s.complete(persistCtx, id, req, result, log)
	metrics.VerificationLatency.WithLabelValues(target, "verified").Observe(time.Since(start).Seconds())
	return result, nil
}

func (s *verificationService) run(ctx context.Context, id string, req types.VerificationRequest) (*VerificationResult, error) {
	var vc *VerificationContext
	err := s.stage(ctx, "build_context", func(ctx context.Context) error {
		var err error
		vc, err = s.pipeline.Builder.Build(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	var receipt *ethTypes.Receipt
	err = s.stage(ctx, "wait_confirmation", func(ctx context.Context) error {
		var err error
		receipt, err = s.pipeline.Waiter.Wait(ctx, vc.TxHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	if receipt.Status == ethTypes.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %s in block %d", ErrTransactionReverted, vc.TxHash, receipt.BlockNumber.Uint64())
	}

	err = s.stage(ctx, "validate_timestamp", func(ctx context.Context) error {
		return s.pipeline.Validator.Validate(ctx, receipt, vc.OrderCreatedAtMs)
	})
	if err != nil {
		return nil, err
	}

	var match *MatchedTransfer
	err = s.stage(ctx, "analyze_logs", func(ctx context.Context) error {
		var err error
		match, err = s.pipeline.Analyzer.Analyze(receipt.Logs, vc)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &VerificationResult{
		ID:          id,
		TxHash:      req.TxHash,
		Status:      StatusVerified,
		Target:      req.Target,
		Token:       match.Symbol,
		Amount:      match.Amount,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func (s *verificationService) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "verification."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.StageLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Reason(err))
	}
	return err
}

// fail пишет ошибку в журнал транзакций и публикует результат; ошибки записи не повторяются.
func (s *verificationService) fail(ctx context.Context, id string, req types.VerificationRequest, verr error, log *zap.Logger) {
	target := string(req.Target.Kind)
	reason := Reason(verr)
	metrics.VerificationsTotal.WithLabelValues(target, "failed").Inc()
	metrics.VerificationRejections.WithLabelValues(target, reason).Inc()

	if IsRejection(verr) {
		log.Warn("verification rejected", zap.String("reason", reason), zap.Error(verr))
	} else {
		log.Error("verification failed", zap.String("reason", reason), zap.Error(verr))
	}

	if err := s.ledger.InsertErrorLog(ctx, req.TxHash, verr.Error()); err != nil {
		metrics.StoreWriteErrors.WithLabelValues("insert_error_log").Inc()
		log.Error("failed to write transaction error log", zap.Error(err))
	}

	s.notify(ctx, &types.VerificationOutcome{
		VerificationID: id,
		TxHash:         req.TxHash,
		Target:         target,
		Status:         types.OutcomeFailed,
		Error:          verr.Error(),
		FinishedAt:     time.Now().UTC(),
	}, log)
}

// complete применяет обновление статуса. Запись best-effort: при ошибке проверка
// всё равно считается успешной, строку можно обновить повторно по хэшу.
func (s *verificationService) complete(ctx context.Context, id string, req types.VerificationRequest, result *VerificationResult, log *zap.Logger) {
	target := string(req.Target.Kind)

	if err := s.statuses.UpdateStatus(ctx, req.Target, req.TxHash); err != nil {
		metrics.StoreWriteErrors.WithLabelValues("update_status").Inc()
		log.Error("failed to update status after successful verification",
			zap.String("update", req.Target.String()), zap.Error(err))
	}

	metrics.VerificationsTotal.WithLabelValues(target, "verified").Inc()
	log.Info("verification succeeded",
		zap.String("token", result.Token),
		zap.String("amount", result.Amount.String()),
		zap.Uint64("block", result.BlockNumber))

	s.notify(ctx, &types.VerificationOutcome{
		VerificationID: id,
		TxHash:         req.TxHash,
		Target:         target,
		Status:         types.OutcomeVerified,
		Amount:         result.Amount.String(),
		Token:          result.Token,
		BlockNumber:    result.BlockNumber,
		FinishedAt:     time.Now().UTC(),
	}, log)
}

func (s *verificationService) notify(ctx context.Context, outcome *types.VerificationOutcome, log *zap.Logger) {
	if s.nats == nil {
		return
	}
	if err := s.nats.PublishVerificationCompleted(ctx, outcome); err != nil {
		log.Warn("failed to publish verification outcome", zap.Error(err))
	}
}

func (s *verificationService) TransactionErrors(ctx context.Context, txHash string, limit int) ([]types.TransactionLog, error) {
	if !types.IsTxHash(txHash) {
		return nil, fmt.Errorf("%w: malformed transaction hash %q", ErrInvalidRequest, txHash)
	}
	return s.ledger.ListByTxHash(ctx, txHash, limit)
}
