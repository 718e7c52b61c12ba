package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"payment_verifier/internal/service"
	"payment_verifier/types"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

type Handler struct {
	service service.VerificationService
	logger  *zap.Logger
	// асинхронные проверки, запущенные с ?mode=async
	background sync.WaitGroup
}

func NewHandler(service service.VerificationService, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Wait blocks until every verification started in async mode has finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) verify(route verifyRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger.With(zap.String("endpoint", route.path))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			log.Warn("failed to read request body", zap.Error(err))
			writeError(w, log, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		p, errs, err := route.decode(body)
		if err != nil {
			log.Warn("failed to decode request body", zap.Error(err))
			writeError(w, log, http.StatusBadRequest, "Invalid request body", "malformed JSON body")
			return
		}
		if len(errs) > 0 {
			log.Warn("validation errors", zap.Strings("errors", errs))
			writeError(w, log, http.StatusBadRequest, "Invalid request body", errs...)
			return
		}

		req := types.VerificationRequest{
			TxHash:           p.TxHash,
			ExpectedAmount:   p.Amount,
			DestinationField: route.destination,
			CreatedAt:        p.CreatedAt,
			Target:           route.target,
		}
		log = log.With(zap.String("tx_hash", req.TxHash)).With(callerFields(r.Context())...)
		log.Info("verification request received",
			append([]zap.Field{
				zap.String("amount", req.ExpectedAmount.String()),
				zap.String("created_at", req.CreatedAt),
			}, p.Fields...)...)

		if r.URL.Query().Get("mode") == "async" {
			h.verifyAsync(r.Context(), req, log)
			writeJSON(w, log, http.StatusAccepted, response{
				Success: true,
				Message: "Monitoring started for transaction " + req.TxHash,
			})
			return
		}

		result, err := h.service.Verify(r.Context(), req)
		if err != nil {
			h.writeVerificationError(w, log, err)
			return
		}
		if result.Status == service.StatusAlreadyPending {
			writeJSON(w, log, http.StatusOK, response{Success: true, Message: "Transaction is already being monitored"})
			return
		}
		writeJSON(w, log, http.StatusOK, response{Success: true, Message: "Transaction monitored successfully!"})
	}
}

func (h *Handler) verifyAsync(ctx context.Context, req types.VerificationRequest, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		result, err := h.service.Verify(ctx, req)
		if err != nil {
			log.Warn("async verification failed", zap.Error(err))
			return
		}
		log.Info("async verification finished", zap.String("status", string(result.Status)))
	}()
}

func (h *Handler) writeVerificationError(w http.ResponseWriter, log *zap.Logger, err error) {
	if errors.Is(err, service.ErrInvalidRequest) || service.IsRejection(err) {
		writeError(w, log, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, log, http.StatusInternalServerError, "Internal server error")
}

type transactionErrorsResponse struct {
	Success bool                   `json:"success"`
	TxHash  string                 `json:"tx_hash"`
	Entries []types.TransactionLog `json:"entries"`
}

func (h *Handler) transactionErrors(w http.ResponseWriter, r *http.Request) {
	txHash := mux.Vars(r)["tx_hash"]
	log := h.logger.With(zap.String("tx_hash", txHash))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, log, http.StatusBadRequest, "Invalid 'limit' query parameter")
			return
		}
		limit = n
	}

	entries, err := h.service.TransactionErrors(r.Context(), txHash, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, log, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("failed to list transaction errors", zap.Error(err))
		writeError(w, log, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, log, http.StatusOK, transactionErrorsResponse{Success: true, TxHash: txHash, Entries: entries})
}
