package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/application/dto"
	appfraud "redemption-fraud-engine/internal/application/fraud"
	"redemption-fraud-engine/internal/domain/fraud"
)

const maxBodyBytes = 1 << 20

// FraudAnalyzer is the application service behind the fraud endpoints
type FraudAnalyzer interface {
	AnalyzeTransaction(ctx context.Context, tx fraud.Transaction) (*fraud.FraudAnalysisResult, error)
	AnalyzeBatch(ctx context.Context, txs []fraud.Transaction) ([]appfraud.BatchItem, appfraud.BatchSummary, error)
	GetAnalysis(ctx context.Context, analysisID uuid.UUID) (*fraud.FraudAnalysisResult, error)
	ListAnalyses(ctx context.Context, transactionID uuid.UUID) ([]*fraud.FraudAnalysisResult, error)
}

// FraudHandler handles fraud-related HTTP requests
type FraudHandler struct {
	analyzer FraudAnalyzer
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewFraudHandler creates a new fraud handler
func NewFraudHandler(analyzer FraudAnalyzer, validate *validator.Validate, logger *zap.Logger) *FraudHandler {
	return &FraudHandler{
		analyzer: analyzer,
		validate: validate,
		logger:   logger.Named("fraud_handler"),
		now:      time.Now,
	}
}

// AnalyzeTransaction handles POST /api/v1/fraud/analyze.
// Once the request is valid the response is always an analysis result.
func (h *FraudHandler) AnalyzeTransaction(w http.ResponseWriter, r *http.Request) {
	var req dto.AnalyzeTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.analyzer.AnalyzeTransaction(r.Context(), req.ToTransaction(h.now()))
	if err != nil {
		var fatal *fraud.FatalContextError
		if errors.As(err, &fatal) {
			h.logger.Warn("analysis context unavailable",
				zap.String("transaction_id", req.TransactionID.String()),
				zap.Error(err))
		} else {
			h.logger.Error("fraud analysis failed",
				zap.String("transaction_id", req.TransactionID.String()),
				zap.Error(err))
		}
	}
	if result == nil {
		writeError(w, http.StatusInternalServerError, "Fraud analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.NewAnalysisResponse(result))
}

// BatchAnalyze handles POST /api/v1/fraud/analyze/batch
func (h *FraudHandler) BatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var req dto.BatchAnalyzeRequest
	if !h.decode(w, r, &req) {
		return
	}

	now := h.now()
	txs := make([]fraud.Transaction, 0, len(req.Transactions))
	for i := range req.Transactions {
		txs = append(txs, req.Transactions[i].ToTransaction(now))
	}

	items, summary, err := h.analyzer.AnalyzeBatch(r.Context(), txs)
	if err != nil {
		if errors.Is(err, fraud.ErrInvalidTransaction) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("batch analysis failed", zap.Int("size", len(txs)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Batch analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.NewBatchAnalyzeResponse(items, summary))
}

// GetAnalysis handles GET /api/v1/fraud/analyses/{id}
func (h *FraudHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "analysis")
	if !ok {
		return
	}

	result, err := h.analyzer.GetAnalysis(r.Context(), id)
	if err != nil {
		if errors.Is(err, fraud.ErrAnalysisNotFound) {
			writeError(w, http.StatusNotFound, "Analysis not found")
			return
		}
		h.logger.Error("failed to get analysis", zap.String("analysis_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get analysis")
		return
	}

	writeJSON(w, http.StatusOK, dto.NewAnalysisResponse(result))
}

// ListTransactionAnalyses handles GET /api/v1/fraud/transactions/{id}/analyses
func (h *FraudHandler) ListTransactionAnalyses(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "transaction")
	if !ok {
		return
	}

	results, err := h.analyzer.ListAnalyses(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list analyses", zap.String("transaction_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list analyses")
		return
	}

	analyses := make([]dto.AnalysisResponse, 0, len(results))
	for _, res := range results {
		analyses = append(analyses, dto.NewAnalysisResponse(res))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// decode reads and validates a JSON body, writing a 400 when it is unusable
func (h *FraudHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return decodeAndValidate(w, r, h.validate, dst)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "Validation failed",
				"fields": fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		writeError(w, http.StatusBadRequest, what+" ID is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
