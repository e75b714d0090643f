package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/application/dto"
	"redemption-fraud-engine/internal/domain/fraud"
)

// RuleStore is the rule administration port
type RuleStore interface {
	ListEnabled(ctx context.Context) ([]fraud.FraudRule, error)
	Save(ctx context.Context, rule *fraud.FraudRule) error
	Disable(ctx context.Context, ruleID uuid.UUID) error
}

// RuleCache drops cached rules after an administrative change
type RuleCache interface {
	Invalidate()
}

// RuleHandler handles fraud rule administration
type RuleHandler struct {
	store      RuleStore
	cache      RuleCache
	knownField func(string) bool
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewRuleHandler creates a new rule handler. cache may be nil.
func NewRuleHandler(store RuleStore, cache RuleCache, knownField func(string) bool, validate *validator.Validate, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{
		store:      store,
		cache:      cache,
		knownField: knownField,
		validate:   validate,
		logger:     logger.Named("rule_handler"),
	}
}

// ListRules handles GET /api/v1/fraud/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListEnabled(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}

	out := make([]dto.RuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, dto.NewRuleResponse(rule))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": out,
		"count": len(out),
	})
}

// CreateRule handles POST /api/v1/fraud/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRuleRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	rule, err := req.ToRule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.knownField != nil && !h.knownField(rule.Condition.Field) {
		writeError(w, http.StatusBadRequest, "Unknown rule field: "+rule.Condition.Field)
		return
	}

	if err := h.store.Save(r.Context(), &rule); err != nil {
		h.logger.Error("failed to save rule", zap.String("name", rule.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create rule")
		return
	}
	h.invalidate()

	h.logger.Info("fraud rule created", zap.String("rule_id", rule.ID.String()), zap.String("name", rule.Name))
	writeJSON(w, http.StatusCreated, dto.NewRuleResponse(rule))
}

// DisableRule handles DELETE /api/v1/fraud/rules/{id}. Rules are disabled, never removed.
func (h *RuleHandler) DisableRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "rule")
	if !ok {
		return
	}

	if err := h.store.Disable(r.Context(), id); err != nil {
		if errors.Is(err, fraud.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "Rule not found")
			return
		}
		h.logger.Error("failed to disable rule", zap.String("rule_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to disable rule")
		return
	}
	h.invalidate()

	w.WriteHeader(http.StatusNoContent)
}

func (h *RuleHandler) invalidate() {
	if h.cache != nil {
		h.cache.Invalidate()
	}
}
