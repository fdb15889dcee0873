package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/network"
	"github.com/opensource-finance/harrier/internal/report"
	"github.com/opensource-finance/harrier/internal/repository"
)

// defaultRingLookbackDays is used when a ring query gives no lookback.
const defaultRingLookbackDays = 30

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         *repository.SQLRepository
	chain        *audit.Chain
	cache        domain.Cache
	orchestrator *engine.Orchestrator
	builder      *network.Builder
	reporter     *report.Reporter
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo *repository.SQLRepository, chain *audit.Chain, cache domain.Cache, orchestrator *engine.Orchestrator, builder *network.Builder, reporter *report.Reporter, version string) *Handler {
	return &Handler{
		repo:         repo,
		chain:        chain,
		cache:        cache,
		orchestrator: orchestrator,
		builder:      builder,
		reporter:     reporter,
		version:      version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// RunRequest is the request body for POST /runs.
type RunRequest struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Resume        bool   `json:"resume,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// StartRun handles POST /runs: it triggers one batch evaluation run.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}
	if req.Resume && req.CorrelationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "resume requires correlationId",
		})
		return
	}

	result, err := h.orchestrator.Run(r.Context(), engine.RunOptions{
		CorrelationID: req.CorrelationID,
		Resume:        req.Resume,
		Actor:         req.Actor,
	})
	if err != nil {
		slog.Error("run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "run failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// BuildNetwork handles POST /network/builds: it re-aggregates the
// relationship graph.
func (h *Handler) BuildNetwork(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	result, err := h.builder.Build(r.Context(), req.CorrelationID, req.Actor)
	if err != nil {
		slog.Error("network build failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "network build failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListAlerts handles GET /alerts with rule_id, severity, correlation_id,
// status and limit filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AlertFilter{
		RuleID:        q.Get("rule_id"),
		Severity:      q.Get("severity"),
		CorrelationID: q.Get("correlation_id"),
		Status:        q.Get("status"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.repo.ListAlerts(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetTransaction handles GET /transactions/{id}. A numeric id looks up the
// row id; anything else is treated as an external id.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "id")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	var (
		txn *domain.Transaction
		err error
	)
	if id, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
		txn, err = h.repo.GetTransaction(ctx, id)
	} else {
		txn, err = h.repo.GetTransactionByExternalID(ctx, raw)
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get transaction", "id", raw, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

// GetRingSignal handles GET /accounts/{id}/ring?lookback_days=N.
func (h *Handler) GetRingSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account id must be an integer",
		})
		return
	}

	lookback := defaultRingLookbackDays
	if raw := r.URL.Query().Get("lookback_days"); raw != "" {
		lookback, err = strconv.Atoi(raw)
		if err != nil || lookback <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "lookback_days must be a positive integer",
			})
			return
		}
	}

	signal, err := h.repo.History(h.repo.DB()).RingSignal(ctx, accountID, lookback)
	if err != nil {
		slog.Error("ring signal query failed", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "ring signal query failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, signal)
}

// ListAuditEntries handles GET /audit/entries with correlation_id and
// action filters.
func (h *Handler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AuditFilter{
		CorrelationID: q.Get("correlation_id"),
		Action:        q.Get("action"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		filter.Limit = limit
	}

	entries, err := h.repo.ListAuditEntries(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list audit entries", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list audit entries",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// VerifyChain handles GET /audit/verify: it replays the full hash chain.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	result, err := h.chain.Verify(r.Context(), h.repo.DB())
	if err != nil {
		slog.Error("chain verification failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "chain verification failed",
		})
		return
	}

	status := http.StatusOK
	if !result.Valid {
		// The chain is readable but broken; surface it loudly.
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// ExportRun handles GET /runs/{id}/export: the reproducibility bundle.
func (h *Handler) ExportRun(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "id")
	if correlationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "correlation id is required",
		})
		return
	}

	bundle, err := h.reporter.Reproduce(r.Context(), correlationID, r.URL.Query().Get("actor"))
	if err != nil {
		slog.Error("export failed", "correlation_id", correlationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "export failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// SummarizeRun handles GET /runs/{id}/summary: alert counts by rule and
// severity.
func (h *Handler) SummarizeRun(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "id")
	if correlationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "correlation id is required",
		})
		return
	}

	summary, err := h.reporter.Summarize(r.Context(), correlationID)
	if err != nil {
		slog.Error("summary failed", "correlation_id", correlationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "summary failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
