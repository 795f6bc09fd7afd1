package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/archive"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
	"github.com/izavyalov-dev/delta-qa/internal/vcs/github"
	"github.com/izavyalov-dev/delta-qa/state"
)

const (
	// MaxWebhookBodyBytes caps accepted webhook bodies.
	MaxWebhookBodyBytes = 5 << 20

	Version = "0.1.0"

	defaultArchiveTimeout = 10 * time.Second
)

// ReportReader looks up stored reports.
type ReportReader interface {
	GetReportByDelivery(ctx context.Context, deliveryID string) (analysis.AnalysisReport, error)
}

// WebhookAuditor keeps a local trail of deliveries.
type WebhookAuditor interface {
	Append(record archive.WebhookRecord) error
}

// WebhookArchiver stores raw deliveries.
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, record archive.WebhookRecord) (string, error)
}

// HandlerConfig wires the HTTP surface.
type HandlerConfig struct {
	Secret      string
	Dispatcher  Dispatcher
	Deliveries  state.DeliveryStore
	DeliveryTTL time.Duration
	Reports     ReportReader
	Auditor     WebhookAuditor
	Archiver    WebhookArchiver
	// ArchiveTimeout bounds one background archive upload.
	ArchiveTimeout time.Duration
	Metrics        *observability.Metrics
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
	Now            func() time.Time
}

type webhookHandler struct {
	cfg    HandlerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewHTTPHandler wires the webhook endpoint, health check, metrics and report lookup.
func NewHTTPHandler(cfg HandlerConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("orchestrator.http")
	}
	if cfg.Deliveries == nil {
		cfg.Deliveries = state.NewMemoryDeliveries()
	}
	if cfg.DeliveryTTL <= 0 {
		cfg.DeliveryTTL = state.DefaultDeliveryTTL
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = defaultArchiveTimeout
	}
	h := &webhookHandler{cfg: cfg, logger: cfg.Logger, now: cfg.Now}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/github", h.handleWebhook)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
	})
	mux.HandleFunc("GET /api/v1/reports/{delivery_id}", h.handleReport)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	return mux
}

func (h *webhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get(github.HeaderEvent)
	deliveryID := r.Header.Get(github.HeaderDelivery)
	logger := observability.WithDelivery(h.logger, deliveryID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.cfg.Metrics.IncWebhook(eventType, "too_large")
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("payload too large"))
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("unable to read body"))
		return
	}

	record := archive.WebhookRecord{
		Timestamp:  h.now(),
		DeliveryID: deliveryID,
		EventType:  eventType,
	}

	if !github.VerifySignature(body, r.Header.Get(github.HeaderSignature), h.cfg.Secret) {
		logger.Warn("webhook signature rejected", "event", "webhook_signature_invalid", "event_type", eventType, "remote_addr", r.RemoteAddr)
		h.cfg.Metrics.IncWebhook(eventType, "invalid_signature")
		record.Status = "rejected"
		h.audit(record)
		writeError(w, http.StatusUnauthorized, errors.New("invalid signature"))
		return
	}
	record.SignatureValid = true

	switch eventType {
	case github.EventPing:
		h.cfg.Metrics.IncWebhook(eventType, "pong")
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case github.EventPush:
		h.handlePush(w, r, body, record, logger)
		return
	case github.EventPullRequest:
	default:
		h.cfg.Metrics.IncWebhook(eventType, "ignored")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "event": eventType})
		return
	}

	event, err := github.ParsePullRequestEvent(body)
	if err != nil {
		if github.IsValidationError(err) {
			logger.Warn("webhook payload invalid", "event", "webhook_payload_invalid", "error", err)
			h.cfg.Metrics.IncWebhook(eventType, "invalid_payload")
			record.Status = "invalid"
			h.audit(record)
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record.Action = event.Action
	record.Repository = event.RepositoryFullName
	record.PRNumber = event.PRNumber
	logger = observability.WithPR(logger, event.RepositoryFullName, event.PRNumber)
	logger.Info("webhook received", "event", "webhook_received", "event_type", eventType, "action", event.Action)
	h.cfg.Metrics.IncPR(event.RepositoryFullName, event.Action, event.Merged)

	if !event.Actionable() {
		h.cfg.Metrics.IncWebhook(eventType, "ignored")
		record.Status = "ignored"
		h.audit(record)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ignored",
			"action":    event.Action,
			"pr_number": event.PRNumber,
		})
		return
	}

	if deliveryID == "" {
		deliveryID = event.EventKey()
		record.DeliveryID = deliveryID
	}
	received := h.now()
	inserted, err := h.cfg.Deliveries.RecordDelivery(r.Context(), state.Delivery{
		DeliveryID: deliveryID,
		EventKey:   event.EventKey(),
		EventType:  eventType,
		Repository: event.RepositoryFullName,
		PRNumber:   event.PRNumber,
		Action:     event.Action,
		ReceivedAt: received,
		ExpiresAt:  received.Add(h.cfg.DeliveryTTL),
	})
	if err != nil {
		logger.Error("delivery record failed", "event", "delivery_record_failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("unable to record delivery"))
		return
	}
	if !inserted {
		logger.Info("duplicate delivery", "event", "webhook_duplicate")
		h.cfg.Metrics.IncWebhook(eventType, "duplicate")
		record.Status = "duplicate"
		h.audit(record)
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "delivery_id": deliveryID})
		return
	}

	record.Payload = json.RawMessage(body)
	h.archiveDelivery(r.Context(), record, logger)

	if _, err := h.cfg.Dispatcher.Dispatch(r.Context(), Job{
		DeliveryID: deliveryID,
		EventType:  eventType,
		Event:      event,
		ReceivedAt: received,
	}); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrDispatcherClosed) {
			status = http.StatusServiceUnavailable
		}
		logger.Error("dispatch failed", "event", "dispatch_failed", "error", err)
		if forgetErr := h.cfg.Deliveries.ForgetDelivery(context.WithoutCancel(r.Context()), deliveryID); forgetErr != nil {
			logger.Error("delivery release failed", "event", "delivery_release_failed", "error", forgetErr)
		}
		h.cfg.Metrics.IncWebhook(eventType, "dispatch_failed")
		record.Status = "dispatch_failed"
		h.audit(record)
		writeError(w, status, errors.New("analysis queue unavailable"))
		return
	}

	h.cfg.Metrics.IncWebhook(eventType, "processing")
	record.Status = "processing"
	h.audit(record)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "processing",
		"message":     "Pull request analysis started",
		"pr_number":   event.PRNumber,
		"action":      event.Action,
		"delivery_id": deliveryID,
	})
}

func (h *webhookHandler) handlePush(w http.ResponseWriter, r *http.Request, body []byte, record archive.WebhookRecord, logger *slog.Logger) {
	push, err := github.ParsePushEvent(body)
	if err != nil {
		h.cfg.Metrics.IncWebhook(github.EventPush, "invalid_payload")
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	record.Repository = push.RepositoryFullName
	if !strings.HasPrefix(push.Ref, "refs/heads/") {
		h.cfg.Metrics.IncWebhook(github.EventPush, "ignored")
		record.Status = "ignored"
		h.audit(record)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "message": "Ref '" + push.Ref + "' is not a branch"})
		return
	}
	branch := strings.TrimPrefix(push.Ref, "refs/heads/")
	logger.Info("push received", "event", "push_received", "repository", push.RepositoryFullName, "branch", branch, "after", push.After)
	h.cfg.Metrics.IncWebhook(github.EventPush, "accepted")
	record.Status = "accepted"
	h.audit(record)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "message": "Push received", "branch": branch})
}

func (h *webhookHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Reports == nil {
		writeError(w, http.StatusNotFound, errors.New("report storage not configured"))
		return
	}
	deliveryID := r.PathValue("delivery_id")
	report, err := h.cfg.Reports.GetReportByDelivery(r.Context(), deliveryID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("report not found"))
			return
		}
		h.logger.Error("report lookup failed", "event", "report_lookup_failed", "delivery_id", deliveryID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("report lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *webhookHandler) audit(record archive.WebhookRecord) {
	if h.cfg.Auditor == nil {
		return
	}
	if err := h.cfg.Auditor.Append(record); err != nil {
		h.logger.Error("webhook audit failed", "event", "webhook_audit_failed", "delivery_id", record.DeliveryID, "error", err)
	}
}

// archiveDelivery uploads the raw delivery in the background so the
// acknowledgement never waits on object storage.
func (h *webhookHandler) archiveDelivery(ctx context.Context, record archive.WebhookRecord, logger *slog.Logger) {
	if h.cfg.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.ArchiveTimeout)
	go func() {
		defer cancel()
		if _, err := h.cfg.Archiver.ArchiveWebhook(ctx, record); err != nil {
			logger.Error("webhook archive failed", "event", "webhook_archive_failed", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
