package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/salespulse/salespulse/internal/audit"
	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/shared"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 50
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler menangani permintaan audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	guard   rbac.Checker
	now     func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service TimelineService, guard rbac.Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		guard:   guard,
		now:     time.Now,
	}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	if err := h.authorize(r.Context(), shared.PermViewAudit); err != nil {
		h.respondAuthError(w, err)
		return
	}

	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	now := h.now().UTC()
	q := r.URL.Query()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format("2006-01-02")
	}
	toTime, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return audit.TimelineFilters{}, filterError("to")
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toTime.Add(-defaultDateRange).Format("2006-01-02")
	}
	fromTime, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return audit.TimelineFilters{}, filterError("from")
	}
	if fromTime.After(toTime) || toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, filterError("range")
	}

	page := 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, filterError("page")
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, filterError("page_size")
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		pageSize = parsed
	}
	var actorID int64
	if v := strings.TrimSpace(q.Get("actor")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, filterError("actor")
		}
		actorID = parsed
	}

	return audit.TimelineFilters{
		From:     fromTime,
		To:       toTime,
		ActorID:  actorID,
		Entity:   strings.TrimSpace(q.Get("entity")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (h *Handler) authorize(ctx context.Context, perm string) error {
	if h.guard == nil {
		return errors.New("audit: rbac not configured")
	}
	userID, ok := shared.UserIDFromContext(ctx)
	if !ok {
		return httpx.ErrUnauthorized
	}
	return h.guard.Check(ctx, userID, rbac.RequirePermission(perm))
}

func (h *Handler) respondAuthError(w http.ResponseWriter, err error) {
	if rbac.IsDenied(err) || errors.Is(err, httpx.ErrUnauthorized) {
		httpx.RespondError(w, err)
		return
	}
	h.handleServerError(w, "authorize", err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	if h.logger != nil {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func filterError(field string) error {
	return &filterFieldError{field: field}
}

type filterFieldError struct {
	field string
}

func (e *filterFieldError) Error() string {
	return "invalid filter " + e.field
}

func (e *filterFieldError) Unwrap() error {
	return httpx.ErrValidation
}
