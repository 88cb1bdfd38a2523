package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/ErlanBelekov/notify-scheduler/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type notificationScheduler interface {
	Schedule(ctx context.Context, in scheduler.ScheduleInput) (domain.Summary, error)
	Cancel(ctx context.Context, id int64) error
	CancelAll(ctx context.Context) (int, error)
	ListPending(ctx context.Context) ([]domain.Summary, error)
}

type NotificationHandler struct {
	sched       notificationScheduler
	defaultZone string
	logger      *slog.Logger
}

// NewNotificationHandler builds the handler. defaultZone is applied to
// wall-clock policies that arrive without a zone.
func NewNotificationHandler(sched notificationScheduler, defaultZone string, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		sched:       sched,
		defaultZone: defaultZone,
		logger:      logger.With("component", "notification_handler"),
	}
}

type repeatRequest struct {
	Kind    domain.RepeatKind `json:"kind"     binding:"required,oneof=fixedInterval daily weekly calendar"`
	EveryMs int64             `json:"every_ms"`
	Hour    int               `json:"hour"     binding:"min=0,max=23"`
	Minute  int               `json:"minute"   binding:"min=0,max=59"`
	Second  int               `json:"second"   binding:"min=0,max=59"`
	Weekday *int              `json:"weekday"  binding:"omitempty,min=0,max=6"`
	Month   int               `json:"month"    binding:"omitempty,min=1,max=12"`
	Day     int               `json:"day"      binding:"omitempty,min=1,max=31"`
	Zone    string            `json:"zone"`
	Match   string            `json:"match"    binding:"omitempty,oneof=time dayOfWeekAndTime dayOfMonthAndTime dateAndTime"`
}

type scheduleRequest struct {
	ID      int64           `json:"id"      binding:"required,gt=0"`
	FireAt  *time.Time      `json:"fire_at"`
	Zone    string          `json:"zone"`
	Tier    string          `json:"tier"    binding:"omitempty,oneof=alarmClock exact exactAllowIdle inexact inexactAllowIdle"`
	Payload json.RawMessage `json:"payload"`
	Repeat  *repeatRequest  `json:"repeat"`
}

type summaryResponse struct {
	ID          int64      `json:"id"`
	Kind        string     `json:"kind"`
	Tier        string     `json:"tier"`
	Zone        string     `json:"zone,omitempty"`
	NextFireAt  time.Time  `json:"next_fire_at"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FireCount   int        `json:"fire_count"`
}

func toSummaryResponse(s domain.Summary) summaryResponse {
	resp := summaryResponse{
		ID:         s.ID,
		Kind:       string(s.Kind),
		Tier:       string(s.Tier),
		Zone:       s.Zone,
		NextFireAt: s.NextFireAt,
		CreatedAt:  s.CreatedAt,
		FireCount:  s.FireCount,
	}
	if !s.LastFiredAt.IsZero() {
		t := s.LastFiredAt
		resp.LastFiredAt = &t
	}
	return resp
}

func (h *NotificationHandler) toInput(req scheduleRequest) scheduler.ScheduleInput {
	in := scheduler.ScheduleInput{
		ID:   req.ID,
		Zone: req.Zone,
		Tier: domain.PrecisionTier(req.Tier),
	}
	if req.FireAt != nil {
		in.FireAt = *req.FireAt
	}
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		in.Payload = []byte(req.Payload)
	}
	if req.Repeat == nil {
		return in
	}

	rp := req.Repeat
	clock := domain.Clock{Hour: rp.Hour, Minute: rp.Minute, Second: rp.Second}
	weekday := time.Sunday
	if rp.Weekday != nil {
		weekday = time.Weekday(*rp.Weekday)
	}

	switch rp.Kind {
	case domain.RepeatFixed:
		in.Repeat = domain.FixedInterval{Every: time.Duration(rp.EveryMs) * time.Millisecond}
	case domain.RepeatDaily:
		in.Repeat = domain.DailyAtTime{Clock: clock}
		in.Zone = h.zoneOr(req.Zone)
	case domain.RepeatWeekly:
		in.Repeat = domain.WeeklyAtDayAndTime{Day: weekday, Clock: clock}
		in.Zone = h.zoneOr(req.Zone)
	case domain.RepeatCalendar:
		match := domain.MatchComponents(rp.Match)
		if match == "" {
			match = domain.MatchTime
		}
		in.Repeat = domain.CalendarClockWithZone{
			Zone:    h.zoneOr(rp.Zone),
			Match:   match,
			Month:   time.Month(rp.Month),
			Day:     rp.Day,
			Weekday: weekday,
			Clock:   clock,
		}
	}
	return in
}

func (h *NotificationHandler) zoneOr(zone string) string {
	if zone != "" {
		return zone
	}
	return h.defaultZone
}

func (h *NotificationHandler) Create(ctx *gin.Context) {
	var req scheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sum, err := h.sched.Schedule(ctx.Request.Context(), h.toInput(req))
	if err != nil {
		h.writeError(ctx, "schedule notification", err)
		return
	}

	ctx.JSON(http.StatusCreated, toSummaryResponse(sum))
}

func (h *NotificationHandler) List(ctx *gin.Context) {
	pending, err := h.sched.ListPending(ctx.Request.Context())
	if err != nil {
		h.writeError(ctx, "list notifications", err)
		return
	}

	items := make([]summaryResponse, len(pending))
	for i, s := range pending {
		items[i] = toSummaryResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{"notifications": items})
}

// Cancel is idempotent: an unknown id still answers 204.
func (h *NotificationHandler) Cancel(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidID})
		return
	}

	if err := h.sched.Cancel(ctx.Request.Context(), id); err != nil {
		h.writeError(ctx, "cancel notification", err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *NotificationHandler) CancelAll(ctx *gin.Context) {
	n, err := h.sched.CancelAll(ctx.Request.Context())
	if err != nil {
		h.writeError(ctx, "cancel all notifications", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"canceled": n})
}

func (h *NotificationHandler) writeError(ctx *gin.Context, op string, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": ve.Reason, "field": ve.Field})
	case errors.Is(err, domain.ErrValidation):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrStorage):
		h.logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": errStorageUnavailable})
	default:
		h.logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
