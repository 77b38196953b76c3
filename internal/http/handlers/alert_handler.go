// Alert rule HTTP handlers.
//
// This file exposes REST endpoints for alert rules:
//   - POST   /alerts                  (create, Idempotency-Key aware)
//   - GET    /alerts                  (list, paginated, ETag support)
//   - GET    /alerts/{id}             (read)
//   - PATCH  /alerts/{id}             (partial update)
//   - DELETE /alerts/{id}             (archive)
//   - GET    /alerts/{id}/deliveries  (delivery audit trail)
//   - POST   /alerts/preview          (compile and match without saving)
//   - GET    /alerts/channels         (channel types allowed for the caller's plan)
//   - POST   /alerts/evaluate         (run one evaluation pass; scheduler token)
//
// Handlers are transport-thin: they bind input, resolve the caller from the
// auth middleware, call the services and translate results into HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/http/middleware"
	"github.com/tbourn/go-alerts-backend/internal/repo"
	"github.com/tbourn/go-alerts-backend/internal/services"
	"github.com/tbourn/go-alerts-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RuleService is the rule lifecycle API consumed by the handlers.
// Implementations must be safe for concurrent use.
type RuleService interface {
	Create(ctx context.Context, owner services.Owner, in services.RuleInput) (*domain.AlertRule, error)
	Update(ctx context.Context, owner services.Owner, id string, in services.RuleInput) (*domain.AlertRule, error)
	Archive(ctx context.Context, owner services.Owner, id string) error
	Get(ctx context.Context, owner services.Owner, id string) (*domain.AlertRule, error)
	List(ctx context.Context, owner services.Owner, includeArchived bool, page, pageSize int) ([]domain.AlertRule, int64, error)
	ListStats(ctx context.Context, owner services.Owner) (int64, *time.Time, error)
	Deliveries(ctx context.Context, owner services.Owner, id string, limit int) ([]domain.AlertDelivery, error)
	DeliveryStats(ctx context.Context, owner services.Owner, id string) (int64, *time.Time, error)
	Preview(ctx context.Context, owner services.Owner, trigger map[string]any, windowMinutes *int) (*services.Preview, error)
	AllowedChannels(owner services.Owner) []string
}

// Evaluator runs one evaluation pass over due rules.
type Evaluator interface {
	RunOnce(ctx context.Context) (*services.EvaluationReport, error)
}

// IdempotencyRecorder remembers which resource a keyed create produced.
type IdempotencyRecorder interface {
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error
}

//
// Handler wiring
//

// AlertHandlers groups the alert rule endpoints.
type AlertHandlers struct {
	rules RuleService
	eval  Evaluator
	idem  IdempotencyRecorder
}

// NewAlertHandlers binds the handlers to their services. eval and idem may
// be nil: evaluation then answers 503 and keys are not recorded.
func NewAlertHandlers(rules RuleService, eval Evaluator, idem IdempotencyRecorder) *AlertHandlers {
	return &AlertHandlers{rules: rules, eval: eval, idem: idem}
}

//
// DTOs
//

// CreateAlertRequest is the JSON payload for creating an alert rule.
type CreateAlertRequest struct {
	Name        string  `json:"name" example:"Samsung buybacks"`
	Description *string `json:"description,omitempty"`
	// Trigger holds structured filters and/or a DSL query under "dsl".
	Trigger         map[string]any         `json:"trigger" swaggertype:"object"`
	Channels        []domain.ChannelConfig `json:"channels"`
	MessageTemplate *string                `json:"message_template,omitempty"`

	EvaluationIntervalMinutes *int `json:"evaluation_interval_minutes,omitempty" example:"60"`
	WindowMinutes             *int `json:"window_minutes,omitempty" example:"120"`
	CooldownMinutes           *int `json:"cooldown_minutes,omitempty" example:"120"`
	MaxTriggersPerDay         *int `json:"max_triggers_per_day,omitempty" example:"5"`
}

// UpdateAlertRequest is the JSON payload for patching an alert rule.
// Omitted fields are left unchanged.
type UpdateAlertRequest struct {
	Name            *string                `json:"name,omitempty"`
	Description     *string                `json:"description,omitempty"`
	Trigger         map[string]any         `json:"trigger,omitempty" swaggertype:"object"`
	Channels        []domain.ChannelConfig `json:"channels,omitempty"`
	MessageTemplate *string                `json:"message_template,omitempty"`
	// Status may be "active" or "paused".
	Status *string `json:"status,omitempty" example:"paused"`

	EvaluationIntervalMinutes *int `json:"evaluation_interval_minutes,omitempty"`
	WindowMinutes             *int `json:"window_minutes,omitempty"`
	CooldownMinutes           *int `json:"cooldown_minutes,omitempty"`
	MaxTriggersPerDay         *int `json:"max_triggers_per_day,omitempty"`
}

// PreviewRequest is the JSON payload for a trigger preview.
type PreviewRequest struct {
	Trigger       map[string]any `json:"trigger" swaggertype:"object"`
	WindowMinutes *int           `json:"window_minutes,omitempty" example:"60"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListAlertsResponse wraps a page of rules and pagination information.
type ListAlertsResponse struct {
	Alerts     []domain.AlertRule `json:"alerts"`
	Pagination Pagination         `json:"pagination"`
}

// DeliveriesResponse lists the newest delivery rows of a rule.
type DeliveriesResponse struct {
	Deliveries []domain.AlertDelivery `json:"deliveries"`
}

// ChannelsResponse lists the channel types the caller may configure.
type ChannelsResponse struct {
	PlanTier string   `json:"plan_tier" example:"free"`
	Channels []string `json:"channels"`
}

//
// Helpers
//

func ownerOf(c *gin.Context) (services.Owner, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok || (p.UserID == "" && p.OrgID == "") {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "caller identity required")
		return services.Owner{}, false
	}
	return services.Owner{UserID: p.UserID, OrgID: p.OrgID, PlanTier: p.PlanTier}, true
}

func ruleID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "alert id must be a UUID")
		return "", false
	}
	return id, true
}

func (r CreateAlertRequest) input() services.RuleInput {
	name := r.Name
	return services.RuleInput{
		Name:                      &name,
		Description:               r.Description,
		Trigger:                   r.Trigger,
		Channels:                  r.Channels,
		MessageTemplate:           r.MessageTemplate,
		EvaluationIntervalMinutes: r.EvaluationIntervalMinutes,
		WindowMinutes:             r.WindowMinutes,
		CooldownMinutes:           r.CooldownMinutes,
		MaxTriggersPerDay:         r.MaxTriggersPerDay,
	}
}

func (r UpdateAlertRequest) input() services.RuleInput {
	return services.RuleInput{
		Name:                      r.Name,
		Description:               r.Description,
		Trigger:                   r.Trigger,
		Channels:                  r.Channels,
		MessageTemplate:           r.MessageTemplate,
		Status:                    r.Status,
		EvaluationIntervalMinutes: r.EvaluationIntervalMinutes,
		WindowMinutes:             r.WindowMinutes,
		CooldownMinutes:           r.CooldownMinutes,
		MaxTriggersPerDay:         r.MaxTriggersPerDay,
	}
}

//
// Handlers
//

// CreateAlert godoc
// @ID          createAlert
// @Summary     Create an alert rule
// @Description Validates the rule against the caller's plan (quota, active-rule ceiling, channel entitlement) and stores it. Replays with the same Idempotency-Key return the original rule with 200.
// @Tags        Alerts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Idempotency key"  example(create-1f3c)
// @Param       body             body    handlers.CreateAlertRequest  true  "Rule payload"
//
// @Success     201  {object}  domain.AlertRule
// @Success     200  {object}  domain.AlertRule  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     402  {object}  handlers.ErrorResponse  "Quota exceeded or rule limit reached"
// @Failure     403  {object}  handlers.ErrorResponse  "Channel not allowed on plan"
// @Failure     422  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /alerts [post]
func (h *AlertHandlers) CreateAlert(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	ctx := c.Request.Context()

	if id, replay := middleware.ReplayResourceID(c); replay {
		rule, err := h.rules.Get(ctx, owner, id)
		if err == nil {
			c.Header("Idempotent-Replayed", "true")
			ok(c, http.StatusOK, rule)
			return
		}
		if !errors.Is(err, services.ErrRuleNotFound) {
			failService(c, err, ErrCodeCreateFailed)
			return
		}
		// The rule is gone; fall through and create it again.
	}

	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rule, err := h.rules.Create(ctx, owner, req.input())
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.idem != nil {
		uid := owner.UserID
		if uid == "" {
			uid = "org:" + owner.OrgID
		}
		err := h.idem.Remember(ctx, uid, middleware.IdempotencyScope(c), key, rule.ID, http.StatusCreated)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("rule_id", rule.ID).Msg("idempotency record not saved")
		}
	}
	ok(c, http.StatusCreated, rule)
}

// ListAlerts godoc
// @ID          listAlerts
// @Summary     List alert rules (paginated)
// @Description Returns a page of the caller's rules, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Alerts
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match     header  string  false  "Return 304 if ETag matches"
// @Param       page              query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size         query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       include_archived  query   bool    false  "Include archived rules"
//
// @Success     200  {object}  handlers.ListAlertsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /alerts [get]
func (h *AlertHandlers) ListAlerts(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"), utils.PageBounds{DefaultSize: 20, MaxSize: 100})
	includeArchived, _ := strconv.ParseBool(c.Query("include_archived"))

	// ETag pre-check (best effort).
	if count, latest, err := h.rules.ListStats(ctx, owner); err == nil {
		scope := owner.UserID + "/" + owner.OrgID + "/" + strconv.FormatBool(includeArchived) +
			"/" + strconv.Itoa(page) + "/" + strconv.Itoa(pageSize)
		if notModified(c, weakETag("alerts", scope, count, latest)) {
			return
		}
	}

	items, total, err := h.rules.List(ctx, owner, includeArchived, page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListAlertsResponse{
		Alerts: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetAlert godoc
// @ID          getAlert
// @Summary     Get an alert rule
// @Tags        Alerts
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Rule ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.AlertRule
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Rule not found"
// @Router      /alerts/{id} [get]
func (h *AlertHandlers) GetAlert(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	id, okID := ruleID(c)
	if !okID {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), owner, id)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, rule)
}

// UpdateAlert godoc
// @ID          updateAlert
// @Summary     Update an alert rule
// @Description Applies a partial update. Changing the trigger or window recompiles the rule's derived filters; changing channels re-validates them.
// @Tags        Alerts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string  true  "Rule ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateAlertRequest  true  "Fields to change"
// @Success     200  {object}  domain.AlertRule
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Channel not allowed on plan"
// @Failure     404  {object}  handlers.ErrorResponse  "Rule not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Rule archived"
// @Failure     422  {object}  handlers.ErrorResponse  "Validation failed"
// @Router      /alerts/{id} [patch]
func (h *AlertHandlers) UpdateAlert(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	id, okID := ruleID(c)
	if !okID {
		return
	}
	var req UpdateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	rule, err := h.rules.Update(c.Request.Context(), owner, id, req.input())
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, rule)
}

// ArchiveAlert godoc
// @ID          archiveAlert
// @Summary     Archive an alert rule
// @Description Soft-deletes the rule. Archived rules are never evaluated again. Archiving twice is a no-op.
// @Tags        Alerts
// @Security    BearerAuth
// @Param       id   path  string  true  "Rule ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Rule not found"
// @Router      /alerts/{id} [delete]
func (h *AlertHandlers) ArchiveAlert(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	id, okID := ruleID(c)
	if !okID {
		return
	}
	if err := h.rules.Archive(c.Request.Context(), owner, id); err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// ListDeliveries godoc
// @ID          listAlertDeliveries
// @Summary     List delivery attempts of a rule
// @Description Returns the newest delivery audit rows, one per channel per trigger. Supports weak ETag.
// @Tags        Alerts
// @Produce     json
// @Security    BearerAuth
// @Param       id     path   string  true   "Rule ID (UUID)"  format(uuid)
// @Param       limit  query  int     false  "Max rows"  minimum(1) maximum(200) default(50)
// @Success     200  {object}  handlers.DeliveriesResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse  "Rule not found"
// @Router      /alerts/{id}/deliveries [get]
func (h *AlertHandlers) ListDeliveries(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	id, okID := ruleID(c)
	if !okID {
		return
	}
	ctx := c.Request.Context()
	limit := utils.AtoiDefault(c.Query("limit"), 50)

	count, latest, err := h.rules.DeliveryStats(ctx, owner, id)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	if notModified(c, weakETag("deliveries", id+"/"+strconv.Itoa(limit), count, latest)) {
		return
	}

	rows, err := h.rules.Deliveries(ctx, owner, id, limit)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	if rows == nil {
		rows = []domain.AlertDelivery{}
	}
	ok(c, http.StatusOK, DeliveriesResponse{Deliveries: rows})
}

// PreviewAlert godoc
// @ID          previewAlert
// @Summary     Preview a trigger
// @Description Compiles the trigger and returns the plan, its signature and the events it would match now. Nothing is stored.
// @Tags        Alerts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.PreviewRequest  true  "Trigger to preview"
// @Success     200  {object}  services.Preview
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Preview quota exceeded"
// @Failure     422  {object}  handlers.ErrorResponse  "Validation failed"
// @Router      /alerts/preview [post]
func (h *AlertHandlers) PreviewAlert(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.rules.Preview(c.Request.Context(), owner, req.Trigger, req.WindowMinutes)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, p)
}

// AllowedChannels godoc
// @ID          allowedChannels
// @Summary     Channel types available to the caller
// @Tags        Alerts
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ChannelsResponse
// @Router      /alerts/channels [get]
func (h *AlertHandlers) AllowedChannels(c *gin.Context) {
	owner, okOwner := ownerOf(c)
	if !okOwner {
		return
	}
	tier := owner.PlanTier
	if tier == "" {
		tier = domain.PlanFree
	}
	ok(c, http.StatusOK, ChannelsResponse{PlanTier: tier, Channels: h.rules.AllowedChannels(owner)})
}

// Evaluate godoc
// @ID          evaluateAlerts
// @Summary     Run one evaluation pass
// @Description Evaluates due rules once and returns the pass report. Meant for an external scheduler; requires X-Scheduler-Token.
// @Tags        Scheduler
// @Produce     json
// @Param       X-Scheduler-Token  header  string  true  "Scheduler secret"
// @Success     200  {object}  services.EvaluationReport
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Pass failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Evaluation not configured"
// @Router      /alerts/evaluate [post]
func (h *AlertHandlers) Evaluate(c *gin.Context) {
	if h.eval == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeEvaluationFailed, "evaluation engine not configured")
		return
	}
	rep, err := h.eval.RunOnce(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeEvaluationFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, rep)
}
