package server

import (
	stderrors "errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/engine"
	"github.com/p-blackswan/access-engine/internal/errors"
	"github.com/p-blackswan/access-engine/internal/health"
	"github.com/p-blackswan/access-engine/internal/models"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	checker  *health.Checker
	tokenTTL time.Duration // applied when a token request carries no TTL
	logger   zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, checker *health.Checker, tokenTTL time.Duration, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine:   eng,
		checker:  checker,
		tokenTTL: tokenTTL,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

// engineError maps engine errors onto problem responses.
func engineError(c *fiber.Ctx, err error) error {
	switch {
	case stderrors.Is(err, errors.ErrTemplateNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"template_not_found", "Not Found", err.Error())
	case stderrors.Is(err, errors.ErrRequestNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"request_not_found", "Not Found", err.Error())
	case stderrors.Is(err, errors.ErrTokenNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"token_not_found", "Not Found", err.Error())
	case stderrors.Is(err, errors.ErrTokenExpired):
		return problemResponse(c, fiber.StatusUnauthorized,
			"token_expired", "Unauthorized", err.Error())
	case stderrors.Is(err, errors.ErrDuplicateTemplate):
		return problemResponse(c, fiber.StatusConflict,
			"duplicate_template", "Conflict", err.Error())
	case stderrors.Is(err, errors.ErrRequestNotPending):
		return problemResponse(c, fiber.StatusConflict,
			"request_not_pending", "Conflict", err.Error())
	case stderrors.Is(err, errors.ErrCircularInheritance):
		return problemResponse(c, fiber.StatusBadRequest,
			"circular_inheritance", "Bad Request", err.Error())
	case stderrors.Is(err, errors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_input", "Bad Request", err.Error())
	case errors.IsPersist(err):
		return problemResponse(c, fiber.StatusInternalServerError,
			"persistence_failure", "Internal Server Error",
			"Failed to persist the change")
	default:
		return problemResponse(c, fiber.StatusInternalServerError,
			"internal_error", "Internal Server Error", err.Error())
	}
}

// CreateTemplate handles POST /api/v1/templates.
func (h *Handlers) CreateTemplate(c *fiber.Ctx) error {
	var req CreateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Name == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_name", "Bad Request",
			"Template name is required")
	}

	tpl := &models.PermissionTemplate{
		Name:              req.Name,
		Description:       req.Description,
		Permissions:       req.Permissions,
		RequiredApprovals: req.RequiredApprovals,
		ValidityDays:      req.ValidityDays,
		Metadata:          req.Metadata,
	}
	if err := h.engine.CreateTemplate(tpl); err != nil {
		return engineError(c, err)
	}

	created, err := h.engine.GetTemplate(req.Name)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(TemplateResponse{Template: created})
}

// ListTemplates handles GET /api/v1/templates.
func (h *Handlers) ListTemplates(c *fiber.Ctx) error {
	templates := h.engine.ListTemplates()
	return c.JSON(TemplateListResponse{Templates: templates, Total: len(templates)})
}

// GetTemplate handles GET /api/v1/templates/:name.
func (h *Handlers) GetTemplate(c *fiber.Ctx) error {
	tpl, err := h.engine.GetTemplate(c.Params("name"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(TemplateResponse{Template: tpl})
}

// GetEffectivePermissions handles GET /api/v1/templates/:name/effective.
func (h *Handlers) GetEffectivePermissions(c *fiber.Ctx) error {
	name := c.Params("name")
	perms, err := h.engine.GetInheritedPermissions(name)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(PermissionsResponse{Template: name, Permissions: perms})
}

// SetInheritance handles POST /api/v1/templates/:name/inheritance.
func (h *Handlers) SetInheritance(c *fiber.Ctx) error {
	var req SetInheritanceRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Parent == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_parent", "Bad Request",
			"Parent template name is required")
	}

	if err := h.engine.SetInheritance(c.Params("name"), req.Parent, req.Overrides); err != nil {
		return engineError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddRule handles POST /api/v1/templates/:name/rules.
func (h *Handlers) AddRule(c *fiber.Ctx) error {
	var rule models.ValidationRule
	if err := c.BodyParser(&rule); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if err := h.engine.AddValidationRule(c.Params("name"), rule); err != nil {
		return engineError(c, err)
	}
	return c.SendStatus(fiber.StatusCreated)
}

// ListRules handles GET /api/v1/templates/:name/rules.
func (h *Handlers) ListRules(c *fiber.Ctx) error {
	return c.JSON(RuleListResponse{Rules: h.engine.ValidationRules(c.Params("name"))})
}

// ValidateTemplate handles POST /api/v1/templates/:name/validate.
func (h *Handlers) ValidateTemplate(c *fiber.Ctx) error {
	errs, err := h.engine.ValidateTemplate(c.Params("name"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(ValidationResponse{Valid: len(errs) == 0, Errors: errs})
}

// CreateRequest handles POST /api/v1/requests.
func (h *Handlers) CreateRequest(c *fiber.Ctx) error {
	var req CreateRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.RequesterID == "" || req.TemplateName == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"requester_id and template_name are required")
	}

	created, err := h.engine.RequestAccess(req.RequesterID, req.TemplateName, req.Reason)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(RequestResponse{Request: created})
}

// GetRequest handles GET /api/v1/requests/:id.
func (h *Handlers) GetRequest(c *fiber.Ctx) error {
	req, err := h.engine.GetRequest(c.Params("id"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(RequestResponse{Request: req})
}

// PendingRequests handles GET /api/v1/requests/pending.
func (h *Handlers) PendingRequests(c *fiber.Ctx) error {
	pending := h.engine.GetPendingRequests()
	if pending == nil {
		pending = []*models.AccessRequest{}
	}
	return c.JSON(RequestListResponse{Requests: pending, Total: len(pending)})
}

// ApproveRequest handles POST /api/v1/requests/:id/approve.
func (h *Handlers) ApproveRequest(c *fiber.Ctx) error {
	var req ApproveRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.ApproverID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_approver", "Bad Request",
			"approver_id is required")
	}

	updated, err := h.engine.ApproveRequest(c.Params("id"), req.ApproverID, req.Comment)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(RequestResponse{Request: updated})
}

// RejectRequest handles POST /api/v1/requests/:id/reject.
func (h *Handlers) RejectRequest(c *fiber.Ctx) error {
	var req RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.ApproverID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_approver", "Bad Request",
			"approver_id is required")
	}

	updated, err := h.engine.RejectRequest(c.Params("id"), req.ApproverID, req.Reason)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(RequestResponse{Request: updated})
}

// GrantElevated handles POST /api/v1/grants/elevated.
func (h *Handlers) GrantElevated(c *fiber.Ctx) error {
	var req ElevatedGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.UserID == "" || len(req.Permissions) == 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"user_id and permissions are required")
	}

	grant, err := h.engine.RequestElevatedAccess(req.UserID, req.Permissions,
		req.GrantedBy, req.Reason, time.Duration(req.DurationHours)*time.Hour)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ElevatedResponse{Grant: grant})
}

// GrantEmergency handles POST /api/v1/grants/emergency.
func (h *Handlers) GrantEmergency(c *fiber.Ctx) error {
	var req EmergencyGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.UserID == "" || len(req.Permissions) == 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"user_id and permissions are required")
	}

	grant, err := h.engine.RequestEmergencyAccess(req.UserID, req.Permissions, req.Reason, req.ApprovedBy)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(EmergencyResponse{Grant: grant})
}

// UserPermissions handles GET /api/v1/users/:id/permissions.
func (h *Handlers) UserPermissions(c *fiber.Ctx) error {
	userID := c.Params("id")
	return c.JSON(PermissionsResponse{
		UserID:      userID,
		Permissions: h.engine.GetUserPermissions(userID),
	})
}

// UserElevated handles GET /api/v1/users/:id/elevated.
func (h *Handlers) UserElevated(c *fiber.Ctx) error {
	grants := h.engine.GetActiveElevatedAccess(c.Params("id"))
	if grants == nil {
		grants = []*models.ElevatedAccess{}
	}
	return c.JSON(ElevatedListResponse{Grants: grants})
}

// UserEmergency handles GET /api/v1/users/:id/emergency.
func (h *Handlers) UserEmergency(c *fiber.Ctx) error {
	grants := h.engine.GetActiveEmergencyAccess(c.Params("id"))
	if grants == nil {
		grants = []*models.EmergencyAccess{}
	}
	return c.JSON(EmergencyListResponse{Grants: grants})
}

// RevokeAccess handles DELETE /api/v1/users/:id/access/:component.
func (h *Handlers) RevokeAccess(c *fiber.Ctx) error {
	if err := h.engine.RevokeAccess(c.Params("id"), c.Params("component")); err != nil {
		return engineError(c, err)
	}
	return c.JSON(RevokedResponse{Revoked: true})
}

// CheckPermission handles GET /api/v1/check.
func (h *Handlers) CheckPermission(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	component := c.Query("component")
	level := c.Query("level")
	if userID == "" || component == "" || level == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_params", "Bad Request",
			"user_id, component and level query parameters are required")
	}

	granted := h.engine.CheckPermission(userID, component, models.PermissionLevel(level))
	return c.JSON(CheckResponse{
		UserID:    userID,
		Component: component,
		Level:     models.PermissionLevel(level),
		Granted:   granted,
	})
}

// GenerateToken handles POST /api/v1/tokens.
func (h *Handlers) GenerateToken(c *fiber.Ctx) error {
	var req GenerateTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.UserID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_user", "Bad Request",
			"user_id is required")
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = h.tokenTTL
	}

	tok, err := h.engine.GenerateAccessToken(req.UserID, ttl)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(TokenResponse{Token: tok})
}

// ValidateToken handles GET /api/v1/tokens/:token.
func (h *Handlers) ValidateToken(c *fiber.Ctx) error {
	tok, err := h.engine.ValidateAccessToken(c.Params("token"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(TokenResponse{Token: tok})
}

// RevokeToken handles DELETE /api/v1/tokens/:token.
func (h *Handlers) RevokeToken(c *fiber.Ctx) error {
	h.engine.RevokeAccessToken(c.Params("token"))
	return c.JSON(RevokedResponse{Revoked: true})
}

// RevokeUserTokens handles DELETE /api/v1/users/:id/tokens.
func (h *Handlers) RevokeUserTokens(c *fiber.Ctx) error {
	n := h.engine.RevokeUserTokens(c.Params("id"))
	return c.JSON(RevokedResponse{Revoked: true, Count: n})
}

// AuditTrail handles GET /api/v1/audit.
func (h *Handlers) AuditTrail(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	entries := h.engine.AuditTrail(c.Query("user_id"), limit)
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return c.JSON(AuditResponse{Entries: entries})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	for _, s := range results {
		if s == health.StatusDown {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"checks": results,
			})
		}
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}
