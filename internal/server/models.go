// Package server provides the HTTP API for the access engine.
package server

import (
	"github.com/p-blackswan/access-engine/internal/models"
)

// --- Request DTOs ---

// CreateTemplateRequest is the payload for POST /api/v1/templates.
type CreateTemplateRequest struct {
	Name              string               `json:"name"`
	Description       string               `json:"description,omitempty"`
	Permissions       models.PermissionSet `json:"permissions"`
	RequiredApprovals int                  `json:"required_approvals,omitempty"`
	ValidityDays      int                  `json:"validity_days,omitempty"`
	Metadata          map[string]string    `json:"metadata,omitempty"`
}

// SetInheritanceRequest is the payload for POST /api/v1/templates/:name/inheritance.
type SetInheritanceRequest struct {
	Parent    string               `json:"parent"`
	Overrides models.PermissionSet `json:"overrides,omitempty"`
}

// CreateRequestRequest is the payload for POST /api/v1/requests.
type CreateRequestRequest struct {
	RequesterID  string `json:"requester_id"`
	TemplateName string `json:"template_name"`
	Reason       string `json:"reason,omitempty"`
}

// ApproveRequest is the payload for POST /api/v1/requests/:id/approve.
type ApproveRequest struct {
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment,omitempty"`
}

// RejectRequest is the payload for POST /api/v1/requests/:id/reject.
type RejectRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason,omitempty"`
}

// ElevatedGrantRequest is the payload for POST /api/v1/grants/elevated.
type ElevatedGrantRequest struct {
	UserID        string               `json:"user_id"`
	Permissions   models.PermissionSet `json:"permissions"`
	GrantedBy     string               `json:"granted_by"`
	Reason        string               `json:"reason,omitempty"`
	DurationHours int                  `json:"duration_hours,omitempty"`
}

// EmergencyGrantRequest is the payload for POST /api/v1/grants/emergency.
type EmergencyGrantRequest struct {
	UserID      string               `json:"user_id"`
	Permissions models.PermissionSet `json:"permissions"`
	Reason      string               `json:"reason"`
	ApprovedBy  []string             `json:"approved_by"`
}

// GenerateTokenRequest is the payload for POST /api/v1/tokens.
type GenerateTokenRequest struct {
	UserID     string `json:"user_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// --- Response DTOs ---

// TemplateResponse wraps a template.
type TemplateResponse struct {
	Template *models.PermissionTemplate `json:"template"`
}

// TemplateListResponse wraps all templates.
type TemplateListResponse struct {
	Templates []*models.PermissionTemplate `json:"templates"`
	Total     int                          `json:"total"`
}

// PermissionsResponse wraps a resolved permission set.
type PermissionsResponse struct {
	UserID      string               `json:"user_id,omitempty"`
	Template    string               `json:"template,omitempty"`
	Permissions models.PermissionSet `json:"permissions"`
}

// ValidationResponse reports validation results for a template.
type ValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// RuleListResponse wraps the rules attached to a template.
type RuleListResponse struct {
	Rules []models.ValidationRule `json:"rules"`
}

// RequestResponse wraps an access request.
type RequestResponse struct {
	Request *models.AccessRequest `json:"request"`
}

// RequestListResponse wraps a list of access requests.
type RequestListResponse struct {
	Requests []*models.AccessRequest `json:"requests"`
	Total    int                     `json:"total"`
}

// ElevatedResponse wraps an elevated grant.
type ElevatedResponse struct {
	Grant *models.ElevatedAccess `json:"grant"`
}

// ElevatedListResponse wraps a user's elevated grants.
type ElevatedListResponse struct {
	Grants []*models.ElevatedAccess `json:"grants"`
}

// EmergencyResponse wraps an emergency grant.
type EmergencyResponse struct {
	Grant *models.EmergencyAccess `json:"grant"`
}

// EmergencyListResponse wraps a user's emergency grants.
type EmergencyListResponse struct {
	Grants []*models.EmergencyAccess `json:"grants"`
}

// CheckResponse reports a permission decision.
type CheckResponse struct {
	UserID    string                 `json:"user_id"`
	Component string                 `json:"component"`
	Level     models.PermissionLevel `json:"level"`
	Granted   bool                   `json:"granted"`
}

// TokenResponse wraps an access token.
type TokenResponse struct {
	Token *models.AccessToken `json:"token"`
}

// AuditResponse wraps audit trail entries.
type AuditResponse struct {
	Entries []models.AuditEntry `json:"entries"`
}

// RevokedResponse reports a revocation.
type RevokedResponse struct {
	Revoked bool `json:"revoked"`
	Count   int  `json:"count,omitempty"`
}

// ProblemDetail is an RFC 7807 error response.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
