// Package models defines the entities shared across the access engine.
package models

import "time"

// PermissionLevel defines how far a principal may go on a component.
type PermissionLevel string

const (
	LevelRead      PermissionLevel = "read"
	LevelWrite     PermissionLevel = "write"
	LevelAdmin     PermissionLevel = "admin"
	LevelEmergency PermissionLevel = "emergency"
)

// RequestStatus represents the lifecycle state of an access request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
	StatusRevoked  RequestStatus = "revoked"
)

// RuleType identifies a validation rule's semantics.
type RuleType string

const (
	RuleRequired RuleType = "required"
	RuleFormat   RuleType = "format"
	RuleRange    RuleType = "range"
	RuleEnum     RuleType = "enum"
	RuleRegex    RuleType = "regex"
	RuleCustom   RuleType = "custom"
)

// PermissionSet maps a component name to the levels held on it.
type PermissionSet map[string][]PermissionLevel

// Contains reports whether the set holds level on component.
func (ps PermissionSet) Contains(component string, level PermissionLevel) bool {
	for _, l := range ps[component] {
		if l == level {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the set.
func (ps PermissionSet) Clone() PermissionSet {
	if ps == nil {
		return nil
	}
	out := make(PermissionSet, len(ps))
	for comp, levels := range ps {
		out[comp] = append([]PermissionLevel(nil), levels...)
	}
	return out
}

// Union merges other into the set, deduplicating levels per component.
func (ps PermissionSet) Union(other PermissionSet) {
	for comp, levels := range other {
		for _, l := range levels {
			if !ps.Contains(comp, l) {
				ps[comp] = append(ps[comp], l)
			}
		}
	}
}

// PermissionTemplate is a named, reusable permission bundle.
// The name is its immutable identity.
type PermissionTemplate struct {
	Name              string            `json:"name" yaml:"name"`
	Description       string            `json:"description" yaml:"description"`
	Permissions       PermissionSet     `json:"permissions" yaml:"permissions"`
	RequiredApprovals int               `json:"required_approvals" yaml:"required_approvals"`
	ValidityDays      int               `json:"validity_days" yaml:"validity_days"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at" yaml:"created_at"`
}

// Inheritance links a child template to its single parent, with optional
// per-component overrides that beat the parent's values.
type Inheritance struct {
	Child     string        `json:"child" yaml:"child"`
	Parent    string        `json:"parent" yaml:"parent"`
	Overrides PermissionSet `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Approval is one recorded approval action on a request.
type Approval struct {
	ApproverID string    `json:"approver_id" yaml:"approver_id"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Comment    string    `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// AccessRequest tracks a principal's request for a template's permissions.
type AccessRequest struct {
	ID           string        `json:"id" yaml:"id"`
	RequesterID  string        `json:"requester_id" yaml:"requester_id"`
	TemplateName string        `json:"template_name" yaml:"template_name"`
	Status       RequestStatus `json:"status" yaml:"status"`
	Reason       string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at" yaml:"expires_at"`
	Approvals    []Approval    `json:"approvals,omitempty" yaml:"approvals,omitempty"`
}

// ElevatedAccess is a time-boxed grant above a user's base permissions.
type ElevatedAccess struct {
	ID          string        `json:"id" yaml:"id"`
	UserID      string        `json:"user_id" yaml:"user_id"`
	Permissions PermissionSet `json:"permissions" yaml:"permissions"`
	GrantedBy   string        `json:"granted_by" yaml:"granted_by"`
	Reason      string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	GrantedAt   time.Time     `json:"granted_at" yaml:"granted_at"`
	ExpiresAt   time.Time     `json:"expires_at" yaml:"expires_at"`
}

// EmergencyAccess is a break-glass grant with a fixed four-hour window.
type EmergencyAccess struct {
	ID          string        `json:"id" yaml:"id"`
	UserID      string        `json:"user_id" yaml:"user_id"`
	Permissions PermissionSet `json:"permissions" yaml:"permissions"`
	ApprovedBy  []string      `json:"approved_by" yaml:"approved_by"`
	Reason      string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	ActivatedAt time.Time     `json:"activated_at" yaml:"activated_at"`
	ExpiresAt   time.Time     `json:"expires_at" yaml:"expires_at"`
}

// ValidationRule is attached to a template name and evaluated by the
// validation engine. Parameters are rule-type specific.
type ValidationRule struct {
	Type         RuleType       `json:"type" yaml:"type"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ErrorMessage string         `json:"error_message" yaml:"error_message"`
	Severity     string         `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// AccessToken is a bearer credential carrying a frozen permission snapshot.
// The snapshot is not re-derived from live state after issuance.
type AccessToken struct {
	Token       string        `json:"token" yaml:"token"`
	UserID      string        `json:"user_id" yaml:"user_id"`
	Permissions PermissionSet `json:"permissions" yaml:"permissions"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at" yaml:"expires_at"`
	LastUsed    time.Time     `json:"last_used" yaml:"last_used"`
}

// AuditEntry records a mutation or decision for audit purposes.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Result    string    `json:"result"`
	Details   string    `json:"details,omitempty"`
}
