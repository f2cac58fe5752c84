// Package engine wires the template store, validation engine, request
// workflow, grant store, and token service behind one facade and keeps their
// state synchronized with the persistence adapter.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/audit"
	"github.com/p-blackswan/access-engine/internal/errors"
	"github.com/p-blackswan/access-engine/internal/grant"
	"github.com/p-blackswan/access-engine/internal/metrics"
	"github.com/p-blackswan/access-engine/internal/models"
	"github.com/p-blackswan/access-engine/internal/persist"
	"github.com/p-blackswan/access-engine/internal/template"
	"github.com/p-blackswan/access-engine/internal/token"
	"github.com/p-blackswan/access-engine/internal/validation"
	"github.com/p-blackswan/access-engine/internal/workflow"
)

// Engine is the facade over all access-control components. Mutations run one
// at a time under mu, including the synchronous save of the affected
// collections. Reads go straight to the component stores and never wait
// behind a mutation's persistence write.
type Engine struct {
	mu sync.Mutex // serializes mutations end to end

	templates  *template.Store
	validation *validation.Engine
	workflow   *workflow.Workflow
	grants     *grant.Store
	tokens     *token.Service
	audit      *audit.Log
	metrics    *metrics.Metrics
	store      persist.Adapter
	logger     zerolog.Logger
}

// New creates an engine and loads all persisted collections. A collection
// that fails to load is logged and treated as empty; the engine still starts.
func New(store persist.Adapter, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	e := &Engine{
		templates:  template.NewStore(logger),
		validation: validation.NewEngine(logger),
		workflow:   workflow.New(logger),
		grants:     grant.NewStore(logger),
		tokens:     token.NewService(logger),
		audit:      audit.NewLog(logger),
		metrics:    m,
		store:      store,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
	e.load()
	return e
}

func (e *Engine) load() {
	templates := make(map[string]*models.PermissionTemplate)
	inheritance := make(map[string]*models.Inheritance)
	requests := make(map[string]*models.AccessRequest)
	elevated := make(map[string]*models.ElevatedAccess)
	emergency := make(map[string]*models.EmergencyAccess)
	rules := make(map[string][]models.ValidationRule)

	for collection, into := range map[string]any{
		persist.CollectionTemplates:   &templates,
		persist.CollectionInheritance: &inheritance,
		persist.CollectionRequests:    &requests,
		persist.CollectionElevated:    &elevated,
		persist.CollectionEmergency:   &emergency,
		persist.CollectionRules:       &rules,
	} {
		if err := e.store.Load(collection, into); err != nil {
			e.metrics.RecordPersistFailure(collection)
			e.logger.Warn().Err(err).Str("collection", collection).Msg("load failed, starting empty")
		}
	}

	e.templates.Restore(templates, inheritance)
	e.workflow.Restore(requests)
	e.grants.Restore(elevated, emergency)
	e.validation.Restore(rules)
	e.updateGauges()

	e.logger.Info().
		Int("templates", e.templates.Count()).
		Int("requests", e.workflow.Count()).
		Int("elevated", e.grants.ElevatedCount()).
		Int("emergency", e.grants.EmergencyCount()).
		Msg("engine state loaded")
}

// save writes one collection and wraps failures so callers can distinguish
// persistence trouble from logic errors.
func (e *Engine) save(collection string, doc any) error {
	if err := e.store.Save(collection, doc); err != nil {
		e.metrics.RecordPersistFailure(collection)
		return errors.NewPersistError(collection, "save", err)
	}
	return nil
}

func (e *Engine) updateGauges() {
	e.metrics.SetGrants("elevated", float64(e.grants.ElevatedCount()))
	e.metrics.SetGrants("emergency", float64(e.grants.EmergencyCount()))
	e.metrics.SetTokens(float64(e.tokens.Count()))
}

func (e *Engine) record(userID, action, resource, result, details string) {
	e.audit.Record(models.AuditEntry{
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Result:   result,
		Details:  details,
	})
}

// CreateTemplate stores a new permission template.
func (e *Engine) CreateTemplate(tpl *models.PermissionTemplate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.templates.Create(tpl); err != nil {
		e.metrics.RecordMutation("create_template", "error")
		return err
	}
	if err := e.save(persist.CollectionTemplates, e.templates.SnapshotTemplates()); err != nil {
		e.metrics.RecordMutation("create_template", "error")
		return err
	}

	e.metrics.RecordMutation("create_template", "success")
	e.record("", audit.ActionTemplateCreated, tpl.Name, "success", "")
	return nil
}

// GetTemplate returns the named template.
func (e *Engine) GetTemplate(name string) (*models.PermissionTemplate, error) {
	return e.templates.Get(name)
}

// ListTemplates returns all templates sorted by name.
func (e *Engine) ListTemplates() []*models.PermissionTemplate {
	return e.templates.List()
}

// SetInheritance links a child template to a parent with optional overrides.
func (e *Engine) SetInheritance(child, parent string, overrides models.PermissionSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.templates.SetInheritance(child, parent, overrides); err != nil {
		e.metrics.RecordMutation("set_inheritance", "error")
		return err
	}
	if err := e.save(persist.CollectionInheritance, e.templates.SnapshotInheritance()); err != nil {
		e.metrics.RecordMutation("set_inheritance", "error")
		return err
	}

	e.metrics.RecordMutation("set_inheritance", "success")
	e.record("", audit.ActionInheritanceSet, child, "success", "parent: "+parent)
	return nil
}

// GetInheritedPermissions resolves the template's effective permission set
// through its parent chain.
func (e *Engine) GetInheritedPermissions(name string) (models.PermissionSet, error) {
	return e.templates.Effective(name)
}

// AddValidationRule attaches a rule to a template name. The template must
// already exist.
func (e *Engine) AddValidationRule(templateName string, rule models.ValidationRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.templates.Get(templateName); err != nil {
		e.metrics.RecordMutation("add_rule", "error")
		return err
	}

	e.validation.AddRule(templateName, rule)
	if err := e.save(persist.CollectionRules, e.validation.Snapshot()); err != nil {
		e.metrics.RecordMutation("add_rule", "error")
		return err
	}

	e.metrics.RecordMutation("add_rule", "success")
	e.record("", audit.ActionRuleAdded, templateName, "success", string(rule.Type))
	return nil
}

// ValidationRules returns the rules attached to a template name.
func (e *Engine) ValidationRules(templateName string) []models.ValidationRule {
	return e.validation.Rules(templateName)
}

// ValidateTemplate evaluates every rule attached to the named template and
// returns one error string per failing rule.
func (e *Engine) ValidateTemplate(name string) ([]string, error) {
	tpl, err := e.templates.Get(name)
	if err != nil {
		return nil, err
	}
	return e.validation.Validate(tpl), nil
}

// RequestAccess opens a pending access request against an existing template.
func (e *Engine) RequestAccess(requesterID, templateName, reason string) (*models.AccessRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.templates.Get(templateName); err != nil {
		e.metrics.RecordMutation("request_access", "error")
		return nil, err
	}

	req := e.workflow.Create(requesterID, templateName, reason)
	if err := e.save(persist.CollectionRequests, e.workflow.Snapshot()); err != nil {
		e.metrics.RecordMutation("request_access", "error")
		return nil, err
	}

	e.metrics.RecordMutation("request_access", "success")
	e.record(requesterID, audit.ActionRequestCreated, req.ID, "success", "template: "+templateName)
	return req, nil
}

// ApproveRequest records an approval. When the template's quorum is reached
// the request flips to approved and the requester receives the template's
// effective permissions, all under the same mutation.
func (e *Engine) ApproveRequest(requestID, approverID, comment string) (*models.AccessRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.workflow.Get(requestID)
	if err != nil {
		e.metrics.RecordMutation("approve_request", "error")
		return nil, err
	}
	tpl, err := e.templates.Get(current.TemplateName)
	if err != nil {
		e.metrics.RecordMutation("approve_request", "error")
		return nil, fmt.Errorf("resolving request template: %w", err)
	}

	req, quorumReached, err := e.workflow.Approve(requestID, approverID, comment, tpl.RequiredApprovals)
	if err != nil {
		e.metrics.RecordMutation("approve_request", "error")
		return nil, err
	}

	if quorumReached {
		effective, err := e.templates.Effective(tpl.Name)
		if err != nil {
			e.metrics.RecordMutation("approve_request", "error")
			return nil, fmt.Errorf("resolving effective permissions: %w", err)
		}
		e.grants.GrantBase(req.RequesterID, effective, tpl.ValidityDays)
	}

	if err := e.save(persist.CollectionRequests, e.workflow.Snapshot()); err != nil {
		e.metrics.RecordMutation("approve_request", "error")
		return nil, err
	}

	e.metrics.RecordMutation("approve_request", "success")
	e.record(approverID, audit.ActionRequestApproved, requestID, "success",
		fmt.Sprintf("approvals: %d/%d", len(req.Approvals), tpl.RequiredApprovals))
	return req, nil
}

// RejectRequest closes a pending request without granting anything.
func (e *Engine) RejectRequest(requestID, approverID, reason string) (*models.AccessRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.workflow.Reject(requestID, approverID, reason)
	if err != nil {
		e.metrics.RecordMutation("reject_request", "error")
		return nil, err
	}
	if err := e.save(persist.CollectionRequests, e.workflow.Snapshot()); err != nil {
		e.metrics.RecordMutation("reject_request", "error")
		return nil, err
	}

	e.metrics.RecordMutation("reject_request", "success")
	e.record(approverID, audit.ActionRequestRejected, requestID, "success", reason)
	return req, nil
}

// GetRequest returns one access request.
func (e *Engine) GetRequest(requestID string) (*models.AccessRequest, error) {
	return e.workflow.Get(requestID)
}

// GetPendingRequests returns all pending requests, oldest first.
func (e *Engine) GetPendingRequests() []*models.AccessRequest {
	return e.workflow.Pending()
}

// RequestElevatedAccess issues a time-boxed elevated grant, active
// immediately. A zero duration means the 24 hour default.
func (e *Engine) RequestElevatedAccess(userID string, perms models.PermissionSet, grantedBy, reason string, duration time.Duration) (*models.ElevatedAccess, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g := e.grants.Elevated(userID, perms, grantedBy, reason, duration)
	if err := e.save(persist.CollectionElevated, e.grants.SnapshotElevated()); err != nil {
		e.metrics.RecordMutation("elevated_access", "error")
		return nil, err
	}

	e.metrics.RecordMutation("elevated_access", "success")
	e.updateGauges()
	e.record(userID, audit.ActionElevatedGranted, g.ID, "success", "granted by "+grantedBy)
	return g, nil
}

// RequestEmergencyAccess activates a break-glass grant with the fixed
// four-hour window.
func (e *Engine) RequestEmergencyAccess(userID string, perms models.PermissionSet, reason string, approvers []string) (*models.EmergencyAccess, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g := e.grants.Emergency(userID, perms, reason, approvers)
	if err := e.save(persist.CollectionEmergency, e.grants.SnapshotEmergency()); err != nil {
		e.metrics.RecordMutation("emergency_access", "error")
		return nil, err
	}

	e.metrics.RecordMutation("emergency_access", "success")
	e.updateGauges()
	e.record(userID, audit.ActionEmergencyGranted, g.ID, "success", reason)
	return g, nil
}

// RevokeAccess removes the component from the user's base permissions and
// purges every elevated and emergency grant the user holds.
func (e *Engine) RevokeAccess(userID, component string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.grants.Revoke(userID, component)

	if err := e.save(persist.CollectionElevated, e.grants.SnapshotElevated()); err != nil {
		e.metrics.RecordMutation("revoke_access", "error")
		return err
	}
	if err := e.save(persist.CollectionEmergency, e.grants.SnapshotEmergency()); err != nil {
		e.metrics.RecordMutation("revoke_access", "error")
		return err
	}

	e.metrics.RecordMutation("revoke_access", "success")
	e.updateGauges()
	e.record(userID, audit.ActionAccessRevoked, component, "success", "")
	return nil
}

// GetUserPermissions returns a copy of the user's base permission map.
func (e *Engine) GetUserPermissions(userID string) models.PermissionSet {
	return e.grants.UserPermissions(userID)
}

// GetActiveElevatedAccess returns the user's unexpired elevated grants.
func (e *Engine) GetActiveElevatedAccess(userID string) []*models.ElevatedAccess {
	return e.grants.ActiveElevated(userID, time.Now())
}

// GetActiveEmergencyAccess returns the user's unexpired emergency grants.
func (e *Engine) GetActiveEmergencyAccess(userID string) []*models.EmergencyAccess {
	return e.grants.ActiveEmergency(userID, time.Now())
}

// CheckPermission is the decision point: base permissions first, then live
// elevated grants, then live emergency grants. It never errors; an unknown
// user is simply denied. The check takes only reader locks so it is never
// queued behind a mutation's persistence write.
func (e *Engine) CheckPermission(userID, component string, level models.PermissionLevel) bool {
	now := time.Now()
	granted := e.grants.HasBase(userID, component, level) ||
		e.grants.HasElevated(userID, component, level, now) ||
		e.grants.HasEmergency(userID, component, level, now)

	e.metrics.RecordCheck(granted)
	if !granted {
		e.record(userID, audit.ActionPermissionCheck, component, "denied", string(level))
	}
	return granted
}

// GenerateAccessToken mints a bearer token freezing the user's current base
// permissions. A zero TTL means the one hour default.
func (e *Engine) GenerateAccessToken(userID string, ttl time.Duration) (*models.AccessToken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tok, err := e.tokens.Issue(userID, e.grants.UserPermissions(userID), ttl)
	if err != nil {
		e.metrics.RecordMutation("generate_token", "error")
		return nil, err
	}

	e.metrics.RecordMutation("generate_token", "success")
	e.updateGauges()
	e.record(userID, audit.ActionTokenIssued, "", "success", "")
	return tok, nil
}

// ValidateAccessToken resolves a token to its frozen snapshot. Expired tokens
// are deleted on sight.
func (e *Engine) ValidateAccessToken(value string) (*models.AccessToken, error) {
	return e.tokens.Validate(value)
}

// RevokeAccessToken deletes a token. Unknown tokens are a no-op.
func (e *Engine) RevokeAccessToken(value string) {
	e.tokens.Revoke(value)
	e.updateGauges()
}

// RevokeUserTokens deletes every token the user holds.
func (e *Engine) RevokeUserTokens(userID string) int {
	n := e.tokens.RevokeUser(userID)
	e.updateGauges()
	return n
}

// AuditTrail returns recorded audit entries, newest first, optionally
// filtered by user.
func (e *Engine) AuditTrail(userID string, limit int) []models.AuditEntry {
	return e.audit.Entries(userID, limit)
}

// Sweep applies time-based transitions: pending requests past their deadline
// expire, dead grants and tokens are removed. Changed collections are saved.
// The server runs this on a ticker; nothing else applies these transitions.
func (e *Engine) Sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	expired := e.workflow.ExpirePending(now)
	grantsRemoved := e.grants.Cleanup(now)
	tokensRemoved := e.tokens.Cleanup(now)

	if expired > 0 {
		if err := e.save(persist.CollectionRequests, e.workflow.Snapshot()); err != nil {
			e.logger.Error().Err(err).Msg("sweep: saving requests failed")
		}
	}
	if grantsRemoved > 0 {
		if err := e.save(persist.CollectionElevated, e.grants.SnapshotElevated()); err != nil {
			e.logger.Error().Err(err).Msg("sweep: saving elevated grants failed")
		}
		if err := e.save(persist.CollectionEmergency, e.grants.SnapshotEmergency()); err != nil {
			e.logger.Error().Err(err).Msg("sweep: saving emergency grants failed")
		}
	}

	e.updateGauges()
	if expired+grantsRemoved+tokensRemoved > 0 {
		e.logger.Info().
			Int("requests_expired", expired).
			Int("grants_removed", grantsRemoved).
			Int("tokens_removed", tokensRemoved).
			Msg("sweep completed")
	}
}

// Ping reports whether the persistence adapter is reachable.
func (e *Engine) Ping() error {
	return e.store.Ping()
}

// Close releases the persistence adapter.
func (e *Engine) Close() error {
	return e.store.Close()
}
