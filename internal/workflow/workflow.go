// Package workflow manages the access request lifecycle: creation, quorum
// approval, and rejection. Granting the approved permissions is the engine's
// job, so approval and grant happen under the same mutation.
package workflow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/errors"
	"github.com/p-blackswan/access-engine/internal/models"
)

// RequestValidity is the fixed window an access request stays actionable.
const RequestValidity = 7 * 24 * time.Hour

// Workflow owns all access requests.
type Workflow struct {
	mu       sync.RWMutex
	requests map[string]*models.AccessRequest
	logger   zerolog.Logger
}

// New creates an empty workflow.
func New(logger zerolog.Logger) *Workflow {
	return &Workflow{
		requests: make(map[string]*models.AccessRequest),
		logger:   logger.With().Str("component", "workflow").Logger(),
	}
}

// Create opens a pending request against a template. IDs are sequential.
func (w *Workflow) Create(requesterID, templateName, reason string) *models.AccessRequest {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	req := &models.AccessRequest{
		ID:           fmt.Sprintf("req_%d", len(w.requests)+1),
		RequesterID:  requesterID,
		TemplateName: templateName,
		Status:       models.StatusPending,
		Reason:       reason,
		CreatedAt:    now,
		ExpiresAt:    now.Add(RequestValidity),
	}
	w.requests[req.ID] = req

	w.logger.Info().
		Str("request_id", req.ID).
		Str("requester", requesterID).
		Str("template", templateName).
		Msg("access request created")

	return copyRequest(req)
}

// Approve records an approval. Duplicate approvals from the same approver are
// not deduplicated; each call counts toward the quorum. When the approval
// count reaches required, the status flips to approved and quorumReached is
// true so the caller can grant permissions in the same mutation.
func (w *Workflow) Approve(requestID, approverID, comment string, required int) (req *models.AccessRequest, quorumReached bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	stored, ok := w.requests[requestID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", errors.ErrRequestNotFound, requestID)
	}
	if stored.Status != models.StatusPending {
		return nil, false, fmt.Errorf("%w: %s (status: %s)", errors.ErrRequestNotPending, requestID, stored.Status)
	}

	stored.Approvals = append(stored.Approvals, models.Approval{
		ApproverID: approverID,
		Timestamp:  time.Now().UTC(),
		Comment:    comment,
	})

	if len(stored.Approvals) >= required {
		stored.Status = models.StatusApproved
		quorumReached = true
	}

	w.logger.Info().
		Str("request_id", requestID).
		Str("approver", approverID).
		Int("approvals", len(stored.Approvals)).
		Int("required", required).
		Bool("approved", quorumReached).
		Msg("approval recorded")

	return copyRequest(stored), quorumReached, nil
}

// Reject closes a pending request. No permissions are touched.
func (w *Workflow) Reject(requestID, approverID, reason string) (*models.AccessRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	stored, ok := w.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrRequestNotFound, requestID)
	}
	if stored.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: %s (status: %s)", errors.ErrRequestNotPending, requestID, stored.Status)
	}

	stored.Approvals = append(stored.Approvals, models.Approval{
		ApproverID: approverID,
		Timestamp:  time.Now().UTC(),
		Comment:    "Rejected: " + reason,
	})
	stored.Status = models.StatusRejected

	w.logger.Info().
		Str("request_id", requestID).
		Str("rejected_by", approverID).
		Msg("access request rejected")

	return copyRequest(stored), nil
}

// Get returns a copy of a request.
func (w *Workflow) Get(requestID string) (*models.AccessRequest, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	req, ok := w.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrRequestNotFound, requestID)
	}
	return copyRequest(req), nil
}

// Pending returns copies of all pending requests, oldest first.
func (w *Workflow) Pending() []*models.AccessRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []*models.AccessRequest
	for _, req := range w.requests {
		if req.Status == models.StatusPending {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ExpirePending marks pending requests past their deadline as expired and
// returns how many were flipped. Only the maintenance sweep calls this; the
// read path never applies the transition.
func (w *Workflow) ExpirePending(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	expired := 0
	for _, req := range w.requests {
		if req.Status == models.StatusPending && now.After(req.ExpiresAt) {
			req.Status = models.StatusExpired
			expired++
		}
	}
	if expired > 0 {
		w.logger.Info().Int("expired", expired).Msg("pending requests expired")
	}
	return expired
}

// Snapshot returns the request map for persistence.
func (w *Workflow) Snapshot() map[string]*models.AccessRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]*models.AccessRequest, len(w.requests))
	for id, req := range w.requests {
		out[id] = copyRequest(req)
	}
	return out
}

// Restore replaces the request map from a persisted snapshot.
func (w *Workflow) Restore(requests map[string]*models.AccessRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.requests = make(map[string]*models.AccessRequest, len(requests))
	for id, req := range requests {
		w.requests[id] = req
	}
}

// Count returns the total number of requests in any state.
func (w *Workflow) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.requests)
}

func copyRequest(req *models.AccessRequest) *models.AccessRequest {
	cp := *req
	cp.Approvals = append([]models.Approval(nil), req.Approvals...)
	return &cp
}
