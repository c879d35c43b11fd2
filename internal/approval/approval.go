// Package approval manages the human-in-the-loop queue for actions that
// require sign-off before execution. Every state change is appended to a
// hash-chained JSONL audit log.
package approval

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stratoml/sentinel/internal/types"
)

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// DefaultTTL is how long a request stays approvable.
const DefaultTTL = 24 * time.Hour

// Request is one approval request wrapping an action.
type Request struct {
	ID            string       `json:"request_id"`
	Action        types.Action `json:"action"`
	Status        string       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	ReviewedBy    string       `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty"`
	ReviewComment string       `json:"review_comment,omitempty"`
}

// Expired reports whether the request's approval window has passed.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Manager holds the in-memory approval queue. The JSONL log is
// audit-only; restarts begin with an empty queue and the log is verified
// for tampering on open.
type Manager struct {
	logger *slog.Logger
	log    *Log
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	requests []*Request
}

// NewManager opens (and verifies) the audit log at queuePath and returns
// a manager with an empty queue.
func NewManager(queuePath string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "approval")

	auditLog, err := OpenLog(queuePath)
	if err != nil {
		return nil, fmt.Errorf("open approval log: %w", err)
	}

	return &Manager{
		logger: logger,
		log:    auditLog,
		ttl:    DefaultTTL,
		now:    time.Now,
	}, nil
}

// Close releases the audit log.
func (m *Manager) Close() error {
	return m.log.Close()
}

// Submit queues an action for approval and appends the request to the
// audit log before returning it.
func (m *Manager) Submit(action types.Action) (*Request, error) {
	now := m.now().UTC()
	request := &Request{
		ID:        types.NewID("APR"),
		Action:    action,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	// Log first: a request that is not on disk never enters the queue.
	if err := m.log.Append(request); err != nil {
		return nil, fmt.Errorf("record approval request: %w", err)
	}

	m.mu.Lock()
	m.requests = append(m.requests, request)
	m.mu.Unlock()

	m.logger.Info("submitted for approval",
		"request_id", request.ID,
		"action_type", action.Type,
		"risk", action.RiskLevel,
	)
	return request, nil
}

// Pending returns pending requests. Unless includeExpired is set, expired
// pending requests are dropped from the queue as a side effect.
func (m *Manager) Pending(includeExpired bool) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !includeExpired {
		kept := m.requests[:0]
		for _, req := range m.requests {
			if req.Status == StatusPending && req.Expired(now) {
				continue
			}
			kept = append(kept, req)
		}
		m.requests = kept
	}

	var pending []*Request
	for _, req := range m.requests {
		if req.Status == StatusPending {
			pending = append(pending, req)
		}
	}
	return pending
}

// Approve marks a pending request approved. It returns false when the
// request is unknown or its window has expired; an expired request is
// marked as such.
func (m *Manager) Approve(requestID, reviewer, comment string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := m.findLocked(requestID)
	if req == nil {
		m.logger.Warn("approval request not found", "request_id", requestID)
		return false
	}
	if req.Expired(m.now()) {
		req.Status = StatusExpired
		m.appendLocked(req)
		m.logger.Warn("approval request expired", "request_id", requestID)
		return false
	}

	reviewedAt := m.now().UTC()
	req.Status = StatusApproved
	req.ReviewedBy = reviewer
	req.ReviewedAt = &reviewedAt
	req.ReviewComment = comment
	m.appendLocked(req)

	m.logger.Info("request approved", "request_id", requestID, "reviewer", reviewer)
	return true
}

// Reject marks a request rejected. Rejection is allowed even after the
// approval window has passed.
func (m *Manager) Reject(requestID, reviewer, comment string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := m.findLocked(requestID)
	if req == nil {
		m.logger.Warn("approval request not found", "request_id", requestID)
		return false
	}

	reviewedAt := m.now().UTC()
	req.Status = StatusRejected
	req.ReviewedBy = reviewer
	req.ReviewedAt = &reviewedAt
	req.ReviewComment = comment
	m.appendLocked(req)

	m.logger.Info("request rejected", "request_id", requestID, "reviewer", reviewer)
	return true
}

// ApprovedActions drains the queue: it returns the actions of approved
// requests and removes both approved and rejected requests.
func (m *Manager) ApprovedActions() []types.Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var approved []types.Action
	kept := m.requests[:0]
	for _, req := range m.requests {
		switch req.Status {
		case StatusApproved:
			approved = append(approved, req.Action)
		case StatusRejected:
			// dropped
		default:
			kept = append(kept, req)
		}
	}
	m.requests = kept
	return approved
}

// RequestByID returns the request with the given ID, or nil.
func (m *Manager) RequestByID(requestID string) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(requestID)
}

// Statistics summarises the current queue by status.
func (m *Manager) Statistics() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := map[string]int{
		"total":    len(m.requests),
		"pending":  0,
		"approved": 0,
		"rejected": 0,
		"expired":  0,
	}
	for _, req := range m.requests {
		switch req.Status {
		case StatusPending:
			stats["pending"]++
		case StatusApproved:
			stats["approved"]++
		case StatusRejected:
			stats["rejected"]++
		}
		if req.Expired(now) {
			stats["expired"]++
		}
	}
	return stats
}

// Cleanup removes settled requests older than the given age and returns
// how many were dropped. Pending requests are always kept.
func (m *Manager) Cleanup(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-age)
	kept := m.requests[:0]
	removed := 0
	for _, req := range m.requests {
		if req.Status == StatusPending || req.CreatedAt.After(cutoff) {
			kept = append(kept, req)
		} else {
			removed++
		}
	}
	m.requests = kept

	if removed > 0 {
		m.logger.Info("cleaned up old approval requests", "removed", removed)
	}
	return removed
}

func (m *Manager) findLocked(requestID string) *Request {
	for _, req := range m.requests {
		if req.ID == requestID {
			return req
		}
	}
	return nil
}

// appendLocked records a state change, logging instead of failing the
// caller when the disk write does not go through.
func (m *Manager) appendLocked(req *Request) {
	if err := m.log.Append(req); err != nil {
		m.logger.Error("audit log append failed", "request_id", req.ID, "error", err)
	}
}
