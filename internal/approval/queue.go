// Package approval implements the C4 Approval Queue: pending-approval
// records with decision callbacks. Grounded on
// internal/tools/policy/approval.go's ApprovalManager (request map,
// registered decision callback, one-shot decide), generalized from
// tool-call gating to the full Approval entity.
package approval

import (
	"context"
	"sync"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
)

// Continuation is invoked exactly once when an approval is decided. C8
// registers one of these when it creates an approval for a gated task, so
// the task can be resumed (or cancelled) without the scheduler polling.
type Continuation func(decision domain.Decision, decidedBy string)

// Queue is the Approval Queue (C4).
type Queue struct {
	entities *entitystore.Store

	mu            sync.Mutex
	continuations map[string]Continuation
}

// New builds a Queue backed by entities for persistence.
func New(entities *entitystore.Store) *Queue {
	return &Queue{
		entities:      entities,
		continuations: make(map[string]Continuation),
	}
}

// Request appends a pending approval record and returns its id. cont, if
// non-nil, is invoked exactly once when Decide resolves this approval.
func (q *Queue) Request(ctx context.Context, a domain.Approval, cont Continuation) (domain.Approval, error) {
	created, err := q.entities.CreateApproval(ctx, a)
	if err != nil {
		return created, err
	}
	if cont != nil {
		q.mu.Lock()
		q.continuations[created.ID] = cont
		q.mu.Unlock()
	}
	return created, nil
}

// Pending lists open (undecided) approvals.
func (q *Queue) Pending() []domain.Approval {
	return q.entities.ListApprovals(true)
}

// Decide transitions the approval exactly once. A second call for an
// already-decided approval is rejected — per spec.md §3, "a decision is
// final; re-decision rejected."
func (q *Queue) Decide(ctx context.Context, id string, decision domain.Decision, decidedBy string) (domain.Approval, error) {
	existing, err := q.entities.GetApproval(id)
	if err != nil {
		return domain.Approval{}, err
	}
	if existing.Resolved() {
		return domain.Approval{}, domain.New(domain.KindIllegalTransition, "approval %s already decided", id)
	}

	updated, err := q.entities.UpdateApproval(ctx, id, func(a *domain.Approval) {
		a.Decision = decision
		a.DecidedBy = decidedBy
	})
	if err != nil {
		return domain.Approval{}, err
	}

	q.mu.Lock()
	cont, ok := q.continuations[id]
	delete(q.continuations, id)
	q.mu.Unlock()
	if ok && cont != nil {
		cont(decision, decidedBy)
	}
	return updated, nil
}

// Get returns the approval by id.
func (q *Queue) Get(id string) (domain.Approval, error) {
	return q.entities.GetApproval(id)
}
