// Package invoice holds the invoice lifecycle core: the status state
// machine, the number allocator and the deletion guard.
package invoice

import (
	"fmt"
	"time"

	"github.com/ofirwie/rechnung-meister/internal/model"
)

// Status is an invoice lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusIssued          Status = "issued"
	StatusCancelled       Status = "cancelled"
)

// transitions lists every legal status change. Anything absent here is
// rejected. Cancellation is reachable from draft only; issued and
// cancelled are terminal.
var transitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusPendingApproval: true,
		StatusCancelled:       true,
	},
	StatusPendingApproval: {
		StatusApproved: true,
		StatusDraft:    true, // reject / revert
	},
	StatusApproved: {
		StatusIssued: true,
		StatusDraft:  true, // revert, discouraged once downstream documents exist
	},
	StatusIssued:    {},
	StatusCancelled: {},
}

// InvalidTransitionError identifies an attempted illegal status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid invoice transition: %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Transition applies a status change and its side effects to the invoice,
// or returns an InvalidTransitionError leaving the invoice untouched.
// actorID is recorded as the approver on approval.
func Transition(inv *model.Invoice, target Status, actorID uint, now time.Time) error {
	from := Status(inv.Status)
	if !CanTransition(from, target) {
		return &InvalidTransitionError{From: from, To: target}
	}

	switch target {
	case StatusApproved:
		inv.ApprovedAt = &now
		inv.ApprovedBy = &actorID
	case StatusIssued:
		inv.IssuedAt = &now
	case StatusCancelled:
		inv.CancelledAt = &now
	case StatusDraft:
		// Reverting clears approval markers so a later approval starts clean.
		inv.ApprovedAt = nil
		inv.ApprovedBy = nil
	}

	inv.Status = string(target)
	return nil
}

// Final reports whether the status forbids deletion: approved and issued
// invoices are retained forever.
func Final(s Status) bool {
	return s == StatusApproved || s == StatusIssued
}
