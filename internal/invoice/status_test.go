package invoice

import (
	"errors"
	"testing"
	"time"

	"github.com/ofirwie/rechnung-meister/internal/model"
)

var allStatuses = []Status{
	StatusDraft,
	StatusPendingApproval,
	StatusApproved,
	StatusIssued,
	StatusCancelled,
}

func TestTransitionTable(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusDraft, StatusPendingApproval}:    true,
		{StatusDraft, StatusCancelled}:          true,
		{StatusPendingApproval, StatusApproved}: true,
		{StatusPendingApproval, StatusDraft}:    true,
		{StatusApproved, StatusIssued}:          true,
		{StatusApproved, StatusDraft}:           true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := legal[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionApproveSetsMarkers(t *testing.T) {
	now := time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC)
	inv := &model.Invoice{Status: string(StatusPendingApproval)}

	if err := Transition(inv, StatusApproved, 42, now); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if inv.Status != string(StatusApproved) {
		t.Errorf("status = %s", inv.Status)
	}
	if inv.ApprovedAt == nil || !inv.ApprovedAt.Equal(now) {
		t.Error("approved_at not set")
	}
	if inv.ApprovedBy == nil || *inv.ApprovedBy != 42 {
		t.Error("approved_by not set")
	}
}

func TestTransitionIssueSetsTimestamp(t *testing.T) {
	now := time.Now().UTC()
	inv := &model.Invoice{Status: string(StatusApproved)}

	if err := Transition(inv, StatusIssued, 1, now); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if inv.IssuedAt == nil || !inv.IssuedAt.Equal(now) {
		t.Error("issued_at not set")
	}
}

func TestTransitionRevertClearsApproval(t *testing.T) {
	now := time.Now().UTC()
	actor := uint(7)
	inv := &model.Invoice{
		Status:     string(StatusApproved),
		ApprovedAt: &now,
		ApprovedBy: &actor,
	}

	if err := Transition(inv, StatusDraft, 7, now); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if inv.ApprovedAt != nil || inv.ApprovedBy != nil {
		t.Error("revert must clear approval markers")
	}
}

func TestTransitionRejectedLeavesInvoiceUnchanged(t *testing.T) {
	// Scenario: pending_approval cannot jump straight to issued.
	inv := &model.Invoice{Status: string(StatusPendingApproval)}

	err := Transition(inv, StatusIssued, 1, time.Now())
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != StatusPendingApproval || ite.To != StatusIssued {
		t.Errorf("error pair = %s -> %s", ite.From, ite.To)
	}
	if inv.Status != string(StatusPendingApproval) {
		t.Error("status must not change on rejection")
	}
	if inv.IssuedAt != nil {
		t.Error("side effects must not apply on rejection")
	}
}

func TestIssuedAndCancelledAreTerminal(t *testing.T) {
	for _, terminal := range []Status{StatusIssued, StatusCancelled} {
		for _, to := range allStatuses {
			inv := &model.Invoice{Status: string(terminal)}
			if err := Transition(inv, to, 1, time.Now()); err == nil {
				t.Errorf("%s -> %s must be rejected", terminal, to)
			}
		}
	}
}

func TestFinal(t *testing.T) {
	if !Final(StatusApproved) || !Final(StatusIssued) {
		t.Error("approved and issued are final")
	}
	if Final(StatusDraft) || Final(StatusPendingApproval) || Final(StatusCancelled) {
		t.Error("draft, pending_approval and cancelled are not final")
	}
}
