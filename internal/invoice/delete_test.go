package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/gorm"

	"github.com/ofirwie/rechnung-meister/internal/audit"
	"github.com/ofirwie/rechnung-meister/internal/model"
)

const validReason = "duplicate of invoice 2025-08-ACME-002, created by mistake"

func newGuard(t *testing.T) (*Guard, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewGuard(db, audit.NewRecorder(db)), mock
}

// Approved and issued invoices are rejected regardless of how well-formed
// the request is.
func TestRequestDeletionAbsolutism(t *testing.T) {
	g, mock := newGuard(t)

	for _, status := range []Status{StatusApproved, StatusIssued} {
		inv := &model.Invoice{ID: 1, Status: string(status), Language: "en"}
		err := g.RequestDeletion(context.Background(), inv, 42, "DELETE", validReason)
		if !errors.Is(err, ErrDeletionForbidden) {
			t.Errorf("status %s: expected ErrDeletionForbidden, got %v", status, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no database access expected: %v", err)
	}
}

func TestRequestDeletionIdempotent(t *testing.T) {
	g, mock := newGuard(t)

	inv := &model.Invoice{
		ID:        1,
		Status:    string(StatusDraft),
		Language:  "en",
		DeletedAt: gorm.DeletedAt{Time: time.Now(), Valid: true},
	}

	if err := g.RequestDeletion(context.Background(), inv, 42, "DELETE", validReason); err != nil {
		t.Fatalf("second deletion must be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no-op must not write: %v", err)
	}
}

func TestRequestDeletionConfirmationMismatch(t *testing.T) {
	g, _ := newGuard(t)

	inv := &model.Invoice{ID: 1, Status: string(StatusDraft), Language: "de"}
	err := g.RequestDeletion(context.Background(), inv, 42, "DELETE", validReason)

	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "confirmation" {
		t.Fatalf("expected confirmation ValidationError, got %v", err)
	}
}

func TestRequestDeletionReasonTooShort(t *testing.T) {
	g, _ := newGuard(t)

	inv := &model.Invoice{ID: 1, Status: string(StatusDraft), Language: "en"}
	err := g.RequestDeletion(context.Background(), inv, 42, "DELETE", "typo  ")

	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "reason" {
		t.Fatalf("expected reason ValidationError, got %v", err)
	}
}

func TestRequestDeletionSoftDeletesAndAudits(t *testing.T) {
	g, mock := newGuard(t)

	mock.ExpectExec(`UPDATE "invoices" SET "deleted_at"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	inv := &model.Invoice{ID: 9, Status: string(StatusDraft), Language: "de", InvoiceNumber: "2025-08-ACME-003"}
	if err := g.RequestDeletion(context.Background(), inv, 42, "LÖSCHEN", validReason); err != nil {
		t.Fatalf("deletion: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConfirmationPhrase(t *testing.T) {
	if ConfirmationPhrase("de") != "LÖSCHEN" {
		t.Error("german phrase")
	}
	if ConfirmationPhrase("en") != "DELETE" {
		t.Error("english phrase")
	}
	if ConfirmationPhrase("fr") != "DELETE" {
		t.Error("unknown language falls back to english")
	}
}

func TestRequestDeletionRejectsNonDraft(t *testing.T) {
	g, mock := newGuard(t)

	for _, status := range []Status{StatusPendingApproval, StatusCancelled} {
		inv := &model.Invoice{ID: 3, Status: string(status), Language: "en"}
		err := g.RequestDeletion(context.Background(), inv, 42, "DELETE", validReason)
		if !errors.Is(err, ErrDeletionForbidden) {
			t.Errorf("status %s: only drafts may be deleted, got %v", status, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no database access expected: %v", err)
	}
}
