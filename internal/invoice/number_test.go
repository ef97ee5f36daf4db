package invoice

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ofirwie/rechnung-meister/internal/model"
)

func TestPrefix(t *testing.T) {
	period := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
	if got := Prefix(period, "acme"); got != "2025-08-ACME" {
		t.Errorf("Prefix = %q", got)
	}
	if got := Prefix(period, " ACME "); got != "2025-08-ACME" {
		t.Errorf("Prefix with padding = %q", got)
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber("2025-08-ACME", 1); got != "2025-08-ACME-001" {
		t.Errorf("FormatNumber = %q", got)
	}
	if got := FormatNumber("2025-08-ACME", 1000); got != "2025-08-ACME-1000" {
		t.Errorf("FormatNumber overflow = %q", got)
	}
}

func TestParseSuffix(t *testing.T) {
	cases := []struct {
		number string
		want   int
		ok     bool
	}{
		{"2025-08-ACME-003", 3, true},
		{"2025-08-ACME-1000", 1000, true},
		{"2025-08-OTHER-003", 0, false},
		{"2025-08-ACME-xyz", 0, false},
		{"2025-08-ACME", 0, false},
	}
	for _, c := range cases {
		got, ok := parseSuffix(c.number, "2025-08-ACME")
		if got != c.want || ok != c.ok {
			t.Errorf("parseSuffix(%q) = %d, %v; want %d, %v", c.number, got, ok, c.want, c.ok)
		}
	}
}

func TestAllocateFirstNumber(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WithArgs(uint(5), "2025-08-ACME-%").
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}))

	got, err := a.Allocate(context.Background(), 5, "2025-08-ACME")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != "2025-08-ACME-001" {
		t.Errorf("Allocate = %q, want 2025-08-ACME-001", got)
	}
}

func TestAllocateNextNumber(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}).
			AddRow("2025-08-ACME-001").
			AddRow("2025-08-ACME-003"))

	got, err := a.Allocate(context.Background(), 5, "2025-08-ACME")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != "2025-08-ACME-004" {
		t.Errorf("Allocate = %q, want 2025-08-ACME-004", got)
	}
}

// A soft-deleted invoice no longer appears in the read (the store filters
// deleted_at IS NULL), so its number is proposed again.
func TestAllocateReusesSoftDeletedNumber(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	// 003 was soft-deleted; only 001 and 002 remain active.
	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}).
			AddRow("2025-08-ACME-001").
			AddRow("2025-08-ACME-002"))

	got, err := a.Allocate(context.Background(), 5, "2025-08-ACME")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != "2025-08-ACME-003" {
		t.Errorf("Allocate = %q, want 2025-08-ACME-003", got)
	}
}

func TestAllocateIgnoresForeignNumbers(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}).
			AddRow("2025-08-ACME-002").
			AddRow("2025-08-ACME-oops"))

	got, err := a.Allocate(context.Background(), 5, "2025-08-ACME")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != "2025-08-ACME-003" {
		t.Errorf("Allocate = %q, want 2025-08-ACME-003", got)
	}
}

func TestAllocateEscapesLikePattern(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WithArgs(uint(5), `2025-08-A\%B-%`).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}))

	got, err := a.Allocate(context.Background(), 5, "2025-08-A%B")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != "2025-08-A%B-001" {
		t.Errorf("Allocate = %q, want 2025-08-A%%B-001", got)
	}
}

// When the insert loses the race for a candidate number, the next attempt
// re-reads and proposes past the winner.
func TestCreateWithRetrySucceedsAfterCollision(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}).
			AddRow("2025-08-ACME-001"))
	mock.ExpectQuery(`INSERT INTO "invoices"`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	// The concurrent winner's row shows up in the second read.
	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}).
			AddRow("2025-08-ACME-001").
			AddRow("2025-08-ACME-002"))
	mock.ExpectQuery(`INSERT INTO "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	collisions := 0
	inv := &model.Invoice{CompanyID: 7, UserID: 5, Status: "draft", Currency: "EUR", Language: "de"}
	err := a.CreateWithRetry(context.Background(), inv, "2025-08-ACME", 3, func(number string, attempt int) {
		collisions++
		if number != "2025-08-ACME-002" || attempt != 1 {
			t.Errorf("onRetry(%q, %d)", number, attempt)
		}
	})
	if err != nil {
		t.Fatalf("create with retry: %v", err)
	}
	if inv.InvoiceNumber != "2025-08-ACME-003" {
		t.Errorf("invoice number = %q, want 2025-08-ACME-003", inv.InvoiceNumber)
	}
	if collisions != 1 {
		t.Errorf("collisions = %d, want 1", collisions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateWithRetryExhausted(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
			WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}))
		mock.ExpectQuery(`INSERT INTO "invoices"`).
			WillReturnError(&pgconn.PgError{Code: "23505"})
	}

	collisions := 0
	inv := &model.Invoice{CompanyID: 7, UserID: 5, Status: "draft"}
	err := a.CreateWithRetry(context.Background(), inv, "2025-08-ACME", 2, func(string, int) {
		collisions++
	})
	if !errors.Is(err, ErrAllocationExhausted) {
		t.Fatalf("expected ErrAllocationExhausted, got %v", err)
	}
	if collisions != 2 {
		t.Errorf("collisions = %d, want 2", collisions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A non-duplicate store error aborts immediately instead of burning the
// retry budget.
func TestCreateWithRetryStopsOnOtherErrors(t *testing.T) {
	db, mock := newMockDB(t)
	a := NewAllocator(db)

	storeErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT "invoice_number" FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"invoice_number"}))
	mock.ExpectQuery(`INSERT INTO "invoices"`).
		WillReturnError(storeErr)

	inv := &model.Invoice{CompanyID: 7, UserID: 5, Status: "draft"}
	err := a.CreateWithRetry(context.Background(), inv, "2025-08-ACME", 3, nil)
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected the store error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIsDuplicate(t *testing.T) {
	if !IsDuplicate(ErrDuplicateInvoiceNumber) {
		t.Error("sentinel must be recognized")
	}
	if !IsDuplicate(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation must be recognized")
	}
	if !IsDuplicate(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("wrapped unique violation must be recognized")
	}
	if IsDuplicate(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a duplicate")
	}
	if IsDuplicate(errors.New("network down")) {
		t.Error("arbitrary errors are not duplicates")
	}
}
