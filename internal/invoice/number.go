package invoice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/ofirwie/rechnung-meister/internal/model"
)

// ErrDuplicateInvoiceNumber is surfaced when the partial unique index on
// (invoice_number, user_id) WHERE deleted_at IS NULL rejects a write.
// CreateWithRetry reacts by re-running allocation with a fresh read.
var ErrDuplicateInvoiceNumber = errors.New("invoice number already taken")

// ErrAllocationExhausted is returned by CreateWithRetry when every
// allocated candidate lost its insert race within the retry budget.
var ErrAllocationExhausted = errors.New("could not allocate a unique invoice number")

// suffixWidth is the zero-padded width of the numeric suffix: 2025-08-ACME-001.
const suffixWidth = 3

// Prefix builds the deterministic invoice number prefix for a period and
// client abbreviation, e.g. "2025-08-ACME".
func Prefix(period time.Time, clientAbbr string) string {
	return period.Format("2006-01") + "-" + strings.ToUpper(strings.TrimSpace(clientAbbr))
}

// FormatNumber renders a full invoice number from prefix and suffix.
func FormatNumber(prefix string, suffix int) string {
	return fmt.Sprintf("%s-%0*d", prefix, suffixWidth, suffix)
}

// parseSuffix extracts the numeric suffix from a number carrying the given
// prefix. Numbers that do not match the scheme are ignored by allocation.
func parseSuffix(number, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(number, prefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Allocator proposes the next invoice number for an owner and prefix.
//
// The proposal is not a reservation. Two concurrent calls can propose the
// same candidate; the loser's insert fails against the partial unique
// index and must retry allocation. Soft-deleted invoices are excluded from
// the read (gorm's deleted_at scope), so a deleted draft's number is
// immediately reusable.
type Allocator struct {
	db *gorm.DB
}

// NewAllocator builds an Allocator on the given database handle.
func NewAllocator(db *gorm.DB) *Allocator {
	return &Allocator{db: db}
}

// likeEscaper neutralizes LIKE metacharacters in the prefix so an odd
// client abbreviation cannot widen the scan.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Allocate returns the next free number for the owner and prefix:
// max(active suffixes) + 1, or 001 when none exist.
func (a *Allocator) Allocate(ctx context.Context, userID uint, prefix string) (string, error) {
	var numbers []string
	err := a.db.WithContext(ctx).
		Model(&model.Invoice{}).
		Where("user_id = ? AND invoice_number LIKE ?", userID, likeEscaper.Replace(prefix)+"-%").
		Pluck("invoice_number", &numbers).Error
	if err != nil {
		return "", err
	}

	max := 0
	for _, n := range numbers {
		if s, ok := parseSuffix(n, prefix); ok && s > max {
			max = s
		}
	}
	return FormatNumber(prefix, max+1), nil
}

// CreateWithRetry allocates a number for the invoice and inserts it,
// re-allocating with a fresh read whenever the unique index rejects the
// candidate, up to retries attempts. onRetry is called after each lost
// race; nil is fine. On success the invoice carries the winning number
// and store-assigned fields.
func (a *Allocator) CreateWithRetry(ctx context.Context, inv *model.Invoice, prefix string, retries int, onRetry func(number string, attempt int)) error {
	if retries < 1 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		number, err := a.Allocate(ctx, inv.UserID, prefix)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number

		err = a.db.WithContext(ctx).Create(inv).Error
		if err == nil {
			return nil
		}
		if !IsDuplicate(err) {
			return err
		}
		if onRetry != nil {
			onRetry(number, attempt)
		}
	}
	return ErrAllocationExhausted
}

// IsDuplicate reports whether err is the store's unique-constraint
// rejection of an invoice number.
func IsDuplicate(err error) bool {
	if errors.Is(err, ErrDuplicateInvoiceNumber) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
