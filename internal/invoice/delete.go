package invoice

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ofirwie/rechnung-meister/internal/audit"
	"github.com/ofirwie/rechnung-meister/internal/model"
)

// ErrDeletionForbidden rejects any attempt to delete a non-draft invoice.
// For approved and issued invoices the rejection is absolute: no
// confirmation text, reason or role overrides it.
var ErrDeletionForbidden = errors.New("only draft invoices can be deleted")

// ValidationError reports recoverable input problems on a deletion
// request; the caller re-prompts the user.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Field + ": " + e.Reason
}

// confirmationPhrases maps invoice language to the literal phrase the user
// must type to confirm a deletion.
var confirmationPhrases = map[string]string{
	"de": "LÖSCHEN",
	"en": "DELETE",
}

// ConfirmationPhrase returns the phrase required for the given invoice
// language, falling back to English.
func ConfirmationPhrase(language string) string {
	if p, ok := confirmationPhrases[language]; ok {
		return p
	}
	return confirmationPhrases["en"]
}

// minReasonLen is the minimum length of the free-text deletion reason.
const minReasonLen = 10

// Guard enforces the deletion rules: only drafts may ever be removed, and
// only as a confirmed, reason-logged soft delete.
type Guard struct {
	db    *gorm.DB
	audit *audit.Recorder
}

// NewGuard builds a Guard.
func NewGuard(db *gorm.DB, recorder *audit.Recorder) *Guard {
	return &Guard{db: db, audit: recorder}
}

// RequestDeletion soft-deletes a draft invoice after validating the
// confirmation phrase and reason, recording an audit entry.
//
// Anything that is not a draft is rejected before the confirmation is
// even looked at. Deleting an already-deleted invoice is a no-op so
// repeated submissions neither error nor double-log.
func (g *Guard) RequestDeletion(ctx context.Context, inv *model.Invoice, actorID uint, confirmation, reason string) error {
	// Approved and issued invoices are retained forever; the remaining
	// non-draft states fail the same way.
	if Final(Status(inv.Status)) {
		return ErrDeletionForbidden
	}
	if Status(inv.Status) != StatusDraft {
		return ErrDeletionForbidden
	}
	if inv.DeletedAt.Valid {
		return nil
	}

	if confirmation != ConfirmationPhrase(inv.Language) {
		return &ValidationError{Field: "confirmation", Reason: "confirmation text does not match"}
	}
	if len([]rune(strings.TrimSpace(reason))) < minReasonLen {
		return &ValidationError{Field: "reason", Reason: "reason must be at least 10 characters"}
	}

	now := time.Now().UTC()
	old := map[string]any{
		"status":         inv.Status,
		"invoice_number": inv.InvoiceNumber,
	}

	if err := g.db.WithContext(ctx).Delete(inv).Error; err != nil {
		return err
	}

	// A soft delete is an update that sets deleted_at; recording it as such
	// lets audit.IsCritical distinguish it from a hard delete.
	return g.audit.Record(ctx, inv.CompanyID, actorID, model.AuditActionUpdate, "invoices", inv.ID,
		old,
		map[string]any{
			"deleted_at": now,
			"reason":     reason,
		})
}
