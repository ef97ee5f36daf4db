// Package audit maintains the append-only mutation log for sensitive
// tables. Entries are written alongside every create, update and soft
// delete; nothing in the application ever mutates or removes them.
package audit

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/ofirwie/rechnung-meister/internal/model"
)

// Recorder appends audit entries.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder builds a Recorder on the given database handle.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends one entry. Every entry carries the company that owns the
// mutated record; listings filter on it. oldValues and newValues are
// stored as JSON snapshots; either may be nil.
func (r *Recorder) Record(ctx context.Context, companyID, actorID uint, action, tableName string, recordID uint, oldValues, newValues any) error {
	entry := model.AuditLog{
		ActorID:   actorID,
		Action:    action,
		TableName: tableName,
		RecordID:  recordID,
		CompanyID: companyID,
	}

	var err error
	if entry.OldValues, err = encode(oldValues); err != nil {
		return err
	}
	if entry.NewValues, err = encode(newValues); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Create(&entry).Error
}

// Filter narrows List results. Zero values mean "any"; CompanyID zero is
// reserved for root admins, regular callers always set it.
type Filter struct {
	CompanyID uint
	TableName string
	RecordID  uint
	Action    string
	Limit     int
}

// List returns entries newest first, scoped to the filter's company.
func (r *Recorder) List(ctx context.Context, f Filter) ([]model.AuditLog, error) {
	q := r.db.WithContext(ctx).Model(&model.AuditLog{})
	if f.CompanyID != 0 {
		q = q.Where("company_id = ?", f.CompanyID)
	}
	if f.TableName != "" {
		q = q.Where("table_name = ?", f.TableName)
	}
	if f.RecordID != 0 {
		q = q.Where("record_id = ?", f.RecordID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []model.AuditLog
	err := q.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// IsCritical flags entries an operator should review: hard deletes, and
// updates that set deleted_at on an invoice that was no longer a draft.
// An update whose prior status is unknown is treated as critical rather
// than waved through.
func IsCritical(e *model.AuditLog) bool {
	if e.Action == model.AuditActionDelete {
		return true
	}
	if e.Action != model.AuditActionUpdate {
		return false
	}

	newV := decode(e.NewValues)
	if v, ok := newV["deleted_at"]; !ok || v == nil {
		return false
	}

	oldV := decode(e.OldValues)
	status, _ := oldV["status"].(string)
	return status != "draft"
}

func encode(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
