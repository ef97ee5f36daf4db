package model

import "time"

// Audit actions recorded in AuditLog.Action.
const (
	AuditActionInsert = "insert"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
)

// AuditLog is an append-only record of a mutation to an audited table.
// Rows are only ever inserted; application code never updates or deletes
// them. There is deliberately no gorm.DeletedAt here.
type AuditLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ActorID   uint      `json:"actor_id" gorm:"index;not null"`
	Action    string    `json:"action" gorm:"type:varchar(10);not null"`
	TableName string    `json:"table_name" gorm:"type:varchar(50);index;not null"`
	RecordID  uint      `json:"record_id" gorm:"index;not null"`
	CompanyID uint      `json:"company_id" gorm:"index;not null"`
	OldValues string    `json:"old_values,omitempty" gorm:"type:jsonb"`
	NewValues string    `json:"new_values,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"created_at"`
}
