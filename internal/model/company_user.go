package model

import (
	"time"

	"gorm.io/gorm"
)

// CompanyUser represents the association between users and companies.
// This enables multi-tenancy by allowing users to belong to multiple companies.
//
// Permissions holds a JSON snapshot of the member's permission set, taken
// from the role defaults at invite time. It does not auto-update if the
// defaults change later.
type CompanyUser struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	UserID      uint           `json:"user_id" gorm:"uniqueIndex:idx_company_user;not null"`
	CompanyID   uint           `json:"company_id" gorm:"uniqueIndex:idx_company_user;not null"`
	Role        string         `json:"role" gorm:"type:varchar(50);not null;default:'member'"` // 'owner', 'admin', 'member', 'viewer'
	Permissions string         `json:"permissions" gorm:"type:jsonb"`
	IsDefault   bool           `json:"is_default" gorm:"default:false"` // Whether this is the user's default company
	Active      bool           `json:"active" gorm:"default:true"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	User    User    `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Company Company `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
}
