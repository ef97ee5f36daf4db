// Package company resolves a user's membership within a company: role,
// permission snapshot and active flag. Every authorization check goes
// through the resolver; nothing is cached between requests, so a revoked
// membership takes effect on the next call.
package company

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/ofirwie/rechnung-meister/internal/model"
	"github.com/ofirwie/rechnung-meister/internal/permission"
)

// ErrNotMember is returned when the user has no active membership in the
// company and is not a root admin. Callers render "no access"; there is
// nothing to retry.
var ErrNotMember = errors.New("not a member of this company")

// Membership is the resolved view of a user's standing in a company.
type Membership struct {
	Role        string
	Permissions permission.Set
	Active      bool
	RootAdmin   bool
}

// Resolver answers membership lookups. rootAdmins is the configuration-
// supplied set of privileged principal emails; those users resolve to the
// owner role with full permissions for every company, without needing a
// membership row.
type Resolver struct {
	db         *gorm.DB
	rootAdmins map[string]struct{}
}

// NewResolver builds a Resolver. rootAdminEmails come straight from
// configuration; they are normalized to lower case once here.
func NewResolver(db *gorm.DB, rootAdminEmails []string) *Resolver {
	admins := make(map[string]struct{}, len(rootAdminEmails))
	for _, e := range rootAdminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Resolver{db: db, rootAdmins: admins}
}

// IsRootAdmin reports whether the email is on the configured allow-list.
func (r *Resolver) IsRootAdmin(email string) bool {
	_, ok := r.rootAdmins[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Resolve looks up the user's membership in the company. Root admins
// bypass the lookup entirely. For everyone else an exact (company, user)
// row is required; a missing row, an inactive row or an inactive company
// all resolve to ErrNotMember. Resolve is a pure read.
func (r *Resolver) Resolve(ctx context.Context, userID uint, email string, companyID uint) (*Membership, error) {
	if r.IsRootAdmin(email) {
		return &Membership{
			Role:        permission.RoleOwner,
			Permissions: permission.Defaults(permission.RoleOwner),
			Active:      true,
			RootAdmin:   true,
		}, nil
	}

	var cu model.CompanyUser
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND company_id = ?", userID, companyID).
		First(&cu).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	if !cu.Active {
		return nil, ErrNotMember
	}

	var comp model.Company
	err = r.db.WithContext(ctx).
		Select("id", "active").
		First(&comp, companyID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	if !comp.Active {
		return nil, ErrNotMember
	}

	ps, err := permission.Unmarshal(cu.Permissions)
	if err != nil {
		// A corrupt snapshot must not grant anything.
		ps = permission.Set{}
	}

	return &Membership{
		Role:        cu.Role,
		Permissions: ps,
		Active:      cu.Active,
	}, nil
}
