// Package permission implements the role-based permission model that gates
// every mutation in the service.
//
// Permission sets are closed structures keyed by resource and action. Any
// lookup outside the known keys fails closed: CanAccess never panics and
// never returns true for something it does not recognize.
package permission

import "encoding/json"

// Resource identifies a guarded resource class.
type Resource string

const (
	ResourceExpenses   Resource = "expenses"
	ResourceInvoices   Resource = "invoices"
	ResourceSuppliers  Resource = "suppliers"
	ResourceCategories Resource = "categories"
	ResourceReports    Resource = "reports"
	ResourceCompany    Resource = "company"
)

// Action identifies an operation on a resource.
type Action string

const (
	ActionCreate         Action = "create"
	ActionRead           Action = "read"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionExport         Action = "export"
	ActionManageUsers    Action = "manage_users"
	ActionManageSettings Action = "manage_settings"
)

// Roles a user can hold within a company.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// Actions is the set of allowed actions on a single resource.
type Actions map[Action]bool

// Set maps each resource to its allowed actions. A nil or empty Set
// grants nothing.
type Set map[Resource]Actions

// CanAccess reports whether the permission set allows the given action on
// the given resource. It fails closed: a nil set, an unknown resource or
// an unknown action all yield false.
func CanAccess(ps Set, resource Resource, action Action) bool {
	if ps == nil {
		return false
	}
	actions, ok := ps[resource]
	if !ok {
		return false
	}
	return actions[action]
}

// crudResources are the resources governed by plain create/read/update/delete
// flags plus export on reports.
var crudResources = []Resource{
	ResourceExpenses,
	ResourceInvoices,
	ResourceSuppliers,
	ResourceCategories,
	ResourceReports,
}

// Defaults returns the default permission set for a role. Memberships take
// a snapshot of this at invite time; changing the defaults later does not
// affect existing memberships.
func Defaults(role string) Set {
	ps := Set{}
	switch role {
	case RoleOwner:
		for _, r := range crudResources {
			ps[r] = Actions{ActionCreate: true, ActionRead: true, ActionUpdate: true, ActionDelete: true}
		}
		ps[ResourceReports][ActionExport] = true
		ps[ResourceCompany] = Actions{
			ActionRead:           true,
			ActionUpdate:         true,
			ActionManageUsers:    true,
			ActionManageSettings: true,
		}
	case RoleAdmin:
		for _, r := range crudResources {
			ps[r] = Actions{ActionCreate: true, ActionRead: true, ActionUpdate: true, ActionDelete: true}
		}
		ps[ResourceCategories][ActionDelete] = false
		ps[ResourceReports][ActionExport] = true
		ps[ResourceCompany] = Actions{
			ActionRead:        true,
			ActionUpdate:      true,
			ActionManageUsers: true,
		}
	case RoleMember, "user":
		ps[ResourceExpenses] = Actions{ActionCreate: true, ActionRead: true, ActionUpdate: true}
		ps[ResourceInvoices] = Actions{ActionCreate: true, ActionRead: true, ActionUpdate: true}
		ps[ResourceReports] = Actions{ActionCreate: true, ActionRead: true, ActionUpdate: true}
		ps[ResourceSuppliers] = Actions{ActionRead: true}
		ps[ResourceCategories] = Actions{ActionRead: true}
	case RoleViewer:
		for _, r := range crudResources {
			ps[r] = Actions{ActionRead: true}
		}
		ps[ResourceCompany] = Actions{ActionRead: true}
	default:
		// Unknown role grants nothing.
	}
	return ps
}

// DeniedError reports a specific action the caller was not allowed to
// perform. Membership existed; the flag did not.
type DeniedError struct {
	Resource Resource
	Action   Action
}

func (e *DeniedError) Error() string {
	return "permission denied: " + string(e.Action) + " on " + string(e.Resource)
}

// Require returns a DeniedError unless the set allows the action.
func Require(ps Set, resource Resource, action Action) error {
	if !CanAccess(ps, resource, action) {
		return &DeniedError{Resource: resource, Action: action}
	}
	return nil
}

// Marshal encodes a permission set as JSON for storage on a membership row.
func Marshal(ps Set) (string, error) {
	b, err := json.Marshal(ps)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal decodes a stored permission snapshot. An empty string yields an
// empty (deny-all) set rather than an error, so a missing snapshot fails
// closed.
func Unmarshal(raw string) (Set, error) {
	if raw == "" {
		return Set{}, nil
	}
	var ps Set
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return nil, err
	}
	return ps, nil
}
