package permission

import "testing"

func TestCanAccessFailsClosed(t *testing.T) {
	if CanAccess(nil, ResourceExpenses, ActionRead) {
		t.Fatal("nil set must deny everything")
	}

	ps := Defaults(RoleOwner)
	if CanAccess(ps, Resource("unknown"), ActionRead) {
		t.Fatal("unknown resource must be denied")
	}
	if CanAccess(ps, ResourceExpenses, Action("unknown")) {
		t.Fatal("unknown action must be denied")
	}
}

func TestOwnerDefaults(t *testing.T) {
	ps := Defaults(RoleOwner)

	checks := []struct {
		resource Resource
		action   Action
	}{
		{ResourceExpenses, ActionCreate},
		{ResourceExpenses, ActionDelete},
		{ResourceInvoices, ActionDelete},
		{ResourceCategories, ActionDelete},
		{ResourceReports, ActionExport},
		{ResourceCompany, ActionManageUsers},
		{ResourceCompany, ActionManageSettings},
	}
	for _, c := range checks {
		if !CanAccess(ps, c.resource, c.action) {
			t.Errorf("owner should be allowed %s on %s", c.action, c.resource)
		}
	}
}

func TestAdminDefaults(t *testing.T) {
	ps := Defaults(RoleAdmin)

	if !CanAccess(ps, ResourceInvoices, ActionDelete) {
		t.Error("admin should be allowed to delete invoices")
	}
	if CanAccess(ps, ResourceCategories, ActionDelete) {
		t.Error("admin must not delete categories")
	}
	if CanAccess(ps, ResourceCompany, ActionManageSettings) {
		t.Error("admin must not manage company settings")
	}
	if !CanAccess(ps, ResourceCompany, ActionManageUsers) {
		t.Error("admin should manage users")
	}
}

func TestMemberDefaults(t *testing.T) {
	ps := Defaults(RoleMember)

	if !CanAccess(ps, ResourceExpenses, ActionCreate) {
		t.Error("member should create expenses")
	}
	if !CanAccess(ps, ResourceExpenses, ActionUpdate) {
		t.Error("member should update expenses")
	}
	if CanAccess(ps, ResourceExpenses, ActionDelete) {
		t.Error("member must not delete expenses")
	}
	if CanAccess(ps, ResourceCategories, ActionUpdate) {
		t.Error("member is read-only on categories")
	}
	if CanAccess(ps, ResourceCompany, ActionManageUsers) {
		t.Error("member has no company management")
	}
}

func TestViewerDefaults(t *testing.T) {
	ps := Defaults(RoleViewer)

	// Scenario: a viewer may never create expenses.
	if CanAccess(ps, ResourceExpenses, ActionCreate) {
		t.Error("viewer must not create expenses")
	}

	for _, r := range crudResources {
		if !CanAccess(ps, r, ActionRead) {
			t.Errorf("viewer should read %s", r)
		}
		for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
			if CanAccess(ps, r, a) {
				t.Errorf("viewer must not %s %s", a, r)
			}
		}
	}
	if CanAccess(ps, ResourceCompany, ActionManageUsers) {
		t.Error("viewer has no company management")
	}
}

func TestUnknownRoleGrantsNothing(t *testing.T) {
	ps := Defaults("superhero")
	for _, r := range crudResources {
		if CanAccess(ps, r, ActionRead) {
			t.Errorf("unknown role must not read %s", r)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	raw, err := Marshal(Defaults(RoleAdmin))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ps, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !CanAccess(ps, ResourceInvoices, ActionDelete) {
		t.Error("snapshot lost invoices.delete")
	}
	if CanAccess(ps, ResourceCategories, ActionDelete) {
		t.Error("snapshot gained categories.delete")
	}
}

func TestUnmarshalEmptyDeniesAll(t *testing.T) {
	ps, err := Unmarshal("")
	if err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if CanAccess(ps, ResourceExpenses, ActionRead) {
		t.Error("missing snapshot must deny everything")
	}
}
