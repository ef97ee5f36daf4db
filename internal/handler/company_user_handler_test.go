package handler

import (
	"database/sql/driver"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ofirwie/rechnung-meister/internal/audit"
	"github.com/ofirwie/rechnung-meister/internal/company"
	"github.com/ofirwie/rechnung-meister/internal/invoice"
	"github.com/ofirwie/rechnung-meister/pkg/config"
	"github.com/ofirwie/rechnung-meister/pkg/database"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

var metricsOnce sync.Once

// newHandlerEnv points the package globals at a sqlmock-backed gorm handle.
// The caller's email is on the root-admin list so authorization resolves
// without extra membership queries.
func newHandlerEnv(t *testing.T) sqlmock.Sqlmock {
	t.Helper()

	metricsOnce.Do(func() {
		prometheus.InitMetrics(&config.Config{
			Metrics: config.MetricsConfig{Prefix: "invoicing_test"},
		})
	})

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}

	database.DB = db
	resolver = company.NewResolver(db, []string{"root@example.com"})
	auditor = audit.NewRecorder(db)
	allocator = invoice.NewAllocator(db)
	guard = invoice.NewGuard(db, auditor)
	allocRetries = 3
	return mock
}

// newRequestContext builds an echo context carrying an authenticated
// root-admin principal and a company selection.
func newRequestContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	e.Validator = NewRequestValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", uint(1))
	c.Set("email", "root@example.com")
	c.Set("company_id", uint(7))
	return c, rec
}

// jsonSnapshot matches a JSON audit snapshot argument: it must mention
// every string in want and none in reject.
type jsonSnapshot struct {
	want   []string
	reject []string
}

func (m jsonSnapshot) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, w := range m.want {
		if !strings.Contains(s, w) {
			return false
		}
	}
	for _, r := range m.reject {
		if strings.Contains(s, r) {
			return false
		}
	}
	return true
}

// A permissions-only member update must audit the permissions change and
// must not record a role change that never happened.
func TestUpdateMemberAuditsPermissionsOnlyChange(t *testing.T) {
	mock := newHandlerEnv(t)

	mock.ExpectQuery(`SELECT \* FROM "company_users" WHERE \(id = \$1 AND company_id = \$2\)`).
		WithArgs(int64(22), int64(7), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "company_id", "role", "permissions", "active"}).
			AddRow(22, 5, 7, "member", `{"invoices":{"read":true}}`, true))

	mock.ExpectExec(`UPDATE "company_users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WithArgs(
			sqlmock.AnyArg(), // actor
			"update",
			"company_users",
			int64(22),
			int64(7),
			jsonSnapshot{want: []string{"permissions"}},
			jsonSnapshot{want: []string{"permissions", "issue"}, reject: []string{"role"}},
			sqlmock.AnyArg(), // created_at
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	c, rec := newRequestContext(t, http.MethodPatch, "/api/company-users/22",
		`{"permissions":{"invoices":{"read":true,"issue":true}}}`)
	c.SetParamNames("id")
	c.SetParamValues("22")

	if err := UpdateMember(c); err != nil {
		t.Fatalf("update member: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A role change still records both the old and new role.
func TestUpdateMemberAuditsRoleChange(t *testing.T) {
	mock := newHandlerEnv(t)

	mock.ExpectQuery(`SELECT \* FROM "company_users" WHERE \(id = \$1 AND company_id = \$2\)`).
		WithArgs(int64(22), int64(7), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "company_id", "role", "permissions", "active"}).
			AddRow(22, 5, 7, "member", `{}`, true))

	mock.ExpectExec(`UPDATE "company_users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`INSERT INTO "audit_logs"`).
		WithArgs(
			sqlmock.AnyArg(),
			"update",
			"company_users",
			int64(22),
			int64(7),
			jsonSnapshot{want: []string{`"role":"member"`}},
			jsonSnapshot{want: []string{`"role":"admin"`, "permissions"}},
			sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	c, rec := newRequestContext(t, http.MethodPatch, "/api/company-users/22", `{"role":"admin"}`)
	c.SetParamNames("id")
	c.SetParamValues("22")

	if err := UpdateMember(c); err != nil {
		t.Fatalf("update member: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
