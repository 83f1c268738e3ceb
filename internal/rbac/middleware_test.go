package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"consultation-service/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, userID, orgID, role string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, orgID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, "u", "", RoleSuperAdmin, RequireOrg(), RequireAnyRole(RoleCoordinator)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serve(t, "appointments", "", RoleService, RequireAnyRole(RoleClinician)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "appointments", "", RoleService, RequireOrg(), RequireAnyRole(RoleClinician, RoleService)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_PatientDenied(t *testing.T) {
	if code := serve(t, "p", "", RolePatient, RequireAnyRole(RoleClinician, RoleCoordinator)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireOrg_StaffNeedOrg(t *testing.T) {
	if code := serve(t, "d", "", RoleClinician, RequireOrg(), RequireAnyRole(RoleClinician)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := serve(t, "d", "clinic-1", RoleClinician, RequireOrg(), RequireAnyRole(RoleClinician)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestCanReadAnySession(t *testing.T) {
	for role, want := range map[string]bool{
		RoleCoordinator: true, RoleSuperAdmin: true, RoleService: true,
		RoleClinician: false, RolePatient: false,
	} {
		if got := CanReadAnySession(role); got != want {
			t.Fatalf("%s: expected %v, got %v", role, want, got)
		}
	}
}
