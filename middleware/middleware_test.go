package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"donation-workflow-api/workflow"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		userID, role, _ := Identity(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": role})
	})
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(AuthMiddleware(testSecret), RequireRole(workflow.RoleAdmin))

	if w := do(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: got %d", w.Code)
	}
	if w := do(r, "garbage"); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: got %d", w.Code)
	}

	forged, _ := GenerateToken("other-secret", "u1", "", workflow.RoleAdmin, time.Hour)
	if w := do(r, forged); w.Code != http.StatusUnauthorized {
		t.Fatalf("token signed with another secret must be refused, got %d", w.Code)
	}

	doctorToken, _ := GenerateToken(testSecret, "doc-1", "doc@example.org", workflow.RoleDoctor, time.Hour)
	if w := do(r, doctorToken); w.Code != http.StatusForbidden {
		t.Fatalf("doctor on admin route: got %d", w.Code)
	}

	adminToken, _ := GenerateToken(testSecret, "admin-1", "", workflow.RoleAdmin, time.Hour)
	if w := do(r, adminToken); w.Code != http.StatusOK {
		t.Fatalf("admin: got %d %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddlewareRejectsUnknownRole(t *testing.T) {
	r := newRouter(AuthMiddleware(testSecret))
	token, _ := GenerateToken(testSecret, "u1", "", workflow.Role("superuser"), time.Hour)
	if w := do(r, token); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown role claim: got %d", w.Code)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(testSecret, "donor-1", "d@example.org", workflow.RoleDonor, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseToken(testSecret, token)
	if err != nil || claims.UserID != "donor-1" || claims.Role != "donor" {
		t.Fatalf("ParseToken = %+v, %v", claims, err)
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	r := newRouter(limiter.Middleware())

	codes := []int{do(r, "").Code, do(r, "").Code, do(r, "").Code}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	off := newRouter(NewRateLimiter(0, 1).Middleware())
	for i := 0; i < 5; i++ {
		if w := do(off, ""); w.Code != http.StatusOK {
			t.Fatalf("disabled limiter refused request %d", i)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.org/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.org" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unknown origin must not be allowed")
	}
}
