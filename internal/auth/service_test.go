package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentdesk/internal/storage/storagetest"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestParseTokenRoundTrip(t *testing.T) {
	a := NewAuthorizer(storagetest.Open(t), testSecret)
	token, exp, err := IssueToken(testSecret, "user-1", "", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if time.Until(exp) < 59*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := a.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims["sub"] != "user-1" {
		t.Fatalf("unexpected subject %v", claims["sub"])
	}
}

func TestParseTokenRejects(t *testing.T) {
	a := NewAuthorizer(storagetest.Open(t), testSecret)
	other, _, _ := IssueToken("other-secret", "user-1", "", time.Hour)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))

	cases := map[string]string{
		"wrong secret": other,
		"expired":      expired,
		"no subject":   noSubject,
		"garbage":      "not.a.token",
	}
	for name, token := range cases {
		if _, err := a.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
	if _, err := a.ParseToken(""); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
	if _, err := NewAuthorizer(nil, "").ParseToken(other); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
}

func TestCapabilitiesResolution(t *testing.T) {
	db := storagetest.Open(t)
	a := NewAuthorizer(db, testSecret)
	orgA := storagetest.Organization(t, db, "")
	orgB := storagetest.Organization(t, db, "")
	storagetest.Exec(t, db, `INSERT INTO organization_members (organization_id, user_id, role) VALUES (?, 'member', 'owner')`, orgA)
	storagetest.Exec(t, db, `INSERT INTO users (id, role) VALUES ('root', 'super_admin')`)

	caps, err := a.Capabilities(context.Background(), "member", jwt.MapClaims{})
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if caps.SuperAdmin || !caps.CanAccess(orgA) || caps.CanAccess(orgB) || caps.Organizations[orgA] != "owner" {
		t.Fatalf("unexpected member capabilities %+v", caps)
	}

	caps, err = a.Capabilities(context.Background(), "root", jwt.MapClaims{})
	if err != nil || !caps.SuperAdmin || !caps.CanAccess(orgB) {
		t.Fatalf("users table role should grant super admin: %+v %v", caps, err)
	}

	claims := jwt.MapClaims{"user_metadata": map[string]interface{}{"role": "super_admin"}}
	caps, err = a.Capabilities(context.Background(), "stranger", claims)
	if err != nil || !caps.SuperAdmin {
		t.Fatalf("metadata role should grant super admin: %+v %v", caps, err)
	}

	caps, err = a.Capabilities(context.Background(), "stranger", jwt.MapClaims{})
	if err != nil || caps.SuperAdmin || caps.CanAccess(orgA) {
		t.Fatalf("stranger must have no access: %+v %v", caps, err)
	}
}

func newRouter(a *Authorizer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", a.Middleware())
	api.GET("/orgs/:org_id", RequireOrganization("org_id"), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.GET("/admin", RequireSuperAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/jobs", CronGuard("cron-secret"), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doRequest(r http.Handler, method, path, authorization string) int {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddlewareEnforcesCapabilities(t *testing.T) {
	db := storagetest.Open(t)
	org := storagetest.Organization(t, db, "")
	storagetest.Exec(t, db, `INSERT INTO organization_members (organization_id, user_id, role) VALUES (?, 'member', 'admin')`, org)
	r := newRouter(NewAuthorizer(db, testSecret))

	member, _, _ := IssueToken(testSecret, "member", "", time.Hour)
	admin, _, _ := IssueToken(testSecret, "root", RoleSuperAdmin, time.Hour)

	cases := []struct {
		name, path, auth string
		want             int
	}{
		{"no token", "/api/orgs/" + org, "", http.StatusUnauthorized},
		{"bad token", "/api/orgs/" + org, "Bearer nope", http.StatusUnauthorized},
		{"member own org", "/api/orgs/" + org, "Bearer " + member, http.StatusOK},
		{"member other org", "/api/orgs/other", "Bearer " + member, http.StatusForbidden},
		{"member admin route", "/api/admin", "Bearer " + member, http.StatusForbidden},
		{"super admin", "/api/admin", "Bearer " + admin, http.StatusOK},
		{"super admin any org", "/api/orgs/other", "Bearer " + admin, http.StatusOK},
	}
	for _, tc := range cases {
		if got := doRequest(r, http.MethodGet, tc.path, tc.auth); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestCronGuard(t *testing.T) {
	r := newRouter(NewAuthorizer(storagetest.Open(t), testSecret))
	if got := doRequest(r, http.MethodPost, "/jobs", "Bearer wrong"); got != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", got)
	}
	if got := doRequest(r, http.MethodPost, "/jobs", ""); got != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", got)
	}
	if got := doRequest(r, http.MethodPost, "/jobs", "Bearer cron-secret"); got != http.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}
}
