package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"agentdash/internal/logging"
)

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *memAudit) Record(_ context.Context, _ *int64, action string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *Service, *memAudit) {
	t.Helper()
	svc := NewService(newTestStore(t), "secret")
	audit := &memAudit{}
	h := &Handler{Service: svc, Audit: audit, Logger: logging.Discard()}
	secured := JWTMiddleware(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/signup", h.Signup)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.HandleFunc("POST /auth/check-email", h.CheckEmail)
	mux.Handle("GET /auth/me", secured(http.HandlerFunc(h.Me)))
	mux.Handle("POST /auth/approve/{id}", secured(RequireRole(h.Approve, RoleAdmin)))
	mux.Handle("GET /auth/pending", secured(RequireRole(h.Pending, RoleAdmin)))
	return mux, svc, audit
}

func do(t *testing.T, mux http.Handler, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.NewDecoder(rec.Body).Decode(&out)
	return rec.Code, out
}

func TestAccountFlow(t *testing.T) {
	t.Parallel()

	mux, svc, audit := newTestMux(t)
	ctx := context.Background()
	if _, err := svc.Store().Create(ctx, "admin@example.com", "admin", RoleAdmin, StatusApproved); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	creds := map[string]string{"email": "dev@example.com", "password": "pw"}

	code, out := do(t, mux, http.MethodPost, "/auth/signup", "", creds)
	if code != http.StatusOK || out["status"] != "pending" || out["message"] != signupMessage {
		t.Fatalf("signup: %d %v", code, out)
	}
	userID := int64(out["id"].(float64))

	code, out = do(t, mux, http.MethodPost, "/auth/signup", "", creds)
	if code != http.StatusBadRequest || out["detail"] != "Email already registered. Please log in." {
		t.Fatalf("duplicate signup: %d %v", code, out)
	}

	code, out = do(t, mux, http.MethodPost, "/auth/login", "", creds)
	if code != http.StatusOK || out["message"] != loginPendingMessage {
		t.Fatalf("pending login: %d %v", code, out)
	}
	memberToken := out["access_token"].(string)

	code, out = do(t, mux, http.MethodGet, "/auth/me", memberToken, nil)
	if code != http.StatusOK || out["email"] != "dev@example.com" || out["status"] != "pending" {
		t.Fatalf("me: %d %v", code, out)
	}

	code, out = do(t, mux, http.MethodPost, "/auth/approve/1", memberToken, nil)
	if code != http.StatusForbidden || out["detail"] != "Admin access required" {
		t.Fatalf("member approve: %d %v", code, out)
	}

	_, out = do(t, mux, http.MethodPost, "/auth/login", "", map[string]string{"email": "admin@example.com", "password": "admin"})
	adminToken := out["access_token"].(string)

	code, out = do(t, mux, http.MethodPost, "/auth/approve/999", adminToken, nil)
	if code != http.StatusNotFound || out["detail"] != "User not found" {
		t.Fatalf("approve unknown: %d %v", code, out)
	}
	code, out = do(t, mux, http.MethodPost, "/auth/approve/"+strconv.FormatInt(userID, 10), adminToken, nil)
	if code != http.StatusOK || out["message"] != "User dev@example.com approved" {
		t.Fatalf("approve: %d %v", code, out)
	}

	code, out = do(t, mux, http.MethodPost, "/auth/login", "", creds)
	if code != http.StatusOK || out["message"] != loginApprovedMessage {
		t.Fatalf("approved login: %d %v", code, out)
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	want := []string{"login", "login", "approved user dev@example.com", "login"}
	if len(audit.actions) != len(want) {
		t.Fatalf("audit actions: %v", audit.actions)
	}
	for i := range want {
		if audit.actions[i] != want[i] {
			t.Fatalf("audit actions: %v", audit.actions)
		}
	}
}

func TestPendingListsAccountsAwaitingApproval(t *testing.T) {
	t.Parallel()

	mux, svc, _ := newTestMux(t)
	ctx := context.Background()
	store := svc.Store()
	admin, err := store.Create(ctx, "admin@example.com", "admin", RoleAdmin, StatusApproved)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	member, err := store.Create(ctx, "m@example.com", "pw", RoleMember, StatusPending)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	adminToken, _ := svc.IssueToken(admin)
	memberToken, _ := svc.IssueToken(member)

	if code, _ := do(t, mux, http.MethodGet, "/auth/pending", memberToken, nil); code != http.StatusForbidden {
		t.Fatalf("member pending: %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/pending", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var users []User
	if err := json.NewDecoder(rec.Body).Decode(&users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || len(users) != 1 || users[0].Email != "m@example.com" {
		t.Fatalf("pending: %d %+v", rec.Code, users)
	}

	if _, err := store.SetStatus(ctx, member.ID, StatusApproved); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req.Clone(ctx))
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected empty list, got %s", got)
	}
}

func TestLoginRejections(t *testing.T) {
	t.Parallel()

	mux, _, _ := newTestMux(t)

	code, out := do(t, mux, http.MethodPost, "/auth/login", "", map[string]string{"email": "x@example.com", "password": "pw"})
	if code != http.StatusUnauthorized || out["detail"] != "Invalid credentials" {
		t.Fatalf("unknown user: %d %v", code, out)
	}
	code, _ = do(t, mux, http.MethodPost, "/auth/login", "", map[string]string{"email": "not-an-email"})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed login: %d", code)
	}
	code, out = do(t, mux, http.MethodGet, "/auth/me", "", nil)
	if code != http.StatusUnauthorized || out["detail"] != "Not authenticated" {
		t.Fatalf("anonymous me: %d %v", code, out)
	}
	code, out = do(t, mux, http.MethodGet, "/auth/me", "bogus", nil)
	if code != http.StatusUnauthorized || out["detail"] != "Invalid token" {
		t.Fatalf("bogus me: %d %v", code, out)
	}
}

func TestRefreshAndCheckEmail(t *testing.T) {
	t.Parallel()

	mux, svc, _ := newTestMux(t)
	u, err := svc.Store().Create(context.Background(), "r@example.com", "pw", RoleMember, StatusApproved)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	token, _ := svc.IssueToken(u)

	code, out := do(t, mux, http.MethodPost, "/auth/refresh", "", map[string]string{"token": token})
	if code != http.StatusOK || out["access_token"] == "" {
		t.Fatalf("refresh: %d %v", code, out)
	}
	code, out = do(t, mux, http.MethodPost, "/auth/refresh", "", map[string]string{"token": "junk"})
	if code != http.StatusUnauthorized || out["detail"] != "Invalid or expired refresh token" {
		t.Fatalf("bad refresh: %d %v", code, out)
	}

	_, out = do(t, mux, http.MethodPost, "/auth/check-email", "", map[string]string{"email": "R@example.com"})
	if out["exists"] != true {
		t.Fatalf("check-email body: %v", out)
	}
	_, out = do(t, mux, http.MethodPost, "/auth/check-email?email=none@example.com", "", nil)
	if out["exists"] != false {
		t.Fatalf("check-email query: %v", out)
	}
}

func TestOptionalAuth(t *testing.T) {
	t.Parallel()

	svc := NewService(newTestStore(t), "secret")
	u, err := svc.Store().Create(context.Background(), "o@example.com", "pw", RoleMember, StatusApproved)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	token, _ := svc.IssueToken(u)

	var seen *User
	h := OptionalAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name     string
		target   string
		header   string
		wantCode int
		wantUser bool
	}{
		{"guest", "/tasks/1", "", http.StatusNoContent, false},
		{"bearer", "/tasks/1", "Bearer " + token, http.StatusNoContent, true},
		{"query", "/tasks/1/stream?token=" + token, "", http.StatusNoContent, true},
		{"invalid", "/tasks/1?token=junk", "", http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.wantCode {
			t.Fatalf("%s: code %d want %d", tc.name, rec.Code, tc.wantCode)
		}
		if (seen != nil) != tc.wantUser {
			t.Fatalf("%s: user %+v", tc.name, seen)
		}
	}
}
