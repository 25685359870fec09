package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agentdash/internal/credentials"
)

var testSecret = []byte("test-secret")

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "a@example.com", "exp": exp.Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// fakeBackend records calls and answers the session endpoints.
type fakeBackend struct {
	t *testing.T

	mu            sync.Mutex
	refreshCalls  int
	meCalls       int
	meStatuses    []int
	refreshStatus int
	refreshToken  string
	user          User
	sentTokens    []string
	lastQuery     string

	srv *httptest.Server
}

func newFakeBackend(t *testing.T, setup ...func(*fakeBackend)) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		t:             t,
		refreshStatus: http.StatusOK,
		user:          User{ID: 7, Email: "a@example.com", Role: RoleMember, Status: StatusApproved},
	}
	for _, fn := range setup {
		fn(fb)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", fb.handleRefresh)
	mux.HandleFunc("GET /auth/me", fb.handleMe)
	mux.HandleFunc("POST /auth/login", fb.handleLogin)
	mux.HandleFunc("POST /auth/signup", fb.handleSignup)
	mux.HandleFunc("POST /auth/check-email", fb.handleCheckEmail)
	mux.HandleFunc("POST /auth/approve/{id}", fb.handleApprove)
	mux.HandleFunc("GET /auth/pending", fb.handlePending)
	mux.HandleFunc("GET /cold", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "warming up"})
	})
	mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.lastQuery = r.URL.RawQuery
		fb.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"event\":\"connected\"}\n\n"))
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) client(t *testing.T, store credentials.Store, opts ...Option) *Client {
	t.Helper()
	c, err := New(fb.srv.URL, credentials.New(store), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func (fb *fakeBackend) calls() (refresh, me int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.refreshCalls, fb.meCalls
}

func (fb *fakeBackend) tokens() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.sentTokens...)
}

func (fb *fakeBackend) query() string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.lastQuery
}

func (fb *fakeBackend) bearer(r *http.Request) string {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	fb.mu.Lock()
	fb.sentTokens = append(fb.sentTokens, tok)
	fb.mu.Unlock()
	return tok
}

func (fb *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	fb.refreshCalls++
	status := fb.refreshStatus
	tok := fb.refreshToken
	fb.mu.Unlock()

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "token required"})
		return
	}
	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{"detail": "Invalid or expired refresh token"})
		return
	}
	if tok == "" {
		tok = mintToken(fb.t, time.Now().Add(time.Hour))
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": tok, "token_type": "bearer"})
}

func (fb *fakeBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	fb.bearer(r)
	fb.mu.Lock()
	fb.meCalls++
	status := http.StatusOK
	if len(fb.meStatuses) > 0 {
		status = fb.meStatuses[0]
		fb.meStatuses = fb.meStatuses[1:]
	}
	user := fb.user
	fb.mu.Unlock()

	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{"detail": "Invalid token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"role":       user.Role,
		"status":     user.Status,
		"created_at": "2024-01-15T10:30:00.123456",
	})
}

func (fb *fakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Password != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": mintToken(fb.t, time.Now().Add(time.Hour)),
		"message":      "Login successful.",
	})
}

func (fb *fakeBackend) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Email == "taken@example.com" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email already registered. Please log in."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": 12, "email": body.Email})
}

func (fb *fakeBackend) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
}

func (fb *fakeBackend) handleApprove(w http.ResponseWriter, r *http.Request) {
	fb.bearer(r)
	writeJSON(w, http.StatusOK, map[string]any{"message": "User " + r.PathValue("id") + " approved"})
}

func (fb *fakeBackend) handlePending(w http.ResponseWriter, r *http.Request) {
	fb.bearer(r)
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": 4, "email": "a@example.com", "role": "member", "status": "pending", "created_at": "2024-01-15T10:30:00Z"},
		{"id": 5, "email": "b@example.com", "role": "member", "status": "pending", "created_at": "2024-01-16T08:00:00Z"},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
