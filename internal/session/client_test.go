package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"agentdash/internal/credentials"
)

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if Expired(mintToken(t, now.Add(time.Minute)), now) {
		t.Fatalf("future exp should be valid")
	}
	if !Expired(mintToken(t, now.Add(-time.Minute)), now) {
		t.Fatalf("past exp should be expired")
	}
	if !Expired("not-a-jwt", now) {
		t.Fatalf("garbage should count as expired")
	}
	if _, err := Expiry("a.b.c"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestExpiryWithoutClaim(t *testing.T) {
	t.Parallel()

	// {"alg":"none"}.{"sub":"x"}.
	tok := "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0."
	if _, err := Expiry(tok); !errors.Is(err, ErrNoExpiry) {
		t.Fatalf("expected ErrNoExpiry, got %v", err)
	}
	if !Expired(tok, time.Now()) {
		t.Fatalf("token without exp should count as expired")
	}
}

func TestEnsureValidTokenKeepsValidToken(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend(t)
	c := fb.client(t, credentials.NewMemoryStore())
	tok := mintToken(t, time.Now().Add(time.Hour))

	got, err := c.EnsureValidToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("EnsureValidToken: %v", err)
	}
	if got != tok {
		t.Fatalf("expected token unchanged")
	}
	if refresh, _ := fb.calls(); refresh != 0 {
		t.Fatalf("expected no refresh, got %d", refresh)
	}
}

func TestExpiredTokenRefreshedBeforeUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t)
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	stale := mintToken(t, time.Now().Add(-time.Minute))
	_ = credentials.New(store).SetToken(ctx, stale)

	if _, err := c.CheckAuth(ctx); err != nil {
		t.Fatalf("CheckAuth: %v", err)
	}
	if refresh, _ := fb.calls(); refresh != 1 {
		t.Fatalf("expected one refresh, got %d", refresh)
	}
	for _, sent := range fb.tokens() {
		if sent == stale || Expired(sent, time.Now()) {
			t.Fatalf("expired token was sent: %q", sent)
		}
	}
	stored, _, _ := credentials.New(store).Token(ctx)
	if stored == stale {
		t.Fatalf("expected refreshed token stored")
	}
}

func TestRefreshFailureClearsCredentials(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t, func(fb *fakeBackend) { fb.refreshStatus = http.StatusUnauthorized })
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(-time.Minute)))

	_, err := c.ResolveToken(ctx)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, ok, _ := credentials.New(store).Token(ctx); ok {
		t.Fatalf("expected credentials cleared")
	}
	if _, me := fb.calls(); me != 0 {
		t.Fatalf("no request should be sent with a dead session")
	}
}

func TestExpiredRefreshResultNeverSent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t, func(fb *fakeBackend) {
		fb.meStatuses = []int{http.StatusUnauthorized}
		fb.refreshToken = mintToken(t, time.Now().Add(-time.Hour))
	})
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(time.Hour)))

	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/auth/me"})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if refresh, me := fb.calls(); refresh != 1 || me != 1 {
		t.Fatalf("expected 1 refresh and no retry, got refresh=%d me=%d", refresh, me)
	}
	for _, sent := range fb.tokens() {
		if Expired(sent, time.Now()) {
			t.Fatalf("expired token was sent: %q", sent)
		}
	}
	if _, ok, _ := credentials.New(store).Token(ctx); ok {
		t.Fatalf("expected credentials cleared")
	}
}

func TestUnauthorizedRetriedOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t, func(fb *fakeBackend) { fb.meStatuses = []int{http.StatusUnauthorized} })
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(time.Hour)))

	u, err := c.CheckAuth(ctx)
	if err != nil {
		t.Fatalf("CheckAuth: %v", err)
	}
	if u.Email != "a@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}
	if refresh, me := fb.calls(); refresh != 1 || me != 2 {
		t.Fatalf("expected 1 refresh and 2 calls, got %d and %d", refresh, me)
	}
}

func TestSecondUnauthorizedEndsSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t, func(fb *fakeBackend) {
		fb.meStatuses = []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized}
	})
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(time.Hour)))

	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/auth/me"})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	refresh, me := fb.calls()
	if refresh != 1 {
		t.Fatalf("expected exactly one refresh, got %d", refresh)
	}
	if me != 2 {
		t.Fatalf("expected exactly two attempts, got %d", me)
	}
	if _, ok, _ := credentials.New(store).Token(ctx); ok {
		t.Fatalf("expected credentials cleared")
	}
}

func TestZeroRetriesSurfaceFirstUnauthorized(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t, func(fb *fakeBackend) { fb.meStatuses = []int{http.StatusUnauthorized} })
	store := credentials.NewMemoryStore()
	c := fb.client(t, store, WithMaxRefreshRetries(0))
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(time.Hour)))

	if _, err := c.Do(ctx, Request{Path: "/auth/me"}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if refresh, me := fb.calls(); refresh != 0 || me != 1 {
		t.Fatalf("expected no retry, got refresh=%d me=%d", refresh, me)
	}
}

func TestNoTokenRequiresAuth(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend(t)
	c := fb.client(t, credentials.NewMemoryStore())
	if _, err := c.CheckAuth(context.Background()); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if _, me := fb.calls(); me != 0 {
		t.Fatalf("expected no network call")
	}
}

func TestServiceUnavailableClassified(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t)
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(time.Hour)))

	err := c.DoJSON(ctx, Request{Path: "/cold"}, nil)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Detail != "warming up" {
		t.Fatalf("expected detail, got %v", err)
	}
}

func TestLoginStoresTokenAndLoadsUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t)
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)

	msg, err := c.Login(ctx, "a@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if msg != "Login successful." {
		t.Fatalf("unexpected message %q", msg)
	}
	if _, ok, _ := credentials.New(store).Token(ctx); !ok {
		t.Fatalf("expected token stored")
	}
	u := c.User()
	if u == nil || u.ID != 7 || u.CreatedAt.IsZero() {
		t.Fatalf("expected cached user, got %+v", u)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c.User() != nil {
		t.Fatalf("expected user cleared")
	}
	if _, ok, _ := credentials.New(store).Token(ctx); ok {
		t.Fatalf("expected token cleared")
	}
}

func TestLoginFailureDetail(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend(t)
	c := fb.client(t, credentials.NewMemoryStore())
	_, err := c.Login(context.Background(), "a@example.com", "wrong")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Detail != "Invalid credentials" {
		t.Fatalf("expected Invalid credentials, got %v", err)
	}
}

func TestSignupMessages(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend(t)
	c := fb.client(t, credentials.NewMemoryStore())

	res, err := c.Signup(context.Background(), "new@example.com", "pw")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if !strings.HasSuffix(res.Message, signupDemoSuffix) {
		t.Fatalf("expected demo wording, got %q", res.Message)
	}
	if res.User.Status != StatusPending || res.User.Role != RoleMember || res.User.ID != 12 {
		t.Fatalf("unexpected user %+v", res.User)
	}

	_, err = c.Signup(context.Background(), "taken@example.com", "pw")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !strings.Contains(httpErr.Detail, "already registered") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestApprove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t)
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(time.Hour)))

	msg, err := c.Approve(ctx, 3)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if msg != "User 3 approved" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestPendingUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t)
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	_ = credentials.New(store).SetToken(ctx, mintToken(t, time.Now().Add(time.Hour)))

	users, err := c.PendingUsers(ctx)
	if err != nil {
		t.Fatalf("PendingUsers: %v", err)
	}
	if len(users) != 2 || users[0].ID != 4 || users[1].Email != "b@example.com" {
		t.Fatalf("unexpected users %+v", users)
	}
	if users[0].Status != StatusPending || users[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected first user %+v", users[0])
	}
	if sent := fb.tokens(); len(sent) != 1 {
		t.Fatalf("expected one authenticated call, got %d", len(sent))
	}
}

func TestOpenStreamSendsTokenInQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := newFakeBackend(t)
	store := credentials.NewMemoryStore()
	c := fb.client(t, store)
	tok := mintToken(t, time.Now().Add(time.Hour))
	_ = credentials.New(store).SetToken(ctx, tok)

	resp, err := c.OpenStream(ctx, "/stream")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	_ = resp.Body.Close()

	q, _ := url.ParseQuery(fb.query())
	if q.Get("token") != tok {
		t.Fatalf("expected token in query, got %q", fb.query())
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	if _, err := New("/api", credentials.New(credentials.NewMemoryStore())); err == nil {
		t.Fatalf("expected error for relative base url")
	}
}
