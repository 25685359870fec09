package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

const (
	signupPendingMessage = "Account created! Waiting for admin approval."
	signupDemoSuffix     = " You can access DevBot demo."
)

// Login exchanges credentials for a token, stores it and loads the account.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out tokenResponse
	err := c.publicJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   credentialsRequest{Email: email, Password: password},
	}, &out)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("login returned no access_token")
	}
	if err := c.creds.SetToken(ctx, out.AccessToken); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	if _, err := c.CheckAuth(ctx); err != nil {
		return "", err
	}
	c.logger.Info("logged in", "email", email)
	if out.Message != "" {
		return out.Message, nil
	}
	return "Login successful!", nil
}

type SignupResult struct {
	User    User
	Message string
}

// Signup registers a member account awaiting approval. When the backend
// hands back a token it is stored so the demo capacity is usable at once.
func (c *Client) Signup(ctx context.Context, email, password string) (SignupResult, error) {
	var out struct {
		tokenResponse
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}
	err := c.publicJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/signup",
		Body:   credentialsRequest{Email: email, Password: password},
	}, &out)
	if err != nil {
		return SignupResult{}, err
	}

	user := User{ID: out.ID, Email: email, Role: RoleMember, Status: StatusPending}
	if out.Email != "" {
		user.Email = out.Email
	}
	if out.AccessToken != "" {
		if err := c.creds.SetToken(ctx, out.AccessToken); err != nil {
			return SignupResult{}, fmt.Errorf("store token: %w", err)
		}
	}
	c.setUser(&user)

	msg := signupPendingMessage
	exists, err := c.CheckEmail(ctx, user.Email)
	if err != nil {
		c.logger.Warn("check email after signup", "err", err)
	} else if exists {
		msg += signupDemoSuffix
	}
	return SignupResult{User: user, Message: msg}, nil
}

// Logout forgets the token and the cached account.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.creds.ClearToken(ctx); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	c.setUser(nil)
	return nil
}

// CheckAuth fetches /auth/me and replaces the cached account. A rejected
// session clears the stored token; transport errors and cold starts leave
// it in place.
func (c *Client) CheckAuth(ctx context.Context) (*User, error) {
	var u User
	err := c.DoJSON(ctx, Request{Method: http.MethodGet, Path: "/auth/me"}, &u)
	if err != nil {
		var httpErr *HTTPError
		if (errors.As(err, &httpErr) && !httpErr.Temporary()) || errors.Is(err, ErrSessionExpired) {
			c.dropSession(ctx)
		}
		if errors.Is(err, ErrAuthRequired) {
			c.setUser(nil)
		}
		return nil, err
	}
	c.setUser(&u)
	return c.User(), nil
}

// CurrentUser returns the cached account, checking with the backend when
// nothing is cached yet.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	if u := c.User(); u != nil {
		return u, nil
	}
	return c.CheckAuth(ctx)
}

// Approve marks a pending account as approved (admin only).
func (c *Client) Approve(ctx context.Context, userID int64) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.DoJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/approve/" + strconv.FormatInt(userID, 10),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

// PendingUsers lists accounts awaiting approval (admin only), oldest first.
func (c *Client) PendingUsers(ctx context.Context) ([]User, error) {
	var out []User
	err := c.DoJSON(ctx, Request{Method: http.MethodGet, Path: "/auth/pending"}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckEmail reports whether the backend knows the address.
func (c *Client) CheckEmail(ctx context.Context, email string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	err := c.publicJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/check-email",
		Body:   map[string]string{"email": email},
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Exists, nil
}
