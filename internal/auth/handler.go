package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

const (
	loginPendingMessage  = "Logged in with demo access — awaiting admin approval."
	loginApprovedMessage = "Login successful."
	signupMessage        = "Account created! Awaiting admin approval."
)

// Auditor records account actions. userID is nil for guests.
type Auditor interface {
	Record(ctx context.Context, userID *int64, action string) error
}

type Handler struct {
	Service *Service
	Audit   Auditor
	Logger  *slog.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (credentialsRequest, bool) {
	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, false
	}
	body.Email = strings.TrimSpace(body.Email)
	if !strings.Contains(body.Email, "@") || body.Password == "" {
		return body, false
	}
	return body, true
}

func (h *Handler) audit(ctx context.Context, userID int64, action string) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.Record(ctx, &userID, action); err != nil {
		h.Logger.Error("audit", "action", action, "err", err)
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(r)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}
	user, token, err := h.Service.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.Logger.Error("login", "email", body.Email, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Login failed due to server error. Please try again.")
		return
	}
	h.audit(r.Context(), user.ID, "login")
	msg := loginApprovedMessage
	if user.Status == StatusPending {
		msg = loginPendingMessage
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"role":         user.Role,
		"status":       user.Status,
		"message":      msg,
	})
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(r)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}
	user, err := h.Service.Signup(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeDetail(w, http.StatusBadRequest, "Email already registered. Please log in.")
			return
		}
		h.Logger.Error("signup", "email", body.Email, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Signup failed due to server error. Please try again.")
		return
	}
	h.Logger.Info("account created", "user_id", user.ID, "email", user.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"role":       user.Role,
		"status":     user.Status,
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339Nano),
		"message":    signupMessage,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	admin, _ := UserFromContext(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid user id")
		return
	}
	user, err := h.Service.Store().SetStatus(r.Context(), id, StatusApproved)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeDetail(w, http.StatusNotFound, "User not found")
			return
		}
		h.Logger.Error("approve", "user_id", id, "err", err)
		writeDetail(w, http.StatusInternalServerError, "approve failed")
		return
	}
	if admin != nil {
		h.audit(r.Context(), admin.ID, "approved user "+user.Email)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User " + user.Email + " approved",
		"id":      user.ID,
	})
}

// Pending lists accounts awaiting approval.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.Store().ListByStatus(r.Context(), StatusPending)
	if err != nil {
		h.Logger.Error("list pending", "err", err)
		writeDetail(w, http.StatusInternalServerError, "list failed")
		return
	}
	if users == nil {
		users = []User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "token is required")
		return
	}
	token, err := h.Service.Refresh(r.Context(), body.Token)
	if err != nil {
		h.Logger.Info("refresh rejected", "err", err)
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

// CheckEmail takes the address from the email query parameter or a JSON body.
func (h *Handler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		var body struct {
			Email string `json:"email"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		email = body.Email
	}
	if email == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	_, err := h.Service.Store().GetByEmail(r.Context(), email)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
	default:
		h.Logger.Error("check email", "err", err)
		writeDetail(w, http.StatusInternalServerError, "lookup failed")
	}
}
