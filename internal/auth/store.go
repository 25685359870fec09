package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"agentdash/internal/db"
)

type Store struct {
	db *db.DB
}

func NewStore(conn *db.DB) *Store {
	return &Store{db: conn}
}

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

const userColumns = `id, email, password_hash, role, status, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	var created db.Time
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.CreatedAt = created.Time
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	q := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = $1`)
	return scanUser(s.db.QueryRowContext(ctx, q, normalizeEmail(email)))
}

func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	q := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = $1`)
	return scanUser(s.db.QueryRowContext(ctx, q, id))
}

func (s *Store) Create(ctx context.Context, email, password string, role Role, status Status) (*User, error) {
	email = normalizeEmail(email)
	if _, err := s.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	q := s.db.Rebind(`
		INSERT INTO users (email, password_hash, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns)
	return scanUser(s.db.QueryRowContext(ctx, q, email, string(hash), role, status, s.db.TimeArg(time.Now())))
}

// SetStatus updates the account status and returns the updated record.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) (*User, error) {
	q := s.db.Rebind(`UPDATE users SET status = $1 WHERE id = $2 RETURNING ` + userColumns)
	return scanUser(s.db.QueryRowContext(ctx, q, status, id))
}

func (s *Store) ListByStatus(ctx context.Context, status Status) ([]User, error) {
	q := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE status = $1 ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

type usersFile struct {
	Users []struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Role     Role   `yaml:"role"`
		Status   Status `yaml:"status"`
	} `yaml:"users"`
}

// SeedFromFile creates the users listed in a YAML file unless they exist.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, u := range uf.Users {
		if u.Email == "" || u.Password == "" {
			continue
		}
		role, status := u.Role, u.Status
		if role == "" {
			role = RoleMember
		}
		if status == "" {
			status = StatusApproved
		}
		if _, err := s.Create(ctx, u.Email, u.Password, role, status); err != nil && !errors.Is(err, ErrEmailTaken) {
			return err
		}
	}
	return nil
}
