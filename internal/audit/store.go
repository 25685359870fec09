package audit

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"agentdash/internal/db"
)

type Store struct {
	db  *db.DB
	now func() time.Time
}

func NewStore(conn *db.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

// Record appends an entry stamped with the current time.
func (s *Store) Record(ctx context.Context, userID *int64, action string) error {
	q := s.db.Rebind(`INSERT INTO audit_logs (user_id, action, ts) VALUES ($1, $2, $3)`)
	var uid any
	if userID != nil {
		uid = *userID
	}
	_, err := s.db.ExecContext(ctx, q, uid, action, s.db.TimeArg(s.now()))
	return err
}

// where builds the clause list for f, numbering placeholders from 1.
func (s *Store) where(f Filter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}
	argIdx := 1

	if f.UserID != nil {
		clauses = append(clauses, "user_id = $"+itoa(argIdx))
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.GuestsOnly {
		clauses = append(clauses, "user_id IS NULL")
	}
	if f.ActionPrefix != "" {
		clauses = append(clauses, "action LIKE $"+itoa(argIdx)+" ESCAPE '\\'")
		args = append(args, escapeLike(f.ActionPrefix)+"%")
		argIdx++
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "ts >= $"+itoa(argIdx))
		args = append(args, s.db.TimeArg(f.Since))
	}
	return strings.Join(clauses, " AND "), args
}

// Count returns the number of entries matching f.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	clause, args := s.where(f)
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Rebind("SELECT COUNT(*) FROM audit_logs WHERE "+clause), args...).Scan(&n)
	return n, err
}

func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	clause, args := s.where(f)
	query := "SELECT id, user_id, action, ts FROM audit_logs WHERE " + clause +
		" ORDER BY ts DESC, id DESC LIMIT " + itoa(limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Entry{}
	for rows.Next() {
		var e Entry
		var uid sql.NullInt64
		var ts db.Time
		if err := rows.Scan(&e.ID, &uid, &e.Action, &ts); err != nil {
			return nil, err
		}
		if uid.Valid {
			id := uid.Int64
			e.UserID = &id
		}
		e.Timestamp = ts.Time
		result = append(result, e)
	}
	return result, rows.Err()
}

// escapeLike quotes the LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
