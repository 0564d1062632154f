package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Approver is a person who may decide master creation requests.
type Approver struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Name   string `json:"name" yaml:"name"`
	Email  string `json:"email" yaml:"email"`
	Active bool   `json:"active" yaml:"active"`
}

// Directory lists approvers and hands out assignments.
type Directory interface {
	Approvers(ctx context.Context) ([]Approver, error)
	// NextAssignee returns the approver whose turn it is, or "" when there
	// are none.
	NextAssignee(ctx context.Context) (string, error)
}

// StaticDirectory serves a fixed approver list, assigning round-robin.
type StaticDirectory struct {
	mu        sync.Mutex
	approvers []Approver
	next      int
}

// NewStaticDirectory creates a StaticDirectory. Inactive entries are kept
// out of rotation.
func NewStaticDirectory(approvers []Approver) *StaticDirectory {
	active := make([]Approver, 0, len(approvers))
	for _, a := range approvers {
		if a.Active {
			active = append(active, a)
		}
	}
	return &StaticDirectory{approvers: active}
}

func (d *StaticDirectory) Approvers(context.Context) ([]Approver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Approver, len(d.approvers))
	copy(out, d.approvers)
	return out, nil
}

func (d *StaticDirectory) NextAssignee(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.approvers) == 0 {
		return "", nil
	}
	a := d.approvers[d.next%len(d.approvers)]
	d.next++
	return a.UserID, nil
}

// PostgresDirectory keeps approvers in the approvers table. Rotation state
// lives in the table so replicas share it.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Approvers(ctx context.Context) ([]Approver, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT user_id, name, email, active FROM approvers WHERE active ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list approvers: %w", err)
	}
	defer rows.Close()

	var out []Approver
	for rows.Next() {
		var a Approver
		if err := rows.Scan(&a.UserID, &a.Name, &a.Email, &a.Active); err != nil {
			return nil, fmt.Errorf("scan approver: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// NextAssignee picks the active approver assigned least recently and stamps
// the assignment.
func (d *PostgresDirectory) NextAssignee(ctx context.Context) (string, error) {
	var userID string
	err := d.pool.QueryRow(ctx, `UPDATE approvers SET last_assigned_at = clock_timestamp()
		WHERE user_id = (
			SELECT user_id FROM approvers WHERE active
			ORDER BY last_assigned_at NULLS FIRST, user_id
			LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING user_id`).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pick next approver: %w", err)
	}
	return userID, nil
}

// Upsert inserts or updates an approver. It reports whether a row was
// inserted.
func (d *PostgresDirectory) Upsert(ctx context.Context, a Approver) (bool, error) {
	var inserted bool
	err := d.pool.QueryRow(ctx, `INSERT INTO approvers (user_id, name, email, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, active = EXCLUDED.active, updated_at = now()
		RETURNING (xmax = 0)`, a.UserID, a.Name, a.Email, a.Active).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert approver %s: %w", a.UserID, err)
	}
	return inserted, nil
}

var (
	_ Directory = (*StaticDirectory)(nil)
	_ Directory = (*PostgresDirectory)(nil)
)
