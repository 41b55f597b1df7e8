package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Approval is one row of the note_approvals audit table.
type Approval struct {
	Title      string
	Approver   string
	Repo       string
	Path       string
	Branch     string
	Version    string
	Attempts   int
	ApprovedAt time.Time
}

type PostgresAuditLog struct {
	db *sql.DB
}

func NewPostgresAuditLog(db *sql.DB) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

func (s *PostgresAuditLog) RecordApproval(ctx context.Context, a Approval) error {
	if strings.TrimSpace(a.Title) == "" {
		return errors.New("record approval: empty title")
	}
	if a.Attempts <= 0 {
		a.Attempts = 1
	}
	if a.ApprovedAt.IsZero() {
		a.ApprovedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_approvals (title, approver, repo, path, branch, version, attempts, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.Title, a.Approver, a.Repo, a.Path, a.Branch, a.Version, a.Attempts, a.ApprovedAt)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}
