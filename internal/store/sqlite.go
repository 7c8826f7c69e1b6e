package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"triggerd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const workflowCols = `workflow_id, organization_id, title, cron_expression, cron_timezone, cron_enabled, created_at, updated_at`

func (s *sqliteStore) ListCronEnabled(ctx context.Context) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowCols+` FROM workflows
		 WHERE cron_enabled = 1 AND cron_expression IS NOT NULL
		 ORDER BY organization_id, workflow_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, orgID, workflowID string) (Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowCols+` FROM workflows WHERE organization_id = ? AND workflow_id = ?`,
		orgID, workflowID)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Workflow{}, ErrNotFound
	}
	return wf, err
}

func (s *sqliteStore) Put(ctx context.Context, wf Workflow) error {
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows(`+workflowCols+`) VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(organization_id, workflow_id) DO UPDATE SET
		   title=excluded.title,
		   cron_expression=excluded.cron_expression,
		   cron_timezone=excluded.cron_timezone,
		   cron_enabled=excluded.cron_enabled,
		   updated_at=excluded.updated_at`,
		wf.ID, wf.OrganizationID, wf.Title,
		nullStr(wf.CronExpression), wf.CronTimezone, boolInt(wf.CronEnabled),
		wf.CreatedAt.Format(time.RFC3339Nano), wf.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) SetSchedule(ctx context.Context, orgID, workflowID string, u ScheduleUpdate) (Workflow, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET cron_expression = ?, cron_timezone = ?, cron_enabled = ?, updated_at = ?
		 WHERE organization_id = ? AND workflow_id = ?`,
		nullStr(u.CronExpression), u.CronTimezone, boolInt(u.CronEnabled),
		time.Now().UTC().Format(time.RFC3339Nano), orgID, workflowID)
	if err != nil {
		return Workflow{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Workflow{}, err
	}
	if n == 0 {
		return Workflow{}, ErrNotFound
	}
	return s.Get(ctx, orgID, workflowID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(r rowScanner) (Workflow, error) {
	var (
		wf        Workflow
		expr      sql.NullString
		enabled   int
		createdAt string
		updatedAt string
	)
	err := r.Scan(&wf.ID, &wf.OrganizationID, &wf.Title, &expr, &wf.CronTimezone, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return Workflow{}, err
	}
	if expr.Valid {
		v := expr.String
		wf.CronExpression = &v
	}
	wf.CronEnabled = enabled != 0
	wf.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	wf.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return wf, nil
}

func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
