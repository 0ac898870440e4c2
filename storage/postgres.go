package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskboard/domain"
	"taskboard/gateway"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	priority        TEXT NOT NULL DEFAULT 'medium',
	status          TEXT NOT NULL DEFAULT 'pending',
	due_date        DATE,
	assignee_id     TEXT NOT NULL DEFAULT '',
	assignee_name   TEXT NOT NULL DEFAULT '',
	assignee_avatar TEXT NOT NULL DEFAULT '',
	project_id      TEXT NOT NULL DEFAULT '',
	project_name    TEXT NOT NULL DEFAULT '',
	position        DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_assignee_idx ON tasks (assignee_id, position);
`

const listTasksSQL = `
SELECT id, title, description, priority, status, due_date,
       assignee_id, assignee_name, assignee_avatar, project_id, project_name
FROM tasks
WHERE $1 = '' OR assignee_id = $1
ORDER BY position, id`

const setStatusSQL = `UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres serves tasks from a PostgreSQL tasks table.
type Postgres struct {
	db querier
}

// OpenPostgres connects a pool to dsn and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return &Postgres{db: pool}, pool, nil
}

// EnsureSchema creates the tasks table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schema)
	return err
}

func (p *Postgres) ListTasksForAssignee(ctx context.Context, assigneeID string) ([]domain.Task, error) {
	const op = "list tasks"
	rows, err := p.db.Query(ctx, listTasksSQL, assigneeID)
	if err != nil {
		return nil, classifyPG(op, err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var (
			t        domain.Task
			priority string
			status   string
			due      *time.Time
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &priority, &status, &due,
			&t.Assignee.ID, &t.Assignee.Name, &t.Assignee.Avatar, &t.Project.ID, &t.Project.Name); err != nil {
			return nil, classifyPG(op, err)
		}
		t.Priority = domain.Priority(priority)
		t.Status = domain.Status(status)
		if due != nil {
			t.DueDate = domain.NewDate(due.Year(), due.Month(), due.Day())
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG(op, err)
	}
	return tasks, nil
}

// SetTaskStatus updates the row in place. Repeating the call is harmless.
func (p *Postgres) SetTaskStatus(ctx context.Context, taskID string, status domain.Status) error {
	const op = "set task status"
	if !status.Known() {
		return &gateway.ServiceError{Op: op, StatusCode: http.StatusBadRequest, Message: "unknown status " + string(status)}
	}
	tag, err := p.db.Exec(ctx, setStatusSQL, taskID, string(status))
	if err != nil {
		return classifyPG(op, err)
	}
	if tag.RowsAffected() == 0 {
		return &gateway.ServiceError{Op: op, StatusCode: http.StatusNotFound, Message: "task " + taskID + " not found"}
	}
	return nil
}

func classifyPG(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &gateway.ServiceError{Op: op, StatusCode: http.StatusInternalServerError, Message: pgErr.Code + ": " + pgErr.Message}
	}
	return &gateway.NetworkError{Op: op, Err: err}
}
