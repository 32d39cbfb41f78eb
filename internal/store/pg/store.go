package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"todoapp.io/internal/todo"
)

const todoColumns = `user_id, todo_id, title, description, due_date, status, created_by, created_at, updated_at`

// Store keeps to-do items in one Postgres table keyed by (user_id, todo_id).
type Store struct {
	db    *sql.DB
	table string
}

var _ todo.Store = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn, table string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	s, err := New(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle.
func New(db *sql.DB, table string) (*Store, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("pg: table name is required")
	}
	return &Store{db: db, table: pgx.Identifier{table}.Sanitize()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			user_id     text not null,
			todo_id     text not null,
			title       text not null,
			description text not null default '',
			due_date    text not null default '',
			status      text not null,
			created_by  text not null default '',
			created_at  timestamptz not null,
			updated_at  timestamptz not null,
			primary key (user_id, todo_id)
		)`, s.table))
	if err != nil {
		return fmt.Errorf("ensure todo schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, t todo.Todo) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		insert into %s (%s)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (user_id, todo_id) do update set
			title = excluded.title,
			description = excluded.description,
			due_date = excluded.due_date,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, s.table, todoColumns),
		t.UserID, t.TodoID, t.Title, t.Description, t.DueDate, string(t.Status), string(t.CreatedBy), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put todo: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID, todoID string) (todo.Todo, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`select %s from %s where user_id=$1 and todo_id=$2`, todoColumns, s.table), userID, todoID)
	t, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Todo{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Todo{}, fmt.Errorf("get todo: %w", err)
	}
	return t, nil
}

func (s *Store) Update(ctx context.Context, userID, todoID string, patch todo.Patch, now time.Time) (todo.Todo, error) {
	var status sql.NullString
	if patch.Status != nil {
		status = sql.NullString{String: string(*patch.Status), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update %s set
			title = coalesce($3, title),
			description = coalesce($4, description),
			due_date = coalesce($5, due_date),
			status = coalesce($6, status),
			updated_at = $7
		where user_id=$1 and todo_id=$2
		returning %s
	`, s.table, todoColumns),
		userID, todoID, nullable(patch.Title), nullable(patch.Description), nullable(patch.DueDate), status, now.UTC())
	t, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Todo{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Todo{}, fmt.Errorf("update todo: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, userID, todoID string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where user_id=$1 and todo_id=$2`, s.table), userID, todoID)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	if n == 0 {
		return todo.ErrNotFound
	}
	return nil
}

func (s *Store) Query(ctx context.Context, userID string) ([]todo.Todo, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`select %s from %s where user_id=$1 order by todo_id`, todoColumns, s.table), userID)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	out := make([]todo.Todo, 0)
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(row scanner) (todo.Todo, error) {
	var (
		t         todo.Todo
		status    string
		createdBy string
	)
	if err := row.Scan(&t.UserID, &t.TodoID, &t.Title, &t.Description, &t.DueDate, &status, &createdBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return todo.Todo{}, err
	}
	t.Status = todo.Status(status)
	t.CreatedBy = todo.Origin(createdBy)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
