package cloudserver

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// PGAccounts stores accounts in PostgreSQL.
type PGAccounts struct {
	db *sqlx.DB
}

var _ Accounts = (*PGAccounts)(nil)

// OpenPostgres connects and applies pending migrations.
func OpenPostgres(ctx context.Context, url string) (*PGAccounts, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := applyMigrations(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &PGAccounts{db: db}, nil
}

func (p *PGAccounts) Close() error { return p.db.Close() }

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := strings.TrimPrefix(file, "migrations/")
		var applied bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if applied {
			continue
		}
		contents, err := migrationFiles.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
	}
	return nil
}

const userColumns = `id, email, password_hash, confirm_token, confirmed_at, created_at`

func (p *PGAccounts) CreateUser(ctx context.Context, u User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, confirm_token, confirmed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, normalizeEmail(u.Email), u.PasswordHash, u.ConfirmToken, u.ConfirmedAt, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (p *PGAccounts) getUser(ctx context.Context, where string, arg any) (User, error) {
	var u User
	err := p.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (p *PGAccounts) UserByEmail(ctx context.Context, email string) (User, error) {
	return p.getUser(ctx, `email = $1`, normalizeEmail(email))
}

func (p *PGAccounts) UserByID(ctx context.Context, id string) (User, error) {
	return p.getUser(ctx, `id = $1`, id)
}

func (p *PGAccounts) SetConfirmToken(ctx context.Context, userID, token string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET confirm_token = $2 WHERE id = $1`, userID, token)
	if err != nil {
		return fmt.Errorf("set confirm token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PGAccounts) Confirm(ctx context.Context, token string, at time.Time) (User, error) {
	var u User
	err := p.db.GetContext(ctx, &u,
		`UPDATE users SET confirm_token = NULL, confirmed_at = $2
		 WHERE confirm_token = $1 RETURNING `+userColumns, token, at)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, fmt.Errorf("confirm user: %w", err)
	}
	return u, nil
}

func (p *PGAccounts) Snapshot(ctx context.Context, userID string) (json.RawMessage, error) {
	var data []byte
	err := p.db.GetContext(ctx, &data, `SELECT data FROM user_data WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

// PutSnapshot overwrites the user's row.
func (p *PGAccounts) PutSnapshot(ctx context.Context, userID string, data json.RawMessage, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO user_data (user_id, data, updated_at) VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		userID, string(data), at)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}
