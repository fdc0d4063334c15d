package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xela07ax/po-approvals/internal/domain"
)

const userColumns = `id, email, username, full_name, password_hash, is_active,
	array_to_string(scopes, ','), created_at, updated_at`

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.ErrNotFound, "User %s not found", id)
		}
		return nil, err
	}
	return u, nil
}

// GetUserByUsername — для логина. Отсутствие пользователя — (nil, nil).
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *UserRepo) ListActiveUsers(ctx context.Context) ([]*domain.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE is_active ORDER BY username`)
}

// ActiveIDsByUsernames переводит список имен из конфигурации в id активных пользователей.
// Неизвестные и неактивные имена молча пропускаются.
func (r *UserRepo) ActiveIDsByUsernames(ctx context.Context, usernames []string) ([]string, error) {
	ids := make([]string, 0, len(usernames))
	if len(usernames) == 0 {
		return ids, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users WHERE is_active AND username = ANY($1) ORDER BY id`, append([]string(nil), usernames...))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to resolve usernames: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan user id error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *UserRepo) list(ctx context.Context, query string, args ...any) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query users: %w", err)
	}
	users := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, u)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return users, nil
}

func scanUser(s scanner) (*domain.User, error) {
	u := &domain.User{}
	var fullName, scopes sql.NullString
	err := s.Scan(&u.ID, &u.Email, &u.Username, &fullName, &u.PasswordHash, &u.Active,
		&scopes, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: failed to scan user: %w", err)
	}
	u.FullName = fullName.String
	u.Scopes = splitScopes(scopes.String)
	return u, nil
}
