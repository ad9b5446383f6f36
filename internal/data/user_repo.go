package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/rolegate/internal/data/pgxutil"
	"github.com/target/rolegate/internal/domain/model"
	apperrors "github.com/target/rolegate/internal/errors"
)

const userColumns = `id, username, password_hash, roles, disabled, created_at, updated_at`

// UserRepo provides CRUD operations for database-backed accounts.
type UserRepo struct {
	DB   *sql.DB
	Time TimeProvider
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db, Time: RealTimeProvider{}}
}

func (r *UserRepo) queryOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	var u model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		u, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.User])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &u, nil
}

// Create inserts a new user.
func (r *UserRepo) Create(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	now := r.Time.Now().UTC()
	return r.queryOne(ctx, `
		INSERT INTO auth_users (id, username, password_hash, roles, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $5)
		RETURNING `+userColumns,
		uuid.NewString(), req.Username, req.PasswordHash, req.Roles, now,
	)
}

// GetByUsername returns the user with the exact username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.queryOne(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE username = $1`,
		strings.TrimSpace(username),
	)
}

// List returns users ordered by username.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var out []*model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+userColumns+` FROM auth_users ORDER BY username LIMIT $1 OFFSET $2`,
			limit, offset,
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.User])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// Update applies the non-nil fields of req to the named user.
func (r *UserRepo) Update(ctx context.Context, username string, req model.UpdateUserRequest) (*model.User, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	sets := make([]string, 0, 4)
	args := []any{strings.TrimSpace(username)}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if req.PasswordHash != nil {
		add("password_hash", *req.PasswordHash)
	}
	if req.Roles != nil {
		add("roles", model.NormalizeRoles(*req.Roles))
	}
	if req.Disabled != nil {
		add("disabled", *req.Disabled)
	}
	add("updated_at", r.Time.Now().UTC())

	return r.queryOne(ctx,
		`UPDATE auth_users SET `+strings.Join(sets, ", ")+` WHERE username = $1 RETURNING `+userColumns,
		args...,
	)
}

// Delete removes the named user. It returns a not-found error when no row matched.
func (r *UserRepo) Delete(ctx context.Context, username string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM auth_users WHERE username = $1`, strings.TrimSpace(username))
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrCodeNotFound, "user not found")
	}
	return nil
}

// Count returns the number of users.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM auth_users`).Scan(&n); err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return n, nil
}
