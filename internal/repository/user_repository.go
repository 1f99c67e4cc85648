package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

const uniqueViolation = pq.ErrorCode("23505")

// uniqueColumns maps constraint names from the schema to the column they guard.
var uniqueColumns = map[string]string{
	"users_username_key":       "username",
	"users_email_key":          "email",
	"refresh_tokens_token_key": "token",
	"roles_name_key":           "name",
}

const userColumns = `u.id, u.username, u.email, u.password_hash, u.role_id, COALESCE(r.name, '') AS role_name`

// UserRepository is the credential store: users and their roles.
type UserRepository struct {
	db      *sqlx.DB
	metrics QueryObserver
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB, metrics QueryObserver) *UserRepository {
	return &UserRepository{db: db, metrics: observerOrNop(metrics)}
}

// FindByIdentifier returns a user whose email or username equals identifier.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	defer track(r.metrics, "users.find_by_identifier")()
	const query = `SELECT ` + userColumns + ` FROM users u LEFT JOIN roles r ON r.id = u.role_id WHERE u.email = $1 OR u.username = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by identifier: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	defer track(r.metrics, "users.find_by_id")()
	const query = `SELECT ` + userColumns + ` FROM users u LEFT JOIN roles r ON r.id = u.role_id WHERE u.id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindRoleByName returns a role of the reference set.
func (r *UserRepository) FindRoleByName(ctx context.Context, name models.RoleName) (*models.Role, error) {
	defer track(r.metrics, "roles.find_by_name")()
	const query = `SELECT id, name FROM roles WHERE name = $1 LIMIT 1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find role by name: %w", err)
	}
	return &role, nil
}

// Create inserts a new user and fills in its id. A duplicate username or email
// is reported as *errors.ConstraintError.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	defer track(r.metrics, "users.create")()
	const query = `INSERT INTO users (username, email, password_hash, role_id) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, user.Username, user.Email, user.PasswordHash, user.RoleID).Scan(&user.ID); err != nil {
		if ce := constraintError(err); ce != nil {
			return ce
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Delete removes a user. Refresh rows go with it through the foreign key cascade.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	defer track(r.metrics, "users.delete")()
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	return nil
}

// Ping checks database reachability for readiness probes.
func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func constraintError(err error) *appErrors.ConstraintError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	column := uniqueColumns[pqErr.Constraint]
	if column == "" {
		column = pqErr.Column
	}
	return &appErrors.ConstraintError{
		Table:      pqErr.Table,
		Column:     column,
		Constraint: pqErr.Constraint,
		Err:        err,
	}
}
