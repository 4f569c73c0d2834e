package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/YouAreMyHome/CheckInn-sub000/internal/model"
)

// Uniqueness errors. The unique indexes on users.email and users.phone are the
// authoritative conflict signal: two concurrent registrations for the same email
// can both pass the pre-check, but only one INSERT commits.
var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
	ErrPhoneTaken = errors.New("phone already registered")
)

// NewUser carries the fields needed to create an account. Password is plaintext
// here; Create hashes it before it touches the database.
type NewUser struct {
	Email    string
	Name     string
	Phone    string
	Password string
}

// UserRepo defines the durable user store consumed by the registration flow.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	Create(ctx context.Context, nu NewUser) (model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance backed by Postgres.
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, name, phone, password_hash, created_at`

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.Name,
		&user.Phone,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (r *userRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByPhone retrieves a user by phone number.
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, phone))
}

// Create hashes the password and inserts the user. A unique-violation on email
// or phone maps to ErrEmailTaken/ErrPhoneTaken so the caller can treat the
// database as the last word on duplicates.
func (r *userRepo) Create(ctx context.Context, nu NewUser) (model.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(nu.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (email, name, phone, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, nu.Email, nu.Name, nu.Phone, string(hashed)))
	if err != nil {
		if taken := translateUniqueViolation(err); taken != nil {
			return model.User{}, taken
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// translateUniqueViolation maps Postgres error 23505 to the taken-field error,
// or returns nil if err is not a unique violation.
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	if pqErr.Constraint == "users_phone_key" {
		return ErrPhoneTaken
	}
	return ErrEmailTaken
}
