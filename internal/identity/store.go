package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when no user matches a lookup.
var ErrNotFound = errors.New("identity: user not found")

// ErrEmailTaken is returned when signup hits an existing email.
var ErrEmailTaken = errors.New("identity: email already registered")

// User is a stored account.
type User struct {
	ID        string
	Email     sql.NullString
	Name      sql.NullString
	Guest     bool
	CreatedAt time.Time
}

// Store persists user identity in Postgres.
type Store struct {
	DB *sql.DB
}

// New opens a Postgres connection and pings it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{DB: db} }

// CreateUser registers an account with a bcrypt-hashed password and returns
// its id.
func (s *Store) CreateUser(ctx context.Context, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`,
		email, string(hash)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrEmailTaken
		}
		return "", err
	}
	return id, nil
}

// CreateGuest registers an anonymous account and returns its id.
func (s *Store) CreateGuest(ctx context.Context) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (guest) VALUES (TRUE) RETURNING id`).Scan(&id)
	return id, err
}

// Authenticate checks email/password and returns the user id.
func (s *Store) Authenticate(ctx context.Context, email, password string) (string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1 AND password_hash IS NOT NULL`,
		email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}
	return id, nil
}

// GetUser loads one account.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, display_name, guest, created_at FROM users WHERE id=$1`,
		id).Scan(&u.ID, &u.Email, &u.Name, &u.Guest, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// Name returns the stored display name, empty when none is set yet.
func (s *Store) Name(ctx context.Context, userID string) (string, error) {
	var name sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT display_name FROM users WHERE id=$1`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return name.String, nil
}

// SetName stores the display name exactly as given.
func (s *Store) SetName(ctx context.Context, userID, name string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE users SET display_name=$2 WHERE id=$1`, userID, name)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ResolveGuest records the contact email for a guest account.
func (s *Store) ResolveGuest(ctx context.Context, userID, email string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE users SET email=$2, guest=TRUE WHERE id=$1`, userID, email)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return requireRow(res)
}

// ResolveAuthenticated marks the account as signed in with its name and email.
func (s *Store) ResolveAuthenticated(ctx context.Context, userID, name, email string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE users SET display_name=$2, email=$3, guest=FALSE WHERE id=$1`,
		userID, name, email)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
