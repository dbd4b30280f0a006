package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore keeps store accounts and their roles in Postgres. It implements
// both Authenticator and Gate.
type AccountStore struct {
	db DB
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE username = $1`, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("auth: failed to load user %s: %w", username, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	return Identity{Username: username}, nil
}

func (s *AccountStore) Resolve(ctx context.Context, id Identity) (Caller, error) {
	rows, err := s.db.Query(ctx, `SELECT role FROM user_roles WHERE username = $1`, id.Username)
	if err != nil {
		return Caller{}, fmt.Errorf("auth: failed to query roles for %s: %w", id.Username, err)
	}
	defer rows.Close()

	roles := NewRoleSet()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return Caller{}, fmt.Errorf("auth: failed to scan role for %s: %w", id.Username, err)
		}
		role, err := ParseRole(name)
		if err != nil {
			log.Warn().Err(err).Str("username", id.Username).Msg("auth: ignoring unknown role")
			continue
		}
		roles[role] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return Caller{}, fmt.Errorf("auth: failed iterating roles for %s: %w", id.Username, err)
	}

	return Caller{Username: id.Username, Roles: roles}, nil
}

// CreateUser registers an account with a bcrypt-hashed password.
func (s *AccountStore) CreateUser(ctx context.Context, username, password string, roles ...Role) (err error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("auth: username and password are required")
	}
	for _, r := range roles {
		if _, perr := ParseRole(string(r)); perr != nil {
			return perr
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: failed to hash password: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auth: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("username", username).Msg("auth: failed to rollback user creation")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("auth: failed to commit user creation: %w", commitErr)
		}
	}()

	_, err = tx.Exec(ctx, `INSERT INTO users (username, password_hash) VALUES ($1, $2)`, username, string(hash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("auth: failed to insert user %s: %w", username, err)
	}

	for _, r := range NewRoleSet(roles...).Slice() {
		if _, err = tx.Exec(ctx, `INSERT INTO user_roles (username, role) VALUES ($1, $2)`, username, string(r)); err != nil {
			return fmt.Errorf("auth: failed to grant role %s to %s: %w", r, username, err)
		}
	}

	log.Info().Str("username", username).Interface("roles", roles).Msg("auth: user created")
	return nil
}
