package database

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateEmail   = errors.New("email already exists")
	ErrDuplicateAddress = errors.New("ledger address already registered")
)

// =============================================================================
// User Repository
// =============================================================================

// CreateUser creates a new user with its ledger address and role
func (db *DB) CreateUser(ctx context.Context, email, username, passwordHash, firstName, lastName, role, address string) (*User, error) {
	id := generateID("usr")
	now := time.Now().UTC()

	query := `
		INSERT INTO users (id, email, username, password_hash, first_name, last_name, role, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id, email, username, first_name, last_name, role, address, created_at, updated_at
	`

	user := &User{}
	err := db.pool.QueryRow(ctx, query, id, email, username, passwordHash, firstName, lastName, role, address, now).Scan(
		&user.ID, &user.Email, &user.Username, &user.FirstName, &user.LastName,
		&user.Role, &user.Address, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if isDuplicateError(err) {
			if strings.Contains(err.Error(), "address") {
				return nil, ErrDuplicateAddress
			}
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, username, password_hash, first_name, last_name, role, address, created_at, updated_at
		FROM users WHERE id = $1
	`

	user := &User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Role, &user.Address,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, email, username, password_hash, first_name, last_name, role, address, created_at, updated_at
		FROM users WHERE username = $1
	`

	user := &User{}
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Role, &user.Address,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByAddress retrieves a user by ledger address
func (db *DB) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	query := `
		SELECT id, email, username, password_hash, first_name, last_name, role, address, created_at, updated_at
		FROM users WHERE lower(address) = lower($1)
	`

	user := &User{}
	err := db.pool.QueryRow(ctx, query, address).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Role, &user.Address,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// ListAddressesByRole returns all ledger addresses for a role in a
// stable order
func (db *DB) ListAddressesByRole(ctx context.Context, role string) ([]string, error) {
	query := `SELECT address FROM users WHERE role = $1 ORDER BY created_at, id`

	rows, err := db.pool.Query(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate addresses: %w", err)
	}

	return addresses, nil
}

// =============================================================================
// Helpers
// =============================================================================

func generateID(prefix string) string {
	b := make([]byte, 12)
	rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

func isDuplicateError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique"))
}
