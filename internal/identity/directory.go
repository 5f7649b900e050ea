// Package identity resolves authenticated principals to their ledger
// address and role. The relational store is the system of record; this
// directory is read-only and adds a short-lived roster cache on top.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/savegress/careledger/internal/cache"
	"github.com/savegress/careledger/internal/database"
	"github.com/savegress/careledger/pkg/models"
)

// Store is the subset of the relational repository the directory needs
type Store interface {
	GetUserByID(ctx context.Context, id string) (*database.User, error)
	GetUserByAddress(ctx context.Context, address string) (*database.User, error)
	ListAddressesByRole(ctx context.Context, role string) ([]string, error)
}

// Directory maps principals to addresses and enumerates role rosters
type Directory struct {
	store     Store
	cache     *cache.Cache
	rosterTTL time.Duration
}

// New creates a Directory. The cache may be disabled; lookups then
// always go to the store.
func New(store Store, c *cache.Cache, rosterTTL time.Duration) *Directory {
	return &Directory{
		store:     store,
		cache:     c,
		rosterTTL: rosterTTL,
	}
}

// Resolve returns the principal for an authenticated account ID
func (d *Directory) Resolve(ctx context.Context, principalID string) (models.Principal, error) {
	user, err := d.store.GetUserByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Principal{}, models.ErrNotFound
		}
		return models.Principal{}, fmt.Errorf("resolve principal: %w", err)
	}
	return toPrincipal(user), nil
}

// ResolveAddress returns the principal registered for a ledger address
func (d *Directory) ResolveAddress(ctx context.Context, address string) (models.Principal, error) {
	user, err := d.store.GetUserByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Principal{}, models.ErrNotFound
		}
		return models.Principal{}, fmt.Errorf("resolve address: %w", err)
	}
	return toPrincipal(user), nil
}

// ListAddressesByRole returns all addresses registered under a role, in
// registration order. Served from the roster cache when fresh.
func (d *Directory) ListAddressesByRole(ctx context.Context, role models.Role) ([]string, error) {
	if roster, err := d.cache.GetRoster(ctx, string(role)); err == nil {
		return roster, nil
	}

	roster, err := d.store.ListAddressesByRole(ctx, string(role))
	if err != nil {
		return nil, fmt.Errorf("list %s roster: %w", role, err)
	}

	// Best effort; a failed cache write only costs the next lookup
	_ = d.cache.SetRoster(ctx, string(role), roster, d.rosterTTL)

	return roster, nil
}

// InvalidateRoster drops the cached roster for a role
func (d *Directory) InvalidateRoster(ctx context.Context, role models.Role) {
	_ = d.cache.InvalidateRoster(ctx, string(role))
}

func toPrincipal(user *database.User) models.Principal {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return models.Principal{
		ID:          user.ID,
		Address:     user.Address,
		Role:        models.Role(user.Role),
		DisplayName: name,
	}
}
