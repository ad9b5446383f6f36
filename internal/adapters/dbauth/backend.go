package dbauth

// Package dbauth authenticates against accounts stored in Postgres.

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/domain/model"
	apperrors "github.com/target/rolegate/internal/errors"
)

// UserFinder is the subset of data.UserRepo the backend needs.
type UserFinder interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// Backend implements ports.CredentialBackend for database accounts.
type Backend struct {
	users     UserFinder
	dummyHash []byte
}

// New builds a Backend. cost is used only for the dummy hash compared
// against when the user does not exist; zero uses bcrypt.DefaultCost.
func New(users UserFinder, cost int) (*Backend, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("rolegate-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Backend{users: users, dummyHash: dummy}, nil
}

// Method implements ports.CredentialBackend.
func (b *Backend) Method() domainauth.Method { return domainauth.MethodDatabase }

// Authenticate implements ports.CredentialBackend. Unknown and disabled users
// are reported as invalid credentials; any other lookup failure means the
// database is unavailable.
func (b *Backend) Authenticate(ctx context.Context, principal, secret string) (domainauth.Identity, error) {
	if model.ValidateUsername(principal) != nil {
		_ = bcrypt.CompareHashAndPassword(b.dummyHash, []byte(secret))
		return domainauth.Identity{}, domainauth.ErrInvalidCredentials
	}

	u, err := b.users.GetByUsername(ctx, principal)
	if err != nil {
		if apperrors.IsNotFound(err) {
			_ = bcrypt.CompareHashAndPassword(b.dummyHash, []byte(secret))
			return domainauth.Identity{}, domainauth.ErrInvalidCredentials
		}
		return domainauth.Identity{}, domainauth.BackendUnavailable(err)
	}

	if cmpErr := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(secret)); cmpErr != nil {
		return domainauth.Identity{}, domainauth.InvalidCredentials(cmpErr)
	}
	if u.Disabled {
		return domainauth.Identity{}, domainauth.ErrInvalidCredentials
	}

	return domainauth.Identity{
		Principal: u.Username,
		Roles:     append([]string(nil), u.Roles...),
		Method:    domainauth.MethodDatabase,
	}, nil
}
