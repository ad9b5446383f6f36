package static

// Package static authenticates against users configured at startup.

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	domainauth "github.com/target/rolegate/internal/domain/auth"
)

// User is one configured account. Exactly one of PasswordHash (bcrypt) or
// Password (plaintext, hashed at construction) must be set.
type User struct {
	Username     string
	PasswordHash string
	Password     string
	Roles        []string
}

type entry struct {
	username []byte
	hash     []byte
	roles    []string
}

// Backend implements ports.CredentialBackend over a fixed user list.
// Every Authenticate call scans all entries and performs exactly one bcrypt
// comparison, against a dummy hash when the user is unknown.
type Backend struct {
	users     []entry
	dummyHash []byte
}

// Options tunes hashing of plaintext passwords.
type Options struct {
	// Cost is the bcrypt cost for plaintext passwords; zero uses bcrypt.DefaultCost.
	Cost int
}

// New validates users and builds a Backend.
func New(users []User, opts Options) (*Backend, error) {
	cost := opts.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	b := &Backend{users: make([]entry, 0, len(users))}
	seen := make(map[string]struct{}, len(users))
	for i, u := range users {
		name := strings.TrimSpace(u.Username)
		if name == "" {
			return nil, fmt.Errorf("static user %d: username is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("static user %q: duplicate username", name)
		}
		seen[name] = struct{}{}

		hash, err := resolveHash(u, cost)
		if err != nil {
			return nil, fmt.Errorf("static user %q: %w", name, err)
		}
		b.users = append(b.users, entry{
			username: []byte(name),
			hash:     hash,
			roles:    append([]string(nil), u.Roles...),
		})
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("rolegate-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	b.dummyHash = dummy
	return b, nil
}

func resolveHash(u User, cost int) ([]byte, error) {
	switch {
	case u.PasswordHash != "" && u.Password != "":
		return nil, errors.New("set only one of password_hash or password")
	case u.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("password_hash is not a bcrypt hash: %w", err)
		}
		return []byte(u.PasswordHash), nil
	case u.Password != "":
		return bcrypt.GenerateFromPassword([]byte(u.Password), cost)
	default:
		return nil, errors.New("password_hash or password is required")
	}
}

// Method implements ports.CredentialBackend.
func (b *Backend) Method() domainauth.Method { return domainauth.MethodStatic }

// Authenticate implements ports.CredentialBackend.
func (b *Backend) Authenticate(ctx context.Context, principal, secret string) (domainauth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domainauth.Identity{}, domainauth.BackendUnavailable(err)
	}

	want := []byte(principal)
	match := -1
	for i := range b.users {
		if subtle.ConstantTimeCompare(b.users[i].username, want) == 1 && match < 0 {
			match = i
		}
	}

	hash := b.dummyHash
	if match >= 0 {
		hash = b.users[match].hash
	}
	cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(secret))
	if match < 0 || cmpErr != nil || secret == "" {
		return domainauth.Identity{}, domainauth.ErrInvalidCredentials
	}

	u := b.users[match]
	return domainauth.Identity{
		Principal: string(u.username),
		Roles:     append([]string(nil), u.roles...),
		Method:    domainauth.MethodStatic,
	}, nil
}
