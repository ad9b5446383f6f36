package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	apperrors "github.com/target/rolegate/internal/errors"
)

// StaticUser is a configured user for the static backend.
// Exactly one of PasswordHash (bcrypt) or Password must be set.
type StaticUser struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	Password     string   `yaml:"password"`
	Roles        []string `yaml:"roles"`
}

// AuthFile is the YAML document named by AUTH_CONFIG_FILE.
//
//	roles:
//	  - name: admin
//	    children: [logging, ide, configuration]
//	users:
//	  - username: admin
//	    password_hash: $2a$10$...
//	    roles: [admin]
//	group_mappings:
//	  cn=ops,ou=groups,dc=example,dc=org: [admin]
//	default_roles: [user]
type AuthFile struct {
	Roles         []domainauth.RoleDefinition `yaml:"roles"`
	Users         []StaticUser                `yaml:"users"`
	GroupMappings map[string][]string         `yaml:"group_mappings"`
	DefaultRoles  []string                    `yaml:"default_roles"`
}

// RoleDefinitions returns the configured role tree, or the built-in default
// when the file defines none.
func (f *AuthFile) RoleDefinitions() []domainauth.RoleDefinition {
	if f == nil || len(f.Roles) == 0 {
		return domainauth.DefaultRoleDefinitions()
	}
	return f.Roles
}

// LoadAuthFile reads and parses path. An empty path yields an empty file.
// Unknown keys are rejected so typos surface at startup.
func LoadAuthFile(path string) (*AuthFile, error) {
	if strings.TrimSpace(path) == "" {
		return &AuthFile{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "read auth config file")
	}
	return ParseAuthFile(raw)
}

// ParseAuthFile parses an auth file document.
func ParseAuthFile(raw []byte) (*AuthFile, error) {
	var f AuthFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "parse auth config file")
	}
	for i, u := range f.Users {
		if strings.TrimSpace(u.Username) == "" {
			return nil, apperrors.Configurationf("auth config file: user %d has no username", i)
		}
	}
	return &f, nil
}

// ValidateUserRoles checks that every static user's roles exist in reg.
func (f *AuthFile) ValidateUserRoles(reg *domainauth.Registry) error {
	var errs []error
	for _, u := range f.Users {
		for _, r := range u.Roles {
			if _, ok := reg.Resolve(r); !ok {
				errs = append(errs, fmt.Errorf("user %q: unknown role %q", u.Username, r))
			}
		}
	}
	for group, roles := range f.GroupMappings {
		for _, r := range roles {
			if _, ok := reg.Resolve(r); !ok {
				errs = append(errs, fmt.Errorf("group mapping %q: unknown role %q", group, r))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "auth config file references undefined roles")
	}
	return nil
}
