// Package auth checks static API keys presented to the HTTP API.
//
// Keys are configured as comma-separated key:name:role|role entries, for
// example "k1:analyst:reader,k2:ops:writer". Writers may also read.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Role string

const (
	// RoleReader may inspect the schema and browse table data.
	RoleReader Role = "reader"
	// RoleWriter may generate and execute SQL and export tables.
	RoleWriter Role = "writer"
)

func parseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleReader, RoleWriter:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

type Identity struct {
	Name  string
	Roles []Role
}

// Can reports whether the identity holds role, counting writer as a
// superset of reader.
func (i Identity) Can(role Role) bool {
	if slices.Contains(i.Roles, role) {
		return true
	}
	return role == RoleReader && slices.Contains(i.Roles, RoleWriter)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type keyEntry struct {
	digest   [sha256.Size]byte
	identity Identity
}

// StaticAPIKeyValidator holds key digests only, compared in constant time.
type StaticAPIKeyValidator struct {
	entries []keyEntry
}

// NewStaticAPIKeyValidator parses the key list. An empty list accepts no
// keys.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{}
	seen := map[[sha256.Size]byte]bool{}
	for _, raw := range strings.Split(spec, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		key, identity, err := parseKeyEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid api key entry %q: %w", redactEntry(raw), err)
		}
		digest := sha256.Sum256([]byte(key))
		if seen[digest] {
			return nil, fmt.Errorf("invalid api key entry %q: duplicate key", redactEntry(raw))
		}
		seen[digest] = true
		validator.entries = append(validator.entries, keyEntry{digest: digest, identity: identity})
	}
	return validator, nil
}

func parseKeyEntry(raw string) (string, Identity, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return "", Identity{}, errors.New("expected key:name:role|role")
	}
	key, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if key == "" || name == "" {
		return "", Identity{}, errors.New("key and name are required")
	}
	var roles []Role
	for _, part := range strings.Split(parts[2], "|") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		role, err := parseRole(part)
		if err != nil {
			return "", Identity{}, err
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, errors.New("at least one role is required")
	}
	slices.Sort(roles)
	return key, Identity{Name: name, Roles: roles}, nil
}

// redactEntry keeps the key out of configuration errors.
func redactEntry(raw string) string {
	_, rest, found := strings.Cut(strings.TrimSpace(raw), ":")
	if !found {
		return "***"
	}
	return "***:" + rest
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	digest := sha256.Sum256([]byte(apiKey))
	var (
		match Identity
		found bool
	)
	for _, entry := range v.entries {
		if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) == 1 {
			match, found = entry.identity, true
		}
	}
	return match, found
}
