// Package auth holds the user directory and the role capability table.
package auth

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"cyclecount/internal"
	"cyclecount/internal/util"
)

type Role string

const (
	RoleAuditor Role = "auditor"
	RoleDepot   Role = "depot"
)

var ErrInvalidCredentials = errors.New("auth: invalid username or password")

// ParseRole accepts the labels used in the users file.
func ParseRole(s string) (Role, error) {
	switch util.NormalizeHeader(s) {
	case "AUDITOR":
		return RoleAuditor, nil
	case "DEPOSITO", "DEPOT":
		return RoleDepot, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Wire() string {
	switch r {
	case RoleAuditor:
		return internal.WireRoleAudit
	case RoleDepot:
		return internal.WireRoleDepot
	}
	return string(r)
}

func CanCreateSession(r Role) bool { return r == RoleAuditor }
func CanCount(r Role) bool         { return r == RoleAuditor }
func CanJustify(r Role) bool       { return r == RoleDepot }
func CanValidate(r Role) bool      { return r == RoleAuditor }
func CanClose(r Role) bool         { return r == RoleAuditor }
func CanViewReport(r Role) bool    { return r == RoleAuditor }
func CanViewAudit(r Role) bool     { return r == RoleAuditor }
func CanListUsers(r Role) bool     { return r == RoleAuditor }

// CanListSessions covers browsing sessions and their lines; the depot needs
// it to find what to justify.
func CanListSessions(r Role) bool { return r == RoleAuditor || r == RoleDepot }

type User struct {
	Username     string
	Name         string
	Role         Role
	PasswordHash string
}

type Directory struct {
	users map[string]User
}

type usersFile struct {
	Users map[string]struct {
		Name         string `yaml:"name"`
		Role         string `yaml:"role"`
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"users"`
}

func LoadDirectory(path string) (*Directory, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	return ParseDirectory(blob)
}

func ParseDirectory(blob []byte) (*Directory, error) {
	var file usersFile
	if err := yaml.Unmarshal(blob, &file); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	d := &Directory{users: make(map[string]User, len(file.Users))}
	for username, u := range file.Users {
		role, err := ParseRole(u.Role)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", username, err)
		}
		if strings.TrimSpace(u.PasswordHash) == "" {
			return nil, fmt.Errorf("user %s: missing password_hash", username)
		}
		d.users[username] = User{
			Username:     username,
			Name:         util.FirstNonEmpty(u.Name, username),
			Role:         role,
			PasswordHash: u.PasswordHash,
		}
	}
	return d, nil
}

// Authenticate checks the password against the stored bcrypt hash. Unknown
// users and wrong passwords fail the same way.
func (d *Directory) Authenticate(username, password string) (User, error) {
	u, ok := d.users[strings.TrimSpace(username)]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Users returns every user sorted by username.
func (d *Directory) Users() []User {
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// HashPassword returns a bcrypt hash for the users file. cost <= 0 means
// bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
