// Package basic provides an HTTP Basic authenticator that checks
// credentials against bcrypt password hashes.
package basic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/debug"
)

const msgInvalidCredentials = "invalid username or password"

// User is the configuration format for a Basic credential.
type User struct {
	Username     string
	PasswordHash string // bcrypt hash
	SiteID       string
	Admin        bool
	UserInfo     auth.UserInfo
}

// Authenticator validates Basic credentials against a static user table.
type Authenticator struct {
	users map[string]User

	// dummyHash is compared for unknown users so the response time does not
	// reveal whether a username exists.
	dummyHash []byte
}

// New creates a Basic authenticator. Every password hash must be a valid
// bcrypt hash.
func New(users []User) (*Authenticator, error) {
	a := &Authenticator{users: make(map[string]User, len(users))}
	for _, u := range users {
		if u.Username == "" {
			return nil, errors.New("basic auth user without username")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid bcrypt hash: %w", u.Username, err)
		}
		if _, dup := a.users[u.Username]; dup {
			return nil, fmt.Errorf("user %q defined twice", u.Username)
		}
		a.users[u.Username] = u
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("gatehouse-dummy"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}
	a.dummyHash = dummy
	return a, nil
}

// HashPassword returns the bcrypt hash of password, suitable for User.PasswordHash.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// Authenticate checks the request's Basic credentials.
// Returns Abstain when no Basic credentials are present.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Verdict {
	username, password, ok := r.BasicAuth()
	if !ok {
		return auth.Pass()
	}

	u, known := a.users[username]
	hash := a.dummyHash
	if known {
		hash = []byte(u.PasswordHash)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !known {
		debug.Log(debug.Auth, "basic credentials rejected", "user", username, "known", known)
		return auth.Reject(msgInvalidCredentials)
	}

	info := u.UserInfo.Clone()
	info.Set("username", u.Username)
	return auth.Accept(u.SiteID,
		auth.WithAdmin(u.Admin),
		auth.WithUserInfo(info),
	)
}
