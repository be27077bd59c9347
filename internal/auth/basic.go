// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicVerifier authenticates a single local admin account via HTTP Basic
// credentials. Intended for development and small single-operator installs
// that run without an OIDC gateway.
type BasicVerifier struct {
	username     string
	passwordHash []byte
}

// NewBasicVerifier creates a basic-auth verifier. The password hash must be
// a bcrypt hash; plain passwords are rejected at config validation.
func NewBasicVerifier(username, passwordHash string) *BasicVerifier {
	return &BasicVerifier{
		username:     username,
		passwordHash: []byte(passwordHash),
	}
}

// Verify checks the request's basic-auth credentials against the configured
// account and returns an admin principal on success.
func (v *BasicVerifier) Verify(r *http.Request) (*Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, ErrNoCredentials
	}

	// Constant-time username compare; bcrypt handles the password.
	if subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) != 1 {
		// Burn a bcrypt comparison anyway to keep timing uniform.
		_ = bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Principal{
		Subject: "local:" + v.username,
		Name:    v.username,
		Roles:   []string{RoleAdmin},
	}, nil
}

// NoneVerifier grants every request a fixed development principal. Never
// use outside local development.
type NoneVerifier struct{}

// Verify returns the development admin principal.
func (NoneVerifier) Verify(_ *http.Request) (*Principal, error) {
	return &Principal{
		Subject: "dev",
		Name:    "dev",
		Roles:   []string{RoleAdmin},
	}, nil
}
