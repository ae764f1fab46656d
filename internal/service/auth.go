package service

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidHash  = errors.New("invalid token hash")
)

const minTokenLength = 16

// TokenAuth checks API bearer tokens against a bcrypt hash. A zero-value
// TokenAuth (no hash configured) accepts every request.
type TokenAuth struct {
	hash []byte
}

// NewTokenAuth accepts an empty hash, which disables authentication.
func NewTokenAuth(hash string) (*TokenAuth, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return &TokenAuth{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.Join(ErrInvalidHash, err)
	}
	return &TokenAuth{hash: []byte(hash)}, nil
}

func (a *TokenAuth) Enabled() bool {
	return len(a.hash) > 0
}

func (a *TokenAuth) Verify(token string) error {
	if !a.Enabled() {
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashToken produces the value expected in API_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if len(token) < minTokenLength {
		return "", errors.New("token must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
