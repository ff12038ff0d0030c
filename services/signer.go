package services

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidKeyID = errors.New("invalid key id")

type TokenSignerFunc func(claims jwt.Claims) (string, error)

// TokenSigner holds the server's signing keys. Keys are registered once at
// startup; a missing key surfaces there, never per request.
type TokenSigner struct {
	keys    map[string]TokenSignerFunc
	secrets map[string][]byte
}

// NewTokenSigner creates an empty signer registry.
func NewTokenSigner() *TokenSigner {
	return &TokenSigner{
		keys:    make(map[string]TokenSignerFunc),
		secrets: make(map[string][]byte),
	}
}

// AddKeySigner registers a symmetric HS256 key as the default signing key.
func (s *TokenSigner) AddKeySigner(secretKey string) {
	s.secrets["default"] = []byte(secretKey)
	s.keys["default"] = func(claims jwt.Claims) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte(secretKey))
		if err != nil {
			return "", fmt.Errorf("failed to sign token: %w", err)
		}
		return tokenString, nil
	}
}

// Sign signs claims with the named key, or the default key when keyID is empty.
func (s *TokenSigner) Sign(claims jwt.Claims, keyID string) (string, error) {
	if keyID == "" {
		for _, val := range s.keys {
			if val != nil {
				return val(claims)
			}
		}
		return "", ErrInvalidKeyID
	}

	if signer, ok := s.keys[keyID]; ok {
		return signer(claims)
	}
	return "", ErrInvalidKeyID
}

// Keyfunc resolves the verification key during parsing. Only HMAC methods
// are accepted; anything else is rejected before signature checking.
func (s *TokenSigner) Keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = "default"
	}
	secret, ok := s.secrets[kid]
	if !ok {
		return nil, ErrInvalidKeyID
	}
	return secret, nil
}
