// Package identity binds a submit/reserve caller to the lease it is
// acting under. The host issues a short-lived HS256 JWT out-of-band
// carrying the caller's backend identity and the lease it is scoped to;
// the worker verifies the signature and never logs the raw bearer string,
// only its SHA3-256 hash.
package identity

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidToken covers any malformed, unsigned, expired, or
// wrong-lease-scope bearer token.
var ErrInvalidToken = errors.New("identity: invalid bearer token")

// Claims is the payload of a lease-scoped identity token.
type Claims struct {
	// BackendIdentity is the opaque string recorded in
	// Attestation.BackendIdentity for the job this token authorizes.
	BackendIdentity string `json:"sub"`
	// LeaseScope restricts the token to one lease ID; empty means
	// unscoped (valid for any lease the backend identity owns).
	LeaseScope string `json:"lease_scope,omitempty"`
}

// Verifier checks bearer tokens issued by the host against a shared
// HMAC secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates tokenString, and if leaseID is non-empty,
// requires the token's lease_scope (if set) to match it.
func (v *Verifier) Verify(tokenString, leaseID string) (Claims, error) {
	var claims jwt.MapClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Claims{}, ErrInvalidToken
	}
	scope, _ := claims["lease_scope"].(string)
	if scope != "" && leaseID != "" && scope != leaseID {
		return Claims{}, ErrInvalidToken
	}

	return Claims{BackendIdentity: sub, LeaseScope: scope}, nil
}

// Issue is used by host-side callers (and tests) to mint a token; the
// worker itself never issues tokens, only verifies them.
func Issue(secret []byte, backendIdentity, leaseScope string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": backendIdentity,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if leaseScope != "" {
		claims["lease_scope"] = leaseScope
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// HashBearerToken returns the SHA3-256 hex digest of a raw bearer token,
// for audit logging in place of the token itself.
func HashBearerToken(tokenString string) string {
	h := sha3.New256()
	h.Write([]byte(tokenString))
	return hex.EncodeToString(h.Sum(nil))
}

// EqualHash does a constant-time comparison of two hex-encoded hashes,
// for callers that need to compare a stored hash against a freshly
// computed one without a timing side channel.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
