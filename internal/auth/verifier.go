// Package auth verifies bearer tokens and extracts the caller's role.
//
// Two modes are supported:
//
//	dev:  the token IS the role ("admin", "dispatcher", "viewer"). For
//	      local development only.
//	hmac: the token is an HS256 JWT signed with a shared secret; the role
//	      is read from the "role" claim.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
}

var ErrUnauthorized = errors.New("unauthorized")

// Verifier checks bearer tokens according to the configured mode.
type Verifier struct {
	Mode       string // dev or hmac
	HMACSecret string

	// now is swappable for tests.
	now func() time.Time
}

func NewVerifier(mode, hmacSecret string) (*Verifier, error) {
	switch mode {
	case "dev":
	case "hmac":
		if hmacSecret == "" {
			return nil, errors.New("auth: hmac mode requires a secret")
		}
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", mode)
	}
	return &Verifier{Mode: mode, HMACSecret: hmacSecret, now: time.Now}, nil
}

// Verify resolves a bearer token to a Principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrUnauthorized
	}
	switch v.Mode {
	case "dev":
		return v.verifyDev(token)
	case "hmac":
		return v.verifyHS256(token)
	default:
		return Principal{}, ErrUnauthorized
	}
}

func (v *Verifier) verifyDev(token string) (Principal, error) {
	// Dev tokens are either "role" or "subject:role".
	sub, role := "dev", token
	if i := strings.IndexByte(token, ':'); i >= 0 {
		sub, role = token[:i], token[i+1:]
	}
	if !validRole(role) {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, role)
	}
	return Principal{Subject: sub, Role: role}, nil
}

type jwtClaims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Exp  int64  `json:"exp"`
	Nbf  int64  `json:"nbf"`
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}

	headerB, err := base64.RawURLEncoding.DecodeString(segs[0])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad header encoding", ErrUnauthorized)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerB, &header); err != nil || header.Alg != "HS256" {
		return Principal{}, fmt.Errorf("%w: unsupported algorithm", ErrUnauthorized)
	}

	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad signature encoding", ErrUnauthorized)
	}
	signingInput := segs[0] + "." + segs[1]
	mac := hmac.New(sha256.New, []byte(v.HMACSecret))
	mac.Write([]byte(signingInput))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}

	claimsB, err := base64.RawURLEncoding.DecodeString(segs[1])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad claims encoding", ErrUnauthorized)
	}
	var claims jwtClaims
	if err := json.Unmarshal(claimsB, &claims); err != nil {
		return Principal{}, fmt.Errorf("%w: bad claims", ErrUnauthorized)
	}

	now := v.now().Unix()
	if claims.Exp != 0 && now >= claims.Exp {
		return Principal{}, fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	if claims.Nbf != 0 && now < claims.Nbf {
		return Principal{}, fmt.Errorf("%w: token not yet valid", ErrUnauthorized)
	}
	if !validRole(claims.Role) {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, claims.Role)
	}
	return Principal{Subject: claims.Sub, Role: claims.Role}, nil
}

func validRole(role string) bool {
	switch role {
	case "admin", "dispatcher", "viewer":
		return true
	}
	return false
}

// CanOptimize reports whether the role may launch optimization runs or
// mutate depot data.
func (p Principal) CanOptimize() bool {
	return p.Role == "admin" || p.Role == "dispatcher"
}
