package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Claims identifies the caller of a bearer token. Auth is ambient
// transport plumbing here, not a scheduling input (§7.1): no role or
// tenant concept feeds into admission or placement decisions.
type Claims struct {
	Subject   string `json:"sub"`
	Issuer    string `json:"iss"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

// TokenSigner issues and validates HMAC-SHA256 bearer tokens.
type TokenSigner struct {
	secret []byte
	issuer string
}

// NewTokenSigner builds a signer from a shared secret; secrets shorter
// than 32 bytes are rejected outright.
func NewTokenSigner(secret, issuer string) (*TokenSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("api: token secret must be at least 32 bytes")
	}
	return &TokenSigner{secret: []byte(secret), issuer: issuer}, nil
}

// Issue signs a token for subject, valid for ttl.
func (s *TokenSigner) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	header := base64URLEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := header + "." + base64URLEncode(claimsJSON)
	return body + "." + s.sign(body), nil
}

// Validate parses and verifies a token, rejecting expired or
// mis-issued ones.
func (s *TokenSigner) Validate(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("api: malformed token")
	}
	body := parts[0] + "." + parts[1]
	if s.sign(body) != parts[2] {
		return nil, errors.New("api: invalid signature")
	}
	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("api: decode claims: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("api: unmarshal claims: %w", err)
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("api: token expired")
	}
	if claims.Issuer != s.issuer {
		return nil, errors.New("api: unrecognized issuer")
	}
	return &claims, nil
}

func (s *TokenSigner) sign(data string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return base64URLEncode(h.Sum(nil))
}

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(data string) ([]byte, error) {
	if pad := len(data) % 4; pad > 0 {
		data += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(data)
}

// requireBearer wraps next, rejecting requests without a valid token
// signed by signer. Fails fast on a missing or malformed header.
func requireBearer(signer *TokenSigner, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "expected 'Bearer <token>'", http.StatusUnauthorized)
			return
		}
		if _, err := signer.Validate(parts[1]); err != nil {
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
