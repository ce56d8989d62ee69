package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered download tokens.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrExpiredToken is returned when a well-formed token is past its expiry.
	ErrExpiredToken = errors.New("download token expired")
)

// SignedObject describes what a download token grants access to.
type SignedObject struct {
	Owner     string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates HMAC-signed download tokens.
// Token layout: owner.expiry.base64(path).hex(hmac).
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token for relPath owned by owner.
func (s *SignedURLSigner) Sign(owner, relPath string) (string, time.Time, error) {
	if owner == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("owner and path required")
	}
	if strings.Contains(owner, ".") {
		return "", time.Time{}, fmt.Errorf("owner must not contain '.'")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	expiry := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	signature := s.mac(owner, expiry, encodedPath)
	return strings.Join([]string{owner, expiry, encodedPath, signature}, "."), expiresAt, nil
}

// Verify validates a token. Expired tokens still return the decoded object
// alongside ErrExpiredToken so cleanup code can locate the file.
func (s *SignedURLSigner) Verify(token string) (SignedObject, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedObject{}, ErrInvalidToken
	}
	owner, expiry, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.mac(owner, expiry, encodedPath)), []byte(signature)) {
		return SignedObject{}, ErrInvalidToken
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return SignedObject{}, ErrInvalidToken
	}
	unix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return SignedObject{}, ErrInvalidToken
	}

	obj := SignedObject{Owner: owner, Path: string(rawPath), ExpiresAt: time.Unix(unix, 0).UTC()}
	if s.now().After(obj.ExpiresAt) {
		return obj, ErrExpiredToken
	}
	return obj, nil
}

func (s *SignedURLSigner) mac(owner, expiry, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(owner + "|" + expiry + "|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
