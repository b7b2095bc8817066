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
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrTokenExpired is returned for a well-signed token past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// DownloadToken is the payload carried by a signed download link.
type DownloadToken struct {
	JobID     string
	Key       string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed report download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL reports how long generated tokens stay valid.
func (s *SignedURLSigner) TTL() time.Duration {
	return s.ttl
}

// Generate returns a token of the form job.expiry.key.signature.
func (s *SignedURLSigner) Generate(jobID, key string) (string, time.Time, error) {
	if jobID == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("job id and artifact key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	expiry := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	token := strings.Join([]string{jobID, expiry, encodedKey, s.sign(jobID, expiry, encodedKey)}, ".")
	return token, expiresAt, nil
}

// Parse validates token. With allowExpired the expiry check is skipped,
// which cleanup uses to resolve artifacts of stale links.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (DownloadToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return DownloadToken{}, ErrInvalidToken
	}
	jobID, expiry, encodedKey, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(jobID, expiry, encodedKey)), []byte(signature)) {
		return DownloadToken{}, ErrInvalidToken
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return DownloadToken{}, fmt.Errorf("%w: decode key", ErrInvalidToken)
	}
	unix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return DownloadToken{}, fmt.Errorf("%w: expiry", ErrInvalidToken)
	}
	parsed := DownloadToken{JobID: jobID, Key: string(rawKey), ExpiresAt: time.Unix(unix, 0)}
	if !allowExpired && s.now().After(parsed.ExpiresAt) {
		return parsed, ErrTokenExpired
	}
	return parsed, nil
}

func (s *SignedURLSigner) sign(jobID, expiry, encodedKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(jobID + "|" + expiry + "|" + encodedKey))
	return hex.EncodeToString(mac.Sum(nil))
}
