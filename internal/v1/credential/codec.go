// Package credential mints and verifies the opaque peer credentials that
// guard every mutating room operation. The access blob is a signed claim set
// tying a peer id to a room id and a role; the refresh blob is an opaque
// random handle with its own longer expiry. Downstream packages treat both
// as opaque strings; only this package inspects them.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/drophub/drophub/internal/v1/types"
)

var (
	// ErrMalformed is returned when a blob cannot be parsed at all.
	ErrMalformed = errors.New("malformed credential")
	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("credential signature invalid")
	// ErrExpired is returned when the credential expiry has passed.
	// A credential is expired when exp <= now.
	ErrExpired = errors.New("credential expired")
)

// Claims are the verified contents of an access blob.
type Claims struct {
	jwt.RegisteredClaims
	PeerID types.PeerID   `json:"pid"`
	RoomID types.RoomID   `json:"rid"`
	Role   types.RoleType `json:"role"`
}

// Codec signs and verifies credentials with a single symmetric secret.
// It is pure: no state beyond the secret and the configured lifetimes.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCodec creates a codec from the configured signing secret.
func NewCodec(secret string, accessTTL, refreshTTL time.Duration) (*Codec, error) {
	if len(secret) < 32 {
		return nil, errors.New("credential secret must be at least 32 characters")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("credential lifetimes must be positive")
	}
	return &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// Mint produces a signed access blob and an opaque refresh blob for the
// given peer. Expiry is computed from the caller-supplied now so tests can
// inject a clock.
func (c *Codec) Mint(peerID types.PeerID, roomID types.RoomID, role types.RoleType, now time.Time) (access string, refresh string, err error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   string(peerID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
			Issuer:    "drophub",
		},
		PeerID: peerID,
		RoomID: roomID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	access, err = token.SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign access blob: %w", err)
	}

	refresh, err = c.mintRefresh()
	if err != nil {
		return "", "", err
	}

	return access, refresh, nil
}

// mintRefresh produces an opaque random handle. The refresh exchange itself
// is handled outside the core; opacity keeps it revocable.
func (c *Codec) mintRefresh() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh blob: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// AccessTTL returns the access blob lifetime.
func (c *Codec) AccessTTL() time.Duration {
	return c.accessTTL
}

// RefreshTTL returns the refresh blob lifetime.
func (c *Codec) RefreshTTL() time.Duration {
	return c.refreshTTL
}

// Verify parses an access blob and checks signature and expiry against the
// caller-supplied now. Expired credentials fail closed.
func (c *Codec) Verify(blob string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(blob, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }), jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			return nil, ErrMalformed
		}
	}

	if claims.PeerID == "" || claims.RoomID == 0 {
		return nil, ErrMalformed
	}

	return claims, nil
}
