package services

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformedToken = errors.New("malformed reset token")
	ErrTokenSignature = errors.New("reset token signature mismatch")
)

type ResetClaims struct {
	UserID   string
	IssuedAt time.Time
}

// ResetTokenCodec mints and reads the short-lived token handed out after a
// successful OTP verification. Expiry is checked by the caller.
type ResetTokenCodec interface {
	Encode(userID string, issuedAt time.Time) (string, error)
	Decode(token string) (*ResetClaims, error)
}

// LegacyTokenCodec produces base64("userID:epochMillis:randomFloat").
//
// The token carries no MAC: anyone who knows a user id can forge one.
// Kept for compatibility with already issued tokens; configure
// RESET_TOKEN_SECRET to switch to SignedTokenCodec.
type LegacyTokenCodec struct{}

func (LegacyTokenCodec) Encode(userID string, issuedAt time.Time) (string, error) {
	if userID == "" || strings.Contains(userID, ":") {
		return "", fmt.Errorf("encode reset token: invalid user id %q", userID)
	}
	payload := userID + ":" + strconv.FormatInt(issuedAt.UnixMilli(), 10) + ":" +
		strconv.FormatFloat(rand.Float64(), 'f', -1, 64)
	return base64.StdEncoding.EncodeToString([]byte(payload)), nil
}

func (LegacyTokenCodec) Decode(token string) (*ResetClaims, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformedToken
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] == "" {
		return nil, ErrMalformedToken
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrMalformedToken
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
		return nil, ErrMalformedToken
	}
	return &ResetClaims{UserID: parts[0], IssuedAt: time.UnixMilli(ms).UTC()}, nil
}

// SignedTokenCodec issues HS256 JWTs with sub, iat and jti claims. The
// registered iat only has second precision, so the issue time is also
// carried in milliseconds.
type SignedTokenCodec struct {
	secret []byte
}

type resetJWTClaims struct {
	jwt.RegisteredClaims
	IssuedAtMs int64 `json:"iat_ms,omitempty"`
}

func NewSignedTokenCodec(secret string) *SignedTokenCodec {
	return &SignedTokenCodec{secret: []byte(secret)}
}

func (c *SignedTokenCodec) Encode(userID string, issuedAt time.Time) (string, error) {
	claims := resetJWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
			ID:       uuid.NewString(),
		},
		IssuedAtMs: issuedAt.UnixMilli(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("encode reset token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature only; the age check stays with the caller
// so both codecs expire tokens the same way.
func (c *SignedTokenCodec) Decode(token string) (*ResetClaims, error) {
	var claims resetJWTClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, ErrTokenSignature
		}
		return nil, ErrMalformedToken
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrMalformedToken
	}
	issuedAt := claims.IssuedAt.Time.UTC()
	if claims.IssuedAtMs > 0 {
		issuedAt = time.UnixMilli(claims.IssuedAtMs).UTC()
	}
	return &ResetClaims{UserID: claims.Subject, IssuedAt: issuedAt}, nil
}
