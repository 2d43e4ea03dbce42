package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-jwt/jwt/v5/request"
)

const defaultIssuer = "salespulse"

var (
	ErrTokenExpired = errors.New("auth: token has expired")
	ErrTokenInvalid = errors.New("auth: token is invalid")
)

// Claims are the JWT claims carried by a bearer token. The subject holds the
// user ID.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HMAC-signed bearer tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a TokenManager. The secret must not be empty.
func NewTokenManager(secret, issuer string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if issuer == "" {
		issuer = defaultIssuer
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	if now != nil {
		m.now = now
	}
	return m
}

// TTL returns the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for userID and returns it with its expiry.
func (m *TokenManager) Issue(userID int64) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("auth: invalid user id %d", userID)
	}
	now := m.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify parses a raw token and returns the user ID it was issued for.
func (m *TokenManager) Verify(raw string) (int64, error) {
	claims := &Claims{}
	_, err := m.parser().ParseWithClaims(raw, claims, m.keyFunc)
	if err != nil {
		return 0, translate(err)
	}
	return subjectUserID(claims)
}

// FromRequest extracts and verifies the Authorization bearer token.
func (m *TokenManager) FromRequest(r *http.Request) (int64, error) {
	claims := &Claims{}
	_, err := request.ParseFromRequest(r, request.BearerExtractor{}, m.keyFunc,
		request.WithClaims(claims),
		request.WithParser(m.parser()),
	)
	if err != nil {
		if errors.Is(err, request.ErrNoTokenInRequest) {
			return 0, err
		}
		return 0, translate(err)
	}
	return subjectUserID(claims)
}

func (m *TokenManager) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
}

func (m *TokenManager) keyFunc(*jwt.Token) (interface{}, error) {
	return m.secret, nil
}

func translate(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
}

func subjectUserID(claims *Claims) (int64, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrTokenInvalid
	}
	return id, nil
}
