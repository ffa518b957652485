package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType defines a public type used by credvault APIs.
//
// TokenType instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenType string

const (
	// TypeAccess is an exported constant or variable used by the credential engine.
	TypeAccess TokenType = "access"
	// TypeRefresh is an exported constant or variable used by the credential engine.
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrInvalidToken is an exported constant or variable used by the credential engine.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenType is an exported constant or variable used by the credential engine.
	ErrWrongTokenType = fmt.Errorf("%w: wrong token type", ErrInvalidToken)
)

// Config defines a public type used by credvault APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Secret     []byte
	Algorithm  string // "HS256", "HS384", "HS512"
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// Manager defines a public type used by credvault APIs.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// Claims defines a public type used by credvault APIs.
//
// Access tokens carry the username as Subject plus UserID; refresh tokens
// carry UserID and a unique ID usable for persistent revocation tracking.
type Claims struct {
	UserID    int64     `json:"user_id"`
	TokenType TokenType `json:"type"`
	jwt.RegisteredClaims
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
// NewManager does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "HS256", "":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg, method: method}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// CreateAccess describes the createaccess operation and its observable behavior.
//
// CreateAccess may return an error when input validation, dependency calls, or security checks fail.
// CreateAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) CreateAccess(username string, userID int64, now time.Time) (string, error) {
	claims := Claims{
		UserID:    userID,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	return jwt.NewWithClaims(m.method, claims).SignedString(m.config.Secret)
}

// CreateRefresh describes the createrefresh operation and its observable behavior.
//
// The returned ID is a fresh UUID embedded as the jti claim; callers persist
// it (hashed alongside the token) so individual refresh tokens can be revoked.
// CreateRefresh may return an error when input validation, dependency calls, or security checks fail.
func (m *Manager) CreateRefresh(userID int64, now time.Time) (token string, id string, expiresAt time.Time, err error) {
	id = uuid.NewString()
	expiresAt = now.Add(m.config.RefreshTTL)

	claims := Claims{
		UserID:    userID,
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	token, err = jwt.NewWithClaims(m.method, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, id, expiresAt, nil
}

// VerifyAccess describes the verifyaccess operation and its observable behavior.
//
// VerifyAccess may return an error when input validation, dependency calls, or security checks fail.
// VerifyAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) VerifyAccess(raw string) (*Claims, error) {
	return m.verify(raw, TypeAccess)
}

// VerifyRefresh describes the verifyrefresh operation and its observable behavior.
//
// VerifyRefresh may return an error when input validation, dependency calls, or security checks fail.
// VerifyRefresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) VerifyRefresh(raw string) (*Claims, error) {
	return m.verify(raw, TypeRefresh)
}

func (m *Manager) verify(raw string, expected TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	// Type confusion check: a refresh token must never pass where an access
	// token is expected, and vice versa.
	if claims.TokenType != expected {
		return nil, ErrWrongTokenType
	}
	// A signature check alone does not prove the payload is usable: a signed
	// token minted elsewhere may omit the identity claims entirely. Reject
	// instead of handing back partial claims.
	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	if expected == TypeAccess && claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if expected == TypeRefresh && claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}

	return claims, nil
}
