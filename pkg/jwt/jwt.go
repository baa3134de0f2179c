package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptySecret  = errors.New("jwt secret is empty")
)

// Roles carried in the role claim.
const (
	RoleAdmin  = "admin"
	RoleStaff  = "staff"
	RoleDevice = "device"
)

// Claims represents JWT claims. For a device agent the subject is its
// device id; for a viewer it is the lab-management user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username,omitempty"`
	Role     string   `json:"role"`
	Devices  []string `json:"devices,omitempty"`
}

// Manager signs and verifies HS256 tokens shared with the lab-management
// backend.
type Manager struct {
	secret   []byte
	issuer   string
	duration time.Duration
}

// NewManager creates a new JWT manager. duration is the lifetime of tokens
// issued by Issue.
func NewManager(secret, issuer string, duration time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		duration: duration,
	}, nil
}

// Issue signs a token for subject.
func (m *Manager) Issue(subject, username, role string, devices []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
		Username: username,
		Role:     role,
		Devices:  devices,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken validates a token and returns claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case RoleAdmin, RoleStaff, RoleDevice:
	default:
		return nil, ErrInvalidToken
	}

	return claims, nil
}
