package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"rigdata/internal/models"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	Username    string   `json:"username,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Type        string   `json:"type"`
	jwt.RegisteredClaims
}

// Token is a signed JWT together with the registry data stored for it.
type Token struct {
	Value     string
	JTI       string
	Type      string
	ExpiresAt time.Time
}

// Manager signs and verifies HS256 access and refresh tokens.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewManager builds a Manager. An empty secret is replaced by a random one,
// which invalidates tokens on restart.
func NewManager(secret string, accessTTL, refreshTTL time.Duration) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &Manager{secret: key, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

func (m *Manager) issue(u *models.User, typ string, ttl time.Duration) (Token, error) {
	now := m.now()
	exp := now.Add(ttl)
	c := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if typ == models.TokenAccess {
		c.Username = u.Username
		c.Role = u.Role
		c.Permissions = u.Permissions
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Token{Value: signed, JTI: c.ID, Type: typ, ExpiresAt: exp}, nil
}

func (m *Manager) IssueAccess(u *models.User) (Token, error) {
	return m.issue(u, models.TokenAccess, m.accessTTL)
}

func (m *Manager) IssueRefresh(u *models.User) (Token, error) {
	return m.issue(u, models.TokenRefresh, m.refreshTTL)
}

// Parse verifies signature, expiry and token type.
func (m *Manager) Parse(raw, typ string) (*Claims, error) {
	c := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if c.Type != typ || c.Subject == "" || c.ID == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}
