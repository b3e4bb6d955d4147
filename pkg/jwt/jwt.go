package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess      = "access"
	TypeSigningLink = "signing_link"
)

var ErrWrongTokenType = errors.New("unexpected token type")

// Claims is the access token issued by the identity provider. Only UserID is
// trusted as the owner identity.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// LinkClaims binds a signing link to one contract, one party and one link id.
// The link id travels as the standard jti claim.
type LinkClaims struct {
	ContractID string `json:"contract_id"`
	Party      string `json:"party"`
	Type       string `json:"type"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 tokens with a single secret.
type Manager struct {
	secret []byte
	now    func() time.Time
}

func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret), now: time.Now}
}

// GenerateAccessToken is used by local tooling and tests; production access
// tokens come from the identity provider.
func (m *Manager) GenerateAccessToken(userID, email, role string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return m.sign(claims)
}

// ValidateAccessToken parses an access token and checks its type.
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongTokenType, TypeAccess, claims.Type)
	}
	return claims, nil
}

// GenerateLinkToken signs a signing-link token. A zero ttl issues a token
// without expiry; the link stays valid until reissued or the contract leaves
// awaiting_signatures.
func (m *Manager) GenerateLinkToken(contractID, party, linkID string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := LinkClaims{
		ContractID: contractID,
		Party:      party,
		Type:       TypeSigningLink,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       linkID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return m.sign(claims)
}

// ValidateLinkToken parses a signing-link token.
func (m *Manager) ValidateLinkToken(tokenString string) (*LinkClaims, error) {
	claims := &LinkClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeSigningLink {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongTokenType, TypeSigningLink, claims.Type)
	}
	return claims, nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
