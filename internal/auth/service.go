package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentdesk/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleSuperAdmin = "super_admin"

	claimSubject      = "sub"
	claimUserMetadata = "user_metadata"
	claimRole         = "role"
)

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrSecretMissing = errors.New("jwt secret not configured")
)

// Capabilities is what the caller of an admin request may do.
type Capabilities struct {
	UserID     string
	SuperAdmin bool
	// Organizations maps organization id to the member role.
	Organizations map[string]string
}

// CanAccess reports whether the caller may act on orgID.
func (c Capabilities) CanAccess(orgID string) bool {
	if c.SuperAdmin {
		return true
	}
	_, ok := c.Organizations[orgID]
	return ok
}

// Authorizer validates identity tokens and resolves capabilities.
type Authorizer struct {
	db     *storage.DB
	secret []byte
}

func NewAuthorizer(db *storage.DB, secret string) *Authorizer {
	return &Authorizer{db: db, secret: []byte(secret)}
}

// ParseToken validates an HS256 token and returns its claims.
func (a *Authorizer) ParseToken(raw string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, ErrSecretMissing
	}
	if strings.TrimSpace(raw) == "" {
		return nil, ErrTokenRequired
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claimString(claims, claimSubject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Capabilities resolves what userID may do. A super_admin role in the token metadata
// or in the users table grants everything; otherwise memberships decide.
func (a *Authorizer) Capabilities(ctx context.Context, userID string, claims jwt.MapClaims) (Capabilities, error) {
	caps := Capabilities{UserID: userID, Organizations: map[string]string{}}
	if meta, ok := claims[claimUserMetadata].(map[string]interface{}); ok {
		if role, _ := meta[claimRole].(string); role == RoleSuperAdmin {
			caps.SuperAdmin = true
		}
	}
	if !caps.SuperAdmin {
		var role string
		err := a.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
		switch {
		case err == nil:
			caps.SuperAdmin = role == RoleSuperAdmin
		case !errors.Is(err, sql.ErrNoRows):
			return Capabilities{}, fmt.Errorf("lookup user role: %w", err)
		}
	}

	rows, err := a.db.QueryContext(ctx, `SELECT organization_id, role FROM organization_members WHERE user_id = ?`, userID)
	if err != nil {
		return Capabilities{}, fmt.Errorf("lookup memberships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var orgID, role string
		if err := rows.Scan(&orgID, &role); err != nil {
			return Capabilities{}, err
		}
		caps.Organizations[orgID] = role
	}
	return caps, rows.Err()
}

// IssueToken signs an HS256 token for userID. role is stored in user_metadata when set.
func IssueToken(secret, userID, role string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, ErrSecretMissing
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		claimSubject: userID,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	if role != "" {
		claims[claimUserMetadata] = map[string]interface{}{claimRole: role}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}
