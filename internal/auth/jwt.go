package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Claims is the token payload issued by the LMS login service.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"user_id"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	AvatarRef   string `json:"avatar,omitempty"`
}

// JWTResolver validates HMAC-signed bearer tokens.
type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Resolve validates the token and maps its claims onto an Identity.
func (r *JWTResolver) Resolve(ctx context.Context, credential string) (types.Identity, error) {
	if credential == "" {
		return types.Identity{}, unauthorized(ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Identity{}, unauthorized(ErrExpiredToken)
		}
		return types.Identity{}, unauthorized(ErrInvalidToken)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return types.Identity{}, unauthorized(ErrInvalidToken)
	}
	return claims.identity()
}

// Issue signs a token for identity. The LMS owns issuance in production;
// this is used by tests and the dev token command.
func (r *JWTResolver) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:      identity.ID,
		DisplayName: identity.DisplayName,
		Role:        string(identity.Role),
		AvatarRef:   identity.AvatarRef,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

func (c *Claims) identity() (types.Identity, error) {
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	identity := types.Identity{
		ID:          userID,
		DisplayName: c.DisplayName,
		Role:        types.Role(c.Role),
		AvatarRef:   c.AvatarRef,
	}
	if err := validIdentity(identity); err != nil {
		return types.Identity{}, err
	}
	return identity, nil
}

func validIdentity(identity types.Identity) error {
	if !types.IsValidUserID(identity.ID) {
		return unauthorized(ErrInvalidClaims)
	}
	switch identity.Role {
	case types.RoleAdmin, types.RoleTeacher, types.RoleStudent:
		return nil
	default:
		return unauthorized(ErrInvalidClaims)
	}
}

func unauthorized(err error) error {
	return types.WrapError(types.Unauthorized, "invalid credential", fmt.Errorf("%w: %w", interfaces.ErrInvalidCredential, err))
}
