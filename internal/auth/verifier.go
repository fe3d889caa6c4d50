package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"crisis-comms/internal/models"
)

// ErrUnauthenticated is returned for missing or rejected credentials. It is
// terminal for the handshake that presented them.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the result of a verified session credential.
type Identity struct {
	UserID string
	Role   models.Role
}

// Verifier is the identity-provider contract: it turns a signed credential
// into a (userID, role) pair. The core never inspects the credential itself.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// JWTVerifier validates HMAC-signed session tokens issued by the platform's
// identity provider.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a verifier for the shared signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token and extracts user_id and role claims.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return Identity{}, ErrUnauthenticated
	}

	role := models.RoleMember
	if raw, ok := claims["role"].(string); ok && raw != "" {
		role = models.Role(raw)
	}

	return Identity{UserID: userID, Role: role}, nil
}
