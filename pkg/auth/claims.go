package auth

import "github.com/golang-jwt/jwt/v5"

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by subscribers. The
// subject carries the user id that owns notifications.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c AccessTokenClaims) UserID() string {
	return c.Subject
}
