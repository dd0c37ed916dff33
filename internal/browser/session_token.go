package browser

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenSkew is subtracted from a stored token's expiry before
// deciding to reuse a session. A token that would expire mid-item forces
// a fresh login instead.
const DefaultTokenSkew = 2 * time.Minute

// TokenFresh reports whether a bearer token a portal stored client-side is
// still usable, with a safety skew subtracted from its expiry. The token is
// parsed without signature verification: we are the client, not the issuer,
// and only need the exp claim to decide between session reuse and a fresh
// login.
func TokenFresh(raw string, skew time.Duration) bool {
	if raw == "" {
		return false
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		// No expiry claim: treat as stale and force a login
		return false
	}
	return time.Now().Add(skew).Before(exp.Time)
}
