package browser

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return raw
}

func TestTokenFresh(t *testing.T) {
	fresh := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if !TokenFresh(fresh, time.Minute) {
		t.Error("token expiring in an hour reported stale")
	}

	expired := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	if TokenFresh(expired, time.Minute) {
		t.Error("expired token reported fresh")
	}
}

func TestTokenFreshSkew(t *testing.T) {
	// Expires in 30s; with a 5m skew it must count as stale.
	soon := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(30 * time.Second).Unix()})
	if TokenFresh(soon, 5*time.Minute) {
		t.Error("token inside the skew window reported fresh")
	}
	if !TokenFresh(soon, 0) {
		t.Error("token expiring in 30s with no skew reported stale")
	}
}

func TestTokenFreshRejectsUnusable(t *testing.T) {
	if TokenFresh("", time.Minute) {
		t.Error("empty token reported fresh")
	}
	if TokenFresh("not.a.jwt", time.Minute) {
		t.Error("garbage token reported fresh")
	}
	noExp := signedToken(t, jwt.MapClaims{"sub": "provider-42"})
	if TokenFresh(noExp, time.Minute) {
		t.Error("token without exp reported fresh")
	}
}
