// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// privateKey and publicKey sign and verify session tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTLSec is how many seconds until JWT expiration (0 => never).
	tokenTTLSec int
)

// parseTokenTTL reads the TOKEN_TTL env var ("never", "0", or a Go duration).
func parseTokenTTL() {
	ttl := os.Getenv("TOKEN_TTL")
	if ttl == "never" || ttl == "0" || ttl == "" {
		tokenTTLSec = 0
		return
	}
	d, err := time.ParseDuration(ttl)
	if err != nil {
		logrus.Fatalf("failed to parse TOKEN_TTL: %v", err)
	}
	tokenTTLSec = int(d.Seconds())
}

// Init generates a fresh ed25519 key pair at runtime and sets the token TTL.
// Tokens do not survive a restart; use InitFromPath for durable keys.
func Init() {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		logrus.Fatalf("failed to generate ed25519 key pair: %v", err)
	}
	parseTokenTTL()
}

// InitFromPath loads ed25519 private/public keys from files.
func InitFromPath(privatePath, publicPath string) error {
	priv, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	privateKey = ed25519.PrivateKey(priv)
	publicKey = ed25519.PublicKey(pub)
	parseTokenTTL()
	return nil
}

// CreateJWT creates a signed token with "sub" = userID.
func CreateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
	}
	if tokenTTLSec > 0 {
		claims["exp"] = time.Now().Add(time.Duration(tokenTTLSec) * time.Second).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a token string and returns the "sub" claim.
func AuthenticateJWT(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}
	userID, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return userID, nil
}
