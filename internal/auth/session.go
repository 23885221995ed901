// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the cookie carrying the participant's session token.
const CookieName = "auth_token"

// privateKey and publicKey are used for signing and verifying JWT tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenExpiry of zero means tokens carry no exp claim.
	tokenExpiry time.Duration
)

// Init generates a fresh ed25519 key pair at runtime and sets the token expiration.
// Only tokens issued by this process verify afterwards, so it suits local development.
func Init(expire time.Duration) error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	tokenExpiry = expire
	return nil
}

// ErrVerifyOnly is returned by CreateJWT when no signing key was loaded.
var ErrVerifyOnly = errors.New("no signing key loaded, tokens can only be verified")

// InitFromPath loads the ed25519 keys tokens are verified and issued with and sets the
// token expiration. Key files may hold PEM (PKIX public, PKCS #8 private) or raw key
// bytes. With an empty privatePath tokens are only verified and CreateJWT fails.
func InitFromPath(privatePath, publicPath string, expire time.Duration) error {
	pub, err := readPublicKey(publicPath)
	if err != nil {
		return err
	}
	var priv ed25519.PrivateKey
	if privatePath != "" {
		priv, err = readPrivateKey(privatePath)
		if err != nil {
			return err
		}
		if !pub.Equal(priv.Public()) {
			return errors.New("private key does not belong to the public key")
		}
	}

	privateKey = priv
	publicKey = pub
	tokenExpiry = expire
	return nil
}

func readPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(data) == ed25519.PublicKeySize {
		return ed25519.PublicKey(data), nil
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an ed25519 key")
	}
	return pub, nil
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	if len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an ed25519 key")
	}
	return priv, nil
}

// CreateJWT creates a signed JWT token with "sub" = userID. An exp claim is
// added only when a non-zero expiry was configured.
func CreateJWT(userID string) (string, error) {
	if privateKey == nil {
		return "", ErrVerifyOnly
	}
	claims := jwt.MapClaims{
		"sub": userID,
	}
	if tokenExpiry > 0 {
		claims["exp"] = time.Now().Add(tokenExpiry).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a JWT string, returns the "sub" field if valid, else an error.
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

// Participant resolves the request's session cookie to a participant id.
// Requests without a valid token are anonymous and yield nil.
func Participant(r *http.Request) *uuid.UUID {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	sub, err := AuthenticateJWT(c.Value)
	if err != nil {
		return nil
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil
	}
	return &id
}
