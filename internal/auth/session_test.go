package auth

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	require.NoError(t, Init(time.Hour))

	id := uuid.New()
	token, err := CreateJWT(id.String())
	require.NoError(t, err)

	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, id.String(), sub)

	_, err = AuthenticateJWT(token + "x")
	assert.Error(t, err)
}

func TestJWTFromOtherKeyRejected(t *testing.T) {
	require.NoError(t, Init(0))
	token, err := CreateJWT(uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, Init(0))
	_, err = AuthenticateJWT(token)
	assert.Error(t, err)
}

func TestParticipant(t *testing.T) {
	require.NoError(t, Init(0))
	id := uuid.New()
	token, err := CreateJWT(id.String())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/races/abc", nil)
	assert.Nil(t, Participant(r), "no cookie is anonymous")

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
	assert.Nil(t, Participant(r), "bad token is anonymous")

	r = httptest.NewRequest(http.MethodGet, "/races/abc", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	got := Participant(r)
	require.NotNil(t, got)
	assert.Equal(t, id, *got)

	notUUID, err := CreateJWT("guest")
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/races/abc", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: notUUID})
	assert.Nil(t, Participant(r))
}

// writeKeys stores a fresh key pair under dir as PEM files and returns their paths and
// the private key.
func writeKeys(t *testing.T, dir string) (string, string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	pubPath := filepath.Join(dir, "jwt.pub")
	privPath := filepath.Join(dir, "jwt.key")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))
	return privPath, pubPath, priv
}

func TestExternallySignedTokenVerifies(t *testing.T) {
	_, pubPath, issuer := writeKeys(t, t.TempDir())
	require.NoError(t, InitFromPath("", pubPath, 0))

	id := uuid.New()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": id.String()}).SignedString(issuer)
	require.NoError(t, err)

	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, id.String(), sub)

	r := httptest.NewRequest(http.MethodGet, "/races/abc", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	got := Participant(r)
	require.NotNil(t, got)
	assert.Equal(t, id, *got)

	_, err = CreateJWT(id.String())
	assert.ErrorIs(t, err, ErrVerifyOnly)
}

func TestInitFromPathKeyFormats(t *testing.T) {
	dir := t.TempDir()
	privPath, pubPath, priv := writeKeys(t, dir)
	require.NoError(t, InitFromPath(privPath, pubPath, time.Hour))
	token, err := CreateJWT("someone")
	require.NoError(t, err)
	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "someone", sub)

	rawPriv := filepath.Join(dir, "raw.key")
	rawPub := filepath.Join(dir, "raw.pub")
	require.NoError(t, os.WriteFile(rawPriv, priv, 0o600))
	require.NoError(t, os.WriteFile(rawPub, priv.Public().(ed25519.PublicKey), 0o600))
	require.NoError(t, InitFromPath(rawPriv, rawPub, 0))
	sub, err = AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "someone", sub)

	_, otherPub, _ := writeKeys(t, t.TempDir())
	assert.Error(t, InitFromPath(privPath, otherPub, 0), "mismatched pair")
	assert.Error(t, InitFromPath("", filepath.Join(dir, "missing.pub"), 0))

	garbage := filepath.Join(dir, "garbage.pub")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	assert.Error(t, InitFromPath("", garbage, 0))
}
