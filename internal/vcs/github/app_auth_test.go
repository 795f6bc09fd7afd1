package github

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestAppTokenSourceExchangesJWT(t *testing.T) {
	key, keyPEM := testKeyPEM(t)
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/installations/99/access_tokens", r.URL.Path)

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
			return &key.PublicKey, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "12", claims.Issuer)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token": "ghs_installation", "expires_at": "` + expires.Format(time.RFC3339) + `"}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	source, err := newAppTokenSource(12, 99, keyPEM, srv.URL, slog.New(slog.NewJSONHandler(&logs, nil)))
	require.NoError(t, err)

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", token.AccessToken)
	assert.True(t, token.Expiry.Equal(expires))

	assert.Contains(t, logs.String(), `"event":"github_app_token_minted"`)
	assert.Contains(t, logs.String(), observability.HashToken("ghs_installation"))
	assert.NotContains(t, logs.String(), "ghs_installation")
}

func TestNewAppTokenSourceValidation(t *testing.T) {
	_, keyPEM := testKeyPEM(t)

	_, err := NewAppTokenSource(0, 1, keyPEM, "", discardLogger())
	assert.Error(t, err)
	_, err = NewAppTokenSource(1, 1, nil, "", discardLogger())
	assert.Error(t, err)
	_, err = NewAppTokenSource(1, 1, []byte("not a key"), "", discardLogger())
	assert.Error(t, err)

	source, err := NewAppTokenSource(1, 1, keyPEM, "", discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, source)
}
