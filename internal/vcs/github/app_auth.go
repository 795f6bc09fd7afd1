package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/izavyalov-dev/delta-qa/internal/observability"
)

const (
	appTokenGracePeriod = 2 * time.Minute
	appTokenTimeout     = 10 * time.Second
)

// AppTokenSource mints GitHub App installation tokens. Wrap it with
// NewAppTokenSource to get caching.
type AppTokenSource struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	now            func() time.Time
}

// NewAppTokenSource returns a caching token source for an App installation.
// Tokens are refreshed two minutes before expiry.
func NewAppTokenSource(appID, installationID int64, privateKeyPEM []byte, baseURL string, logger *slog.Logger) (oauth2.TokenSource, error) {
	src, err := newAppTokenSource(appID, installationID, privateKeyPEM, baseURL, logger)
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, appTokenGracePeriod), nil
}

func newAppTokenSource(appID, installationID int64, privateKeyPEM []byte, baseURL string, logger *slog.Logger) (*AppTokenSource, error) {
	if appID == 0 || installationID == 0 {
		return nil, errors.New("github app id and installation id are required")
	}
	if len(privateKeyPEM) == 0 {
		return nil, errors.New("github app private key required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger("github.app_auth")
	}
	return &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: appTokenTimeout},
		logger:         logger,
		now:            time.Now,
	}, nil
}

// Token exchanges a signed App JWT for an installation token.
func (s *AppTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), appTokenTimeout)
	defer cancel()

	signed, err := s.signJWT()
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ClientConfig{BaseURL: s.baseURL, HTTPClient: s.httpClient})
	if err != nil {
		return nil, err
	}
	gh := client.gh.WithAuthToken(signed)

	installToken, _, err := gh.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("create installation token: %w", err)
	}
	if installToken.GetToken() == "" {
		return nil, errors.New("github app token response missing token")
	}
	expiry := installToken.GetExpiresAt().Time
	if expiry.IsZero() {
		expiry = s.now().UTC().Add(30 * time.Minute)
	}
	s.logger.Info("github app token minted",
		"event", "github_app_token_minted",
		"installation_id", s.installationID,
		"token_fingerprint", observability.HashToken(installToken.GetToken()),
		"expires_at", expiry,
	)
	return &oauth2.Token{AccessToken: installToken.GetToken(), TokenType: "token", Expiry: expiry}, nil
}

func (s *AppTokenSource) signJWT() (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}

var _ oauth2.TokenSource = (*AppTokenSource)(nil)
