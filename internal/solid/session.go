// Package solid holds the Solid pod integration: an OIDC login session
// against the pod's identity provider and an authenticated pod client for
// reading and writing resources.
package solid

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"transfer"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var ErrNotLoggedIn = errors.New("no active solid session")

// Session is the Solid-OIDC login session against the pod's identity
// provider. It carries the PKCE login handshake and, once the callback has
// been exchanged, the token and WebID used for authenticated pod access.
type Session struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
	logger       zerolog.Logger

	mu           sync.Mutex
	state        string
	pkceVerifier string
	nonce        string
	token        *oauth2.Token
	webID        string
}

func NewSession(ctx context.Context, cfg transfer.SolidConfig) (*Session, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	oauth2Cfg := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "webid", "offline_access"},
	}

	return &Session{
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Cfg,
		logger:       transfer.Logger,
	}, nil
}

// LoggedIn reports whether the session holds a usable token.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != nil && s.token.Valid()
}

// WebID returns the WebID of the logged in user, empty when logged out.
func (s *Session) WebID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webID
}

// AuthorizationURL starts a fresh PKCE handshake and returns the provider URL
// the user must visit to log in.
func (s *Session) AuthorizationURL() (string, error) {
	state, err := randomBase64URL(32)
	if err != nil {
		return "", err
	}
	pkceVerifier, err := randomBase64URL(32)
	if err != nil {
		return "", err
	}
	nonce, err := randomBase64URL(32)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.state = state
	s.pkceVerifier = pkceVerifier
	s.nonce = nonce
	s.mu.Unlock()

	return s.oauth2Config.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", pkceS256Challenge(pkceVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
	), nil
}

// HandleCallback completes the handshake started by AuthorizationURL: it
// verifies the state, exchanges the code and extracts the WebID from the ID
// token claims.
func (s *Session) HandleCallback(ctx context.Context, state, code string) error {
	s.mu.Lock()
	expectedState := s.state
	pkceVerifier := s.pkceVerifier
	expectedNonce := s.nonce
	s.mu.Unlock()

	if expectedState == "" || state != expectedState {
		return errors.New("invalid state")
	}
	if code == "" {
		return errors.New("missing code")
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	token, err := s.oauth2Config.Exchange(exchangeCtx, code, oauth2.SetAuthURLParam("code_verifier", pkceVerifier))
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return errors.New("missing id token")
	}

	idToken, err := s.verifier.Verify(exchangeCtx, rawIDToken)
	if err != nil {
		return fmt.Errorf("invalid id token: %w", err)
	}

	var claims struct {
		Nonce string `json:"nonce"`
		WebID string `json:"webid"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("invalid id token claims: %w", err)
	}
	if claims.Nonce == "" || claims.Nonce != expectedNonce {
		return errors.New("invalid nonce")
	}

	webID := claims.WebID
	if webID == "" {
		webID = idToken.Subject
	}

	s.mu.Lock()
	s.token = token
	s.webID = webID
	s.state = ""
	s.pkceVerifier = ""
	s.nonce = ""
	s.mu.Unlock()

	s.logger.Info().Str("webId", webID).Msg("Solid session established")
	return nil
}

// Logout drops the token and WebID.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = nil
	s.webID = ""
	s.mu.Unlock()
}

// PodOrigin derives the pod's origin (scheme and host) from the WebID.
func (s *Session) PodOrigin() (string, error) {
	s.mu.Lock()
	webID := s.webID
	s.mu.Unlock()

	if webID == "" {
		return "", ErrNotLoggedIn
	}
	u, err := url.Parse(webID)
	if err != nil {
		return "", fmt.Errorf("parsing webid %q: %w", webID, err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Client returns an HTTP client that attaches the session's token to every
// request, refreshing it when the provider supports refresh tokens.
func (s *Session) Client(ctx context.Context) (*http.Client, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token == nil {
		return nil, ErrNotLoggedIn
	}
	return s.oauth2Config.Client(ctx, token), nil
}

func randomBase64URL(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
