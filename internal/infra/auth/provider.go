// Package auth holds the streaming account credentials and refreshes the
// access token when the catalog rejects it.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenURL is the OAuth token endpoint
	DefaultTokenURL = "https://auth.tidal.com/v1/oauth2/token"

	// refreshTimeout bounds a refresh shared by several callers
	refreshTimeout = 15 * time.Second
)

// Common errors
var (
	// ErrNoCredentials indicates no account is logged in
	ErrNoCredentials = errors.New("no credentials")

	// ErrRefreshFailed indicates the token endpoint rejected the refresh
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Credentials is the persisted account state.
type Credentials struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// Provider supplies the current access token. Concurrent refreshes for the
// same credential share one request.
type Provider struct {
	mu    sync.RWMutex
	creds Credentials

	path         string
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	group singleflight.Group
}

// Option is a functional option for configuring the provider.
type Option func(*Provider)

// WithTokenURL sets the OAuth token endpoint (useful for testing).
func WithTokenURL(u string) Option {
	return func(p *Provider) {
		p.tokenURL = u
	}
}

// WithClient sets the OAuth client id and secret.
func WithClient(id, secret string) Option {
	return func(p *Provider) {
		p.clientID = id
		p.clientSecret = secret
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// NewProvider loads credentials from path. A missing file is not an error:
// the provider starts logged out. An empty path keeps credentials in memory.
func NewProvider(path string, opts ...Option) (*Provider, error) {
	p := &Provider{
		path:       path,
		tokenURL:   DefaultTokenURL,
		httpClient: &http.Client{Timeout: refreshTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}

	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("No stored credentials, waiting for login")
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &p.creds); err != nil {
		return nil, fmt.Errorf("invalid credentials format: %w", err)
	}

	log.Info().Str("userId", p.creds.UserID).Msg("Credentials loaded")
	return p, nil
}

// UserID returns the logged in user id, if any.
func (p *Provider) UserID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.creds.UserID, p.creds.UserID != ""
}

// AccessToken returns the current access token.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.creds.AccessToken == "" {
		return "", ErrNoCredentials
	}
	return p.creds.AccessToken, nil
}

// RefreshToken returns the current refresh token.
func (p *Provider) RefreshToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.creds.RefreshToken
}

// Credentials returns a copy of the current credentials.
func (p *Provider) Credentials() Credentials {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.creds
}

// Set replaces the credentials and persists them.
func (p *Provider) Set(creds Credentials) error {
	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
	return p.save()
}

// Refresh renews the access token. It returns immediately when the current
// token already differs from stale, i.e. another caller refreshed it.
func (p *Provider) Refresh(ctx context.Context, stale string) error {
	p.mu.RLock()
	current := p.creds.AccessToken
	refreshToken := p.creds.RefreshToken
	p.mu.RUnlock()

	if current != stale {
		return nil
	}
	if refreshToken == "" {
		return ErrNoCredentials
	}

	_, err, shared := p.group.Do(refreshToken, func() (any, error) {
		p.mu.RLock()
		done := p.creds.AccessToken != stale
		p.mu.RUnlock()
		if done {
			return nil, nil
		}
		// One caller giving up must not fail the others waiting on this refresh.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, p.refresh(rctx, refreshToken)
	})
	if shared {
		log.Debug().Msg("Joined in-flight token refresh")
	}
	return err
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       int64  `json:"user_id"`
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.clientID},
		"scope":         {"r_usr w_usr"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.clientSecret != "" {
		req.SetBasicAuth(p.clientID, p.clientSecret)
	}

	log.Info().Msg("Refreshing access token")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrRefreshFailed, resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRefreshFailed, err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrRefreshFailed)
	}

	p.mu.Lock()
	p.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		p.creds.RefreshToken = tok.RefreshToken
	}
	if tok.ExpiresIn > 0 {
		p.creds.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if tok.UserID != 0 && p.creds.UserID == "" {
		p.creds.UserID = fmt.Sprint(tok.UserID)
	}
	p.mu.Unlock()

	if err := p.save(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed credentials")
	}
	return nil
}

// save persists the credentials to disk.
func (p *Provider) save() error {
	if p.path == "" {
		return nil
	}

	p.mu.RLock()
	data, err := json.MarshalIndent(p.creds, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(p.path, data, 0600)
}
