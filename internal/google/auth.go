package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"ttsync/internal/logging"
)

const credentialsFile = "credentials.json"

// ErrAuthRequired means there is no usable token and the user has to run the auth flow.
var ErrAuthRequired = errors.New("google authentication required, run the 'auth' command")

// OAuthConfig builds the OAuth2 config. Explicit client credentials win
// over a local credentials.json file.
func OAuthConfig(clientID, clientSecret, redirectURL string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	if redirectURL != "" {
		config.RedirectURL = redirectURL
	}
	return config, nil
}

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	// Load returns nil and no error when nothing is stored.
	Load() (*oauth2.Token, error)
	Save(*oauth2.Token) error
	Clear() error
}

// FileTokenStore keeps the token as JSON in a file only the owner can read.
type FileTokenStore struct {
	Path string
}

// Load implements TokenStore.
func (s FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read token file: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("unable to parse token file %s: %w", s.Path, err)
	}
	return tok, nil
}

// Save implements TokenStore. The file is replaced atomically.
func (s FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	f, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("unable to write token file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Clear implements TokenStore.
func (s FileTokenStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// TokenProvider hands out valid access tokens, refreshing and persisting
// them as needed. Concurrent callers share one refresh.
type TokenProvider struct {
	config *oauth2.Config
	store  TokenStore
	logger *slog.Logger

	mu      sync.Mutex
	current *oauth2.Token
	loaded  bool
}

// NewTokenProvider creates a TokenProvider backed by store.
func NewTokenProvider(logger *slog.Logger, config *oauth2.Config, store TokenStore) *TokenProvider {
	return &TokenProvider{config: config, store: store, logger: logging.OrDefault(logger)}
}

// AuthCodeURL returns the consent page URL for the auth-code flow.
func (p *TokenProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (p *TokenProvider) Exchange(ctx context.Context, code string) error {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("unable to retrieve token from web: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Save(tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	p.current, p.loaded = tok, true
	return nil
}

// Token implements oauth2.TokenSource.
func (p *TokenProvider) Token() (*oauth2.Token, error) {
	return p.token(context.Background())
}

// GetValidAccessToken returns an unexpired access token, refreshing it first if needed.
func (p *TokenProvider) GetValidAccessToken(ctx context.Context) (string, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// IsAuthenticated reports whether a valid token can be produced.
func (p *TokenProvider) IsAuthenticated(ctx context.Context) bool {
	_, err := p.token(ctx)
	return err == nil
}

// SignOut forgets the token in memory and in the store.
func (p *TokenProvider) SignOut() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current, p.loaded = nil, true
	if err := p.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// HTTPClient returns a client that authorizes every request with this provider.
func (p *TokenProvider) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, p)
}

func (p *TokenProvider) token(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		tok, err := p.store.Load()
		if err != nil {
			return nil, err
		}
		p.current, p.loaded = tok, true
	}

	if p.current == nil {
		return nil, ErrAuthRequired
	}
	if p.current.Valid() {
		return p.current, nil
	}
	if p.current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired and cannot be refreshed", ErrAuthRequired)
	}

	p.logger.Debug("Refreshing Google access token.")
	fresh, err := p.config.TokenSource(ctx, p.current).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = p.current.RefreshToken
	}
	if err := p.store.Save(fresh); err != nil {
		p.logger.Warn("Failed to persist refreshed token", "error", err)
	}
	p.current = fresh
	return fresh, nil
}
