package trakt

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"watchsync/config"
)

// ErrNotAuthenticated is returned when no access token is configured.
var ErrNotAuthenticated = errors.New("trakt account not authenticated")

// refreshWindow is how close to expiry a token is proactively refreshed.
const refreshWindow = time.Hour

// Session hands out access tokens for the configured account, refreshing and
// persisting them as they approach expiry.
type Session struct {
	client        *Client
	configManager *config.Manager
	log           *zap.SugaredLogger
	now           func() time.Time

	mu sync.Mutex
}

// NewSession creates a session backed by the settings file.
func NewSession(client *Client, configManager *config.Manager, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		client:        client,
		configManager: configManager,
		log:           log,
		now:           time.Now,
	}
}

// Authenticated reports whether an access token is configured.
func (s *Session) Authenticated() bool {
	settings, err := s.configManager.Load()
	if err != nil {
		return false
	}
	return settings.Trakt.Authenticated()
}

// ScrobblingEnabled returns whether scrobbling is currently enabled.
func (s *Session) ScrobblingEnabled() bool {
	settings, err := s.configManager.Load()
	if err != nil {
		return false
	}
	return settings.Trakt.ScrobblingEnabled && settings.Trakt.Authenticated()
}

// AccessToken returns a valid access token, refreshing if needed.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.configManager.Load()
	if err != nil {
		return "", err
	}
	if !settings.Trakt.Authenticated() {
		return "", ErrNotAuthenticated
	}

	// Update client with current credentials
	s.client.UpdateCredentials(settings.Trakt.ClientID, settings.Trakt.ClientSecret)

	// Check if token needs refresh (within 1 hour of expiry)
	if settings.Trakt.ExpiresAt > 0 && settings.Trakt.RefreshToken != "" {
		expiresIn := time.Duration(settings.Trakt.ExpiresAt-s.now().Unix()) * time.Second
		if expiresIn < refreshWindow {
			return s.refreshLocked(ctx, settings)
		}
	}

	return settings.Trakt.AccessToken, nil
}

// Refresh forces a token refresh. It is invoked after the API rejects the
// current token.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.configManager.Load()
	if err != nil {
		return err
	}
	if settings.Trakt.RefreshToken == "" {
		return ErrNotAuthenticated
	}
	s.client.UpdateCredentials(settings.Trakt.ClientID, settings.Trakt.ClientSecret)
	_, err = s.refreshLocked(ctx, settings)
	return err
}

func (s *Session) refreshLocked(ctx context.Context, settings config.Settings) (string, error) {
	token, err := s.client.RefreshAccessToken(ctx, settings.Trakt.RefreshToken)
	if err != nil {
		return "", err
	}

	// Update settings with new tokens
	settings.Trakt.AccessToken = token.AccessToken
	settings.Trakt.RefreshToken = token.RefreshToken
	settings.Trakt.ExpiresAt = token.CreatedAt + int64(token.ExpiresIn)

	if err := s.configManager.Save(settings); err != nil {
		return "", err
	}
	s.log.Infow("refreshed access token", "expiresAt", time.Unix(settings.Trakt.ExpiresAt, 0).UTC())
	return token.AccessToken, nil
}
