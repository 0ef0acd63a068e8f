// Package auth owns the MagioTV access/refresh token lifecycle for the one
// configured account: credential login, margin-based refresh, persistence
// across restarts and the TTL-cache mirror that de-duplicates refreshes
// between collaborators.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"magioproxy/cache"
	"magioproxy/metrics"
)

const (
	// RefreshMargin is how long before expiry a token is already treated as
	// stale, so it is never presented upstream only to expire mid-request.
	RefreshMargin = 60 * time.Second

	// cacheTTLCeiling caps how long a TokenSet may live in the cache and the
	// Redis store regardless of the token's own lifetime.
	cacheTTLCeiling = 7 * 24 * time.Hour

	defaultTimeout = 30 * time.Second

	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36 MagioGO/4.0.21"
	DefaultDeviceName = "Android TV"
	DefaultDeviceType = "OTT_STB"
	DefaultAppVersion = "4.0.25-hf.0"
)

// BaseURLForLanguage maps a language code to the upstream API host.
func BaseURLForLanguage(language string) string {
	switch strings.ToLower(language) {
	case "cz":
		return "https://czgo.magio.tv"
	case "sk":
		return "https://skgo.magio.tv"
	default:
		return fmt.Sprintf("https://%sgo.magio.tv", strings.ToLower(language))
	}
}

// Config carries the account and device identity the manager logs in with.
type Config struct {
	Username   string
	Password   string
	Language   string
	DeviceName string
	DeviceType string
	UserAgent  string
	AppVersion string

	// BaseURL overrides the language-derived upstream URL, used in tests.
	BaseURL string
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "cz"
	}
	c.Language = strings.ToLower(c.Language)
	if c.DeviceName == "" {
		c.DeviceName = DefaultDeviceName
	}
	if c.DeviceType == "" {
		c.DeviceType = DefaultDeviceType
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.AppVersion == "" {
		c.AppVersion = DefaultAppVersion
	}
	if c.BaseURL == "" {
		c.BaseURL = BaseURLForLanguage(c.Language)
	}
}

// Status is the read-only view of the manager's authentication state.
type Status struct {
	Authenticated         bool   `json:"authenticated"`
	Username              string `json:"username,omitempty"`
	Language              string `json:"language"`
	DeviceID              string `json:"device_id"`
	TokenValid            bool   `json:"token_valid"`
	RefreshValid          bool   `json:"refresh_valid"`
	TokenExpiresIn        int    `json:"token_expires_in"`
	TokenExpiresFormatted string `json:"token_expires_formatted"`
}

// tokenResponse is the shared shape of the init, login and refresh replies.
type tokenResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
	Token        struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"` // milliseconds
	} `json:"token"`
}

// Manager owns the live TokenSet. The store and the cache are best-effort
// mirrors; once the process is up the in-memory value is authoritative.
type Manager struct {
	cfg   Config
	http  *resty.Client
	store TokenStore
	cache *cache.Cache

	mu     sync.Mutex
	tokens TokenSet

	refreshGroup singleflight.Group

	now func() time.Time
}

// NewManager builds a manager, restores any persisted tokens (cache first,
// then the store) and settles the device identity: a restored device ID wins
// over a freshly generated one so the upstream sees a stable installation.
func NewManager(cfg Config, store TokenStore, c *cache.Cache) *Manager {
	cfg.applyDefaults()
	if store == nil {
		store = NoopStore{}
	}

	m := &Manager{
		cfg:   cfg,
		store: store,
		cache: c,
		now:   time.Now,
	}
	m.http = resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(defaultTimeout).
		SetHeader("User-Agent", cfg.UserAgent)

	m.restoreTokens()

	if m.tokens.DeviceID == "" {
		m.tokens.DeviceID = uuid.NewString()
		log.Info().Str("deviceId", m.tokens.DeviceID).Msg("generated new device id")
	}

	log.Info().Str("language", cfg.Language).Msg("auth manager initialized")
	return m
}

func (m *Manager) cacheKey() string {
	return "auth_tokens_" + m.cfg.Language
}

// restoreTokens loads the last known TokenSet from the cache, falling back
// to the durable store. Store contents are mirrored back into the cache so
// sibling collaborators skip their own store reads.
func (m *Manager) restoreTokens() {
	if m.cache != nil {
		if v, ok := m.cache.Get(m.cacheKey()); ok {
			if tokens, ok := v.(TokenSet); ok {
				m.tokens = tokens
				log.Info().Msg("tokens restored from cache")
				return
			}
		}
	}

	tokens, err := m.store.Load(m.cfg.Language)
	if err != nil {
		log.Warn().Err(err).Msg("could not load persisted tokens")
		return
	}
	if tokens == nil {
		return
	}

	m.tokens = *tokens
	log.Info().Msg("tokens restored from store")
	m.cacheTokens(*tokens)
}

// cacheTokens mirrors a TokenSet into the TTL cache with a TTL of
// min(time remaining, 7 days). Already-expired tokens are never cached.
func (m *Manager) cacheTokens(tokens TokenSet) {
	if m.cache == nil {
		return
	}

	remaining := tokens.ExpiresAt().Sub(m.now())
	if remaining <= 0 {
		return
	}
	if remaining > cacheTTLCeiling {
		remaining = cacheTTLCeiling
	}

	m.cache.Store(m.cacheKey(), tokens, remaining)
}

// persist writes the TokenSet everywhere: the durable store and the cache.
// Persistence failures are logged and swallowed; the in-memory copy keeps
// the session alive either way.
func (m *Manager) persist(tokens TokenSet) {
	if err := m.store.Save(tokens, m.cfg.Language); err != nil {
		log.Error().Err(err).Msg("could not persist tokens")
	}
	m.cacheTokens(tokens)
}

func (m *Manager) snapshot() TokenSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

func (m *Manager) adopt(tokens TokenSet) {
	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()
}

// Login authenticates with the configured credentials. If the current
// refresh token is still viable the credential exchange is skipped in favor
// of a refresh. Returns false on any failure; a failed re-login never
// clears tokens that are still held.
func (m *Manager) Login(ctx context.Context) bool {
	current := m.snapshot()
	if current.RefreshToken != "" && current.ValidFor(m.now(), RefreshMargin) {
		log.Info().Msg("current token still valid, refreshing instead of logging in")
		return m.RefreshAccessToken(ctx)
	}

	return m.login(ctx)
}

// login performs the two-step credential exchange: an init request that
// yields a short-lived temporary token, then the credential post bearer-
// authorized with it.
func (m *Manager) login(ctx context.Context) bool {
	if m.cfg.Username == "" || m.cfg.Password == "" {
		log.Error().Msg("username or password not configured")
		metrics.AuthFailures.WithLabelValues("login").Inc()
		return false
	}

	deviceID := m.snapshot().DeviceID

	var initResp tokenResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"dsid":           deviceID,
			"deviceName":     m.cfg.DeviceName,
			"deviceType":     m.cfg.DeviceType,
			"osVersion":      "0.0.0",
			"appVersion":     m.cfg.AppVersion,
			"language":       strings.ToUpper(m.cfg.Language),
			"devicePlatform": "GO",
		}).
		SetResult(&initResp).
		Post("/v2/auth/init")
	if err != nil || resp.IsError() {
		logUpstreamFailure("auth init", resp, err)
		metrics.AuthFailures.WithLabelValues("login").Inc()
		return false
	}
	if !initResp.Success {
		log.Error().Str("error", initResp.ErrorMessage).Msg("auth init rejected")
		metrics.AuthFailures.WithLabelValues("login").Inc()
		return false
	}

	var loginResp tokenResponse
	resp, err = m.http.R().
		SetContext(ctx).
		SetAuthToken(initResp.Token.AccessToken).
		SetBody(map[string]string{
			"loginOrNickname": m.cfg.Username,
			"password":        m.cfg.Password,
		}).
		SetResult(&loginResp).
		Post("/v2/auth/login")
	if err != nil || resp.IsError() {
		logUpstreamFailure("login", resp, err)
		metrics.AuthFailures.WithLabelValues("login").Inc()
		return false
	}
	if !loginResp.Success {
		log.Error().Str("error", loginResp.ErrorMessage).Msg("login rejected")
		metrics.AuthFailures.WithLabelValues("login").Inc()
		return false
	}

	m.adoptResponse(loginResp, deviceID)
	metrics.AuthLogins.Inc()
	log.Info().Str("username", m.cfg.Username).Msg("login successful")
	return true
}

// adoptResponse replaces the in-memory TokenSet from an upstream token reply
// and mirrors it to the store and cache.
func (m *Manager) adoptResponse(r tokenResponse, deviceID string) {
	tokens := TokenSet{
		AccessToken:  r.Token.AccessToken,
		RefreshToken: r.Token.RefreshToken,
		Expires:      float64(m.now().UnixMilli()+r.Token.ExpiresIn) / 1000,
		DeviceID:     deviceID,
	}
	m.adopt(tokens)
	m.persist(tokens)
}

// RefreshAccessToken makes sure the access token is valid for at least
// RefreshMargin. Resolution order: no-op while still valid, adopt a fresher
// cached TokenSet, network refresh, credential login as the final fallback.
// Concurrent callers share one network refresh via singleflight.
func (m *Manager) RefreshAccessToken(ctx context.Context) bool {
	current := m.snapshot()

	if current.RefreshToken == "" {
		log.Warn().Msg("no refresh token available, full login required")
		return m.login(ctx)
	}

	if current.ValidFor(m.now(), RefreshMargin) {
		return true
	}

	// another collaborator may have refreshed already
	if m.cache != nil {
		if v, ok := m.cache.Get(m.cacheKey()); ok {
			if cached, ok := v.(TokenSet); ok && cached.ValidFor(m.now(), RefreshMargin) {
				m.adopt(cached)
				log.Info().Msg("adopted refreshed tokens from cache")
				return true
			}
		}
	}

	ok, _, _ := m.refreshGroup.Do(m.cacheKey(), func() (any, error) {
		return m.refresh(ctx, current.RefreshToken, current.DeviceID), nil
	})
	return ok.(bool)
}

// refresh performs the network token exchange. A rejected or failed exchange
// invalidates the cached entry and falls back to a credential login exactly
// once.
func (m *Manager) refresh(ctx context.Context, refreshToken, deviceID string) bool {
	var refreshResp tokenResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		SetResult(&refreshResp).
		Post("/v2/auth/tokens")
	if err != nil || resp.IsError() {
		logUpstreamFailure("token refresh", resp, err)
		metrics.AuthFailures.WithLabelValues("refresh").Inc()
		return m.login(ctx)
	}
	if !refreshResp.Success {
		log.Error().Str("error", refreshResp.ErrorMessage).Msg("token refresh rejected")
		metrics.AuthFailures.WithLabelValues("refresh").Inc()
		if m.cache != nil {
			m.cache.Clear(m.cacheKey())
		}
		return m.login(ctx)
	}

	m.adoptResponse(refreshResp, deviceID)
	metrics.AuthRefreshes.Inc()
	log.Info().Msg("token refreshed")
	return true
}

// AuthHeaders returns ready-to-use authorization headers, refreshing or
// logging in as needed. The second result is false when no valid token could
// be obtained; stale headers are never returned.
func (m *Manager) AuthHeaders(ctx context.Context) (map[string]string, bool) {
	if !m.RefreshAccessToken(ctx) {
		return nil, false
	}

	return map[string]string{
		"Authorization": "Bearer " + m.snapshot().AccessToken,
		"Host":          m.Host(),
		"User-Agent":    m.cfg.UserAgent,
	}, true
}

// Logout clears the in-memory TokenSet and both mirrors. Calling it while
// already logged out succeeds.
func (m *Manager) Logout() bool {
	deviceID := m.snapshot().DeviceID
	m.adopt(TokenSet{DeviceID: deviceID})

	if m.cache != nil {
		m.cache.Clear(m.cacheKey())
	}

	if err := m.store.Delete(m.cfg.Language); err != nil {
		log.Error().Err(err).Msg("could not delete persisted tokens")
		return false
	}

	log.Info().Msg("logged out")
	return true
}

// Status reports the current authentication state without touching the
// network.
func (m *Manager) Status() Status {
	tokens := m.snapshot()
	now := m.now()

	tokenValid := tokens.AccessToken != "" && tokens.ExpiresAt().After(now)
	remaining := 0
	if tokenValid {
		remaining = int(tokens.ExpiresAt().Sub(now).Seconds())
	}

	status := Status{
		Authenticated:         tokenValid,
		Language:              m.cfg.Language,
		DeviceID:              tokens.DeviceID,
		TokenValid:            tokenValid,
		RefreshValid:          tokens.RefreshToken != "",
		TokenExpiresIn:        remaining,
		TokenExpiresFormatted: FormatRemaining(time.Duration(remaining) * time.Second),
	}
	if tokenValid {
		status.Username = m.cfg.Username
	}
	return status
}

// BaseURL returns the upstream API base URL the manager talks to.
func (m *Manager) BaseURL() string {
	return m.cfg.BaseURL
}

// Language returns the configured language code.
func (m *Manager) Language() string {
	return m.cfg.Language
}

// UserAgent returns the User-Agent presented upstream.
func (m *Manager) UserAgent() string {
	return m.cfg.UserAgent
}

// AccessToken returns the current raw access token, empty when logged out.
// Stream redirect resolution needs the bare token for the hop request.
func (m *Manager) AccessToken() string {
	return m.snapshot().AccessToken
}

// DeviceID returns the stable installation identifier.
func (m *Manager) DeviceID() string {
	return m.snapshot().DeviceID
}

// Host returns the host part of the upstream base URL, used for the Host
// header upstream expects.
func (m *Manager) Host() string {
	u, err := url.Parse(m.cfg.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func logUpstreamFailure(op string, resp *resty.Response, err error) {
	ev := log.Error()
	if err != nil {
		ev = ev.Err(err)
	} else if resp != nil {
		ev = ev.Int("status", resp.StatusCode())
	}
	ev.Msg(op + " request failed")
}
