// Package copydeck provides the official Go SDK for the CopyDeck CMS.
//
// The SDK keeps a local, versioned mirror of a project's content
// (translated strings, theme colors, image URLs, and structured data-store
// records) and serves every read synchronously from that mirror. The mirror
// is refreshed by on-demand HTTP syncs and by a persistent real-time channel
// that tells the SDK which namespace changed.
//
// Example:
//
//	sdk := copydeck.New(copydeck.WithStorageDir(dir))
//	sdk.Configure("p1", "ck-live-...", "secret")
//	sdk.StartListening(ctx)
//
//	title := sdk.Translation("title", "home")
//	accent := sdk.ColorValue("accent")
//
// Reads never block on the network and never fail: content that has not been
// fetched yet reads as empty. Expected failures (network, parse, disk) are
// logged and reported through boolean results, not errors.
package copydeck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.copydeck.io"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// SDK
// ============================================================================

// SDK is one project's client instance. Construct it with New, configure it
// once with Configure, and share it by reference; all methods are safe for
// concurrent use. Multiple independent instances may coexist (tests do this).
type SDK struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
	storageDir string

	cache   *contentCache
	bus     *changeBus
	channel *realtimeChannel

	bg       context.Context
	bgCancel context.CancelFunc

	mu         sync.Mutex
	configured bool
	projectID  string
	apiKey     string
	secret     string
	token      string
	key        []byte
	clientID   string
	locale     string
	languages  []string
}

// configSnapshot is the small persisted config record: enough to come back
// after a restart without re-running Configure's key exchange from scratch.
type configSnapshot struct {
	Token         string `json:"token"`
	ProjectSecret string `json:"projectSecret"`
	Locale        string `json:"locale"`
	ClientID      string `json:"clientId"`
}

type Option func(*SDK)

func WithBaseURL(url string) Option {
	return func(s *SDK) { s.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *SDK) { s.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *SDK) { s.httpClient = client }
}

// WithLogger sets the structured logger used for all swallowed failures.
// The default logger discards everything.
func WithLogger(logger log.Logger) Option {
	return func(s *SDK) { s.logger = logger }
}

// WithStorageDir sets the directory for the cache and config snapshots.
// An empty string disables persistence. The default is a "copydeck"
// directory under the user config dir.
func WithStorageDir(dir string) Option {
	return func(s *SDK) { s.storageDir = dir }
}

// New creates an SDK instance and loads any persisted snapshots. No network
// traffic happens until Configure or a sync.
func New(opts ...Option) *SDK {
	s := &SDK{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:     log.NewNopLogger(),
		storageDir: defaultStorageDir(),
		locale:     DefaultLocale,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.bg, s.bgCancel = context.WithCancel(context.Background())
	s.cache = newContentCache(s.storageDir, s.logger)
	s.bus = newChangeBus()
	s.channel = newRealtimeChannel(s)

	s.restoreConfig()
	return s
}

func defaultStorageDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "copydeck")
}

// restoreConfig reloads the persisted config record, if any.
func (s *SDK) restoreConfig() {
	var cfg configSnapshot
	if !s.cache.loadSnapshot(configFile, &cfg) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = cfg.Token
	s.clientID = cfg.ClientID
	if cfg.Locale != "" {
		s.locale = cfg.Locale
	}
	if cfg.ProjectSecret != "" {
		s.secret = cfg.ProjectSecret
		s.key = deriveKey(cfg.ProjectSecret)
	}
}

func (s *SDK) persistConfig() {
	s.cache.persist(configFile, func() []byte {
		s.mu.Lock()
		defer s.mu.Unlock()
		data, err := json.Marshal(configSnapshot{
			Token:         s.token,
			ProjectSecret: s.secret,
			Locale:        s.locale,
			ClientID:      s.clientID,
		})
		if err != nil {
			level.Error(s.logger).Log("op", "persistConfig", "err", err)
			return nil
		}
		return data
	})
}

// Close stops the real-time channel, closes all subscriber channels, and
// cancels background work. The SDK must not be used afterwards.
func (s *SDK) Close() {
	s.StopListening()
	s.bus.close()
	s.bgCancel()
}

// ============================================================================
// Credential & key manager
// ============================================================================

var errAlreadyConfigured = errors.New("copydeck: already configured")

// Configure supplies the project credentials. It is accepted exactly once;
// a second call is a no-op returning an error. On success it derives the
// symmetric handshake key from the secret and starts authentication in the
// background; the caller is never blocked on the network.
func (s *SDK) Configure(projectID, apiKey, projectSecret string) error {
	if projectID == "" || apiKey == "" || projectSecret == "" {
		return errors.New("copydeck: projectID, apiKey and projectSecret are all required")
	}

	s.mu.Lock()
	if s.configured {
		s.mu.Unlock()
		level.Warn(s.logger).Log("op", "configure", "msg", "ignoring repeated Configure call")
		return errAlreadyConfigured
	}
	s.configured = true
	s.projectID = projectID
	s.apiKey = apiKey
	s.secret = projectSecret
	s.key = deriveKey(projectSecret)
	if s.clientID == "" {
		s.clientID = uuid.NewString()
	}
	s.mu.Unlock()

	s.persistConfig()

	go func() {
		ctx, cancel := context.WithTimeout(s.bg, DefaultTimeout)
		defer cancel()
		if err := s.Authenticate(ctx); err != nil {
			level.Warn(s.logger).Log("op", "authenticate", "err", err)
		}
	}()
	return nil
}

// Authenticate exchanges the credentials for a session token and the
// server-confirmed project secret. The confirmed secret, which may differ
// from the one passed to Configure, is what the handshake key is derived
// from afterwards. The known-namespace set is replaced from the response.
//
// Configure triggers this automatically; it is exported so that an explicit
// sync path (or a CLI) can retry after an earlier failure.
func (s *SDK) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return errors.New("copydeck: not configured")
	}
	req := authRequest{APIKey: s.apiKey, ProjectID: s.projectID, ClientID: s.clientID}
	s.mu.Unlock()

	data, status, err := s.doRequest(ctx, http.MethodPost, "/api/sdk/auth", req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("auth request: HTTP %d", status)
	}

	var resp authResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("auth response: %w", err)
	}
	if resp.Token == "" || resp.ProjectSecret == "" {
		return errors.New("auth response: missing token or projectSecret")
	}

	s.mu.Lock()
	s.token = resp.Token
	s.secret = resp.ProjectSecret
	s.key = deriveKey(resp.ProjectSecret)
	s.mu.Unlock()

	s.cache.setKnown(resp.Tabs, resp.Stores)
	s.persistConfig()

	level.Info(s.logger).Log("op", "authenticate", "tabs", len(resp.Tabs), "stores", len(resp.Stores))

	// A channel that connected before the key existed is sitting inert with
	// an unsent handshake; wake it up.
	s.channel.authRefreshed()
	return nil
}

// IsAuthenticated reports whether an auth exchange has completed.
func (s *SDK) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// ensureAuthenticated gates the sync paths. It requires a configured
// instance: a restored session token alone is not enough, because without
// Configure there is no project id to build request paths from. With
// credentials present it lazily retries authentication, so an auth failure
// at startup heals on the next externally-triggered sync.
func (s *SDK) ensureAuthenticated(ctx context.Context) bool {
	s.mu.Lock()
	configured := s.configured
	authed := s.token != ""
	s.mu.Unlock()

	if !configured {
		level.Warn(s.logger).Log("op", "ensureAuthenticated", "msg", "not configured")
		return false
	}
	if authed {
		return true
	}
	if err := s.Authenticate(ctx); err != nil {
		level.Warn(s.logger).Log("op", "ensureAuthenticated", "err", err)
		return false
	}
	return true
}

// symmetricKey returns the current handshake key, or nil before Configure.
func (s *SDK) symmetricKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil
	}
	return append([]byte(nil), s.key...)
}

// ============================================================================
// HTTP layer
// ============================================================================

func (s *SDK) doRequest(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.mu.Lock()
	apiKey, token := s.apiKey, s.token
	s.mu.Unlock()
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// ============================================================================
// Reads: always synchronous against the local mirror
// ============================================================================

// Translation returns the string for key in the given tab, surfaced through
// the active locale. Untranslated or unfetched content reads as "".
func (s *SDK) Translation(key, tab string) string {
	return s.cache.translation(tab, key, s.Language())
}

// ColorValue returns the hex string for a theme color, or "" if unknown.
func (s *SDK) ColorValue(key string) string {
	v, _ := s.cache.color(key)
	return v
}

// ImageURL returns the URL of a project-global image, or "" if unknown.
func (s *SDK) ImageURL(key string) string {
	v, _ := s.cache.image(key)
	return v
}

// TabImageURL returns the URL of a screen-scoped image. These travel on the
// translation path, so the URL lives in the tab's locale-keyed map.
func (s *SDK) TabImageURL(key, tab string) string {
	return s.Translation(key, tab)
}

// StoreItems returns the records of a data-store namespace; the empty slice
// if the store is unknown or not yet fetched.
func (s *SDK) StoreItems(identifier string) []StoreItem {
	return s.cache.storeItems(identifier)
}

// KnownTabs returns the tabs the server has declared for this project.
func (s *SDK) KnownTabs() []string {
	return s.cache.knownTabs()
}

// KnownStores returns the data-store identifiers declared for this project.
func (s *SDK) KnownStores() []string {
	return s.cache.knownStores()
}

// Subscribe returns a stream of namespace identifiers, one per completed
// namespace replace, plus a cancel function. See changeBus for delivery
// semantics.
func (s *SDK) Subscribe() (<-chan string, func()) {
	return s.bus.subscribe()
}

// ============================================================================
// Locale
// ============================================================================

// Language returns the active locale code.
func (s *SDK) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locale
}

// SetLanguage switches the active locale. Cached data is untouched; only
// which field of each translation entry is surfaced changes. With force set,
// every known namespace is re-synced as well. A change notification for all
// namespaces is published so consumers re-render.
func (s *SDK) SetLanguage(ctx context.Context, code string, force bool) bool {
	if code == "" {
		return false
	}

	s.mu.Lock()
	changed := s.locale != code
	s.locale = code
	s.mu.Unlock()

	if changed {
		s.persistConfig()
	}
	if force {
		s.SyncAll(ctx)
		return true
	}
	if changed {
		s.bus.publish(NamespaceAll)
	}
	return true
}

// AvailableLanguages fetches the locale codes the project is translated
// into. The result is cached in memory; on a network failure the cached
// result (possibly empty) is returned.
func (s *SDK) AvailableLanguages(ctx context.Context) []string {
	s.mu.Lock()
	cached := append([]string(nil), s.languages...)
	projectID := s.projectID
	s.mu.Unlock()
	if len(cached) > 0 {
		return cached
	}
	if projectID == "" {
		return nil
	}

	data, status, err := s.doRequest(ctx, http.MethodPost, "/api/sdk/languages/"+projectID, languagesRequest{ProjectID: projectID})
	if err != nil || status != http.StatusOK {
		level.Warn(s.logger).Log("op", "availableLanguages", "status", status, "err", err)
		return cached
	}
	var resp languagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		level.Warn(s.logger).Log("op", "availableLanguages", "err", err)
		return cached
	}

	s.mu.Lock()
	s.languages = append([]string(nil), resp.Languages...)
	s.mu.Unlock()
	return resp.Languages
}

// ============================================================================
// Cache lifecycle
// ============================================================================

// ClearCache wipes the in-memory mirror, deletes every snapshot file, and
// resets the credentials. The instance behaves as freshly constructed and
// Configure may be called again.
func (s *SDK) ClearCache() {
	s.cache.clear()
	s.cache.removeSnapshot(configFile)

	s.mu.Lock()
	s.configured = false
	s.projectID = ""
	s.apiKey = ""
	s.secret = ""
	s.token = ""
	s.key = nil
	s.languages = nil
	s.locale = DefaultLocale
	s.mu.Unlock()

	s.bus.publish(NamespaceAll)
}
