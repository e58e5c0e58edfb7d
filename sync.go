package copydeck

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-kit/log/level"
)

// ============================================================================
// Sync engine
// ============================================================================

// Sync re-fetches one namespace and replaces its cached content wholesale.
// The fetch strategy follows the namespace identity: the reserved image
// namespace and data stores (per the known-namespace set) have their own
// endpoints; everything else, ordinary tabs and the reserved color
// namespace alike, goes through the translations endpoint.
//
// On any failure the cached content is left untouched (stale beats empty)
// and Sync returns false. A successful replace persists the cache and
// publishes a change notification for the namespace.
func (s *SDK) Sync(ctx context.Context, namespace string) bool {
	if namespace == "" {
		return false
	}
	if !s.ensureAuthenticated(ctx) {
		return false
	}

	switch {
	case namespace == NamespaceImages:
		return s.syncImages(ctx)
	case s.cache.isStore(namespace):
		return s.syncStore(ctx, namespace)
	default:
		return s.syncTranslations(ctx, namespace)
	}
}

// SyncStore re-fetches one data-store namespace by its API identifier.
func (s *SDK) SyncStore(ctx context.Context, identifier string) bool {
	if identifier == "" {
		return false
	}
	if !s.ensureAuthenticated(ctx) {
		return false
	}
	return s.syncStore(ctx, identifier)
}

// SyncAll re-fetches every known namespace: all known tabs, the reserved
// color and image namespaces, and all known data stores. Namespaces are
// synced concurrently and failures are isolated: one failing tab never
// blocks the others. A notification for all namespaces is published at the
// end regardless of individual outcomes.
func (s *SDK) SyncAll(ctx context.Context) {
	if !s.ensureAuthenticated(ctx) {
		return
	}

	var wg sync.WaitGroup
	for _, tab := range append(s.cache.knownTabs(), NamespaceColors) {
		tab := tab
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.syncTranslations(ctx, tab)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.syncImages(ctx)
	}()
	for _, store := range s.cache.knownStores() {
		store := store
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.syncStore(ctx, store)
		}()
	}
	wg.Wait()

	s.bus.publish(NamespaceAll)
}

// ── Fetch strategies ─────────────────────────────────────

// syncTranslations fetches one tab (or the color namespace). The request
// body identifies the screen; when the symmetric key is available it is sent
// as an encrypted envelope, otherwise as plain JSON. A 404 means the tab
// legitimately has no content yet and counts as a successful empty sync.
func (s *SDK) syncTranslations(ctx context.Context, tab string) bool {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()

	body, err := s.translationsBody(tab)
	if err != nil {
		level.Warn(s.logger).Log("op", "sync", "namespace", tab, "err", err)
		return false
	}

	data, status, err := s.doRequest(ctx, http.MethodPost, "/api/sdk/translations/"+projectID+"/"+tab, body)
	if err != nil {
		level.Warn(s.logger).Log("op", "sync", "namespace", tab, "err", err)
		return false
	}

	content := make(map[string]map[string]string)
	switch status {
	case http.StatusOK:
		var resp translationsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			level.Warn(s.logger).Log("op", "sync", "namespace", tab, "err", err)
			return false
		}
		for _, k := range resp.Keys {
			content[k.Key] = k.Values
		}
	case http.StatusNotFound:
		// Empty tab, not a failure.
	default:
		level.Warn(s.logger).Log("op", "sync", "namespace", tab, "status", status)
		return false
	}

	s.cache.replaceNamespace(tab, content)
	s.cache.addTab(tab)
	s.bus.publish(tab)
	return true
}

// translationsBody builds the sync request body: an AES-GCM envelope of the
// screen identity when the key exists, the plain identity otherwise.
func (s *SDK) translationsBody(tab string) (any, error) {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()

	plain := translationsRequest{ProjectID: projectID, ScreenName: tab}
	key := s.symmetricKey()
	if key == nil {
		return plain, nil
	}
	payload, err := json.Marshal(plain)
	if err != nil {
		return nil, err
	}
	return encryptEnvelope(key, payload)
}

func (s *SDK) syncImages(ctx context.Context) bool {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()

	data, status, err := s.doRequest(ctx, http.MethodGet, "/api/sdk/images/"+projectID, nil)
	if err != nil || status != http.StatusOK {
		level.Warn(s.logger).Log("op", "sync", "namespace", NamespaceImages, "status", status, "err", err)
		return false
	}

	var entries []imageEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		level.Warn(s.logger).Log("op", "sync", "namespace", NamespaceImages, "err", err)
		return false
	}

	content := make(map[string]map[string]string, len(entries))
	for _, e := range entries {
		content[e.Key] = map[string]string{urlField: e.URL}
	}

	s.cache.replaceNamespace(NamespaceImages, content)
	s.bus.publish(NamespaceImages)
	return true
}

func (s *SDK) syncStore(ctx context.Context, identifier string) bool {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()

	data, status, err := s.doRequest(ctx, http.MethodGet, "/api/sdk/store/"+projectID+"/"+identifier, nil)
	if err != nil || status != http.StatusOK {
		level.Warn(s.logger).Log("op", "sync", "namespace", identifier, "status", status, "err", err)
		return false
	}

	var resp storeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		level.Warn(s.logger).Log("op", "sync", "namespace", identifier, "err", err)
		return false
	}

	s.cache.replaceStore(identifier, resp.Items)
	s.bus.publish(identifier)
	return true
}
