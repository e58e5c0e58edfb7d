package copydeck

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Snapshot file names inside the storage directory.
const (
	contentFile    = "content.json"
	namespacesFile = "namespaces.json"
	configFile     = "config.json"
)

// ============================================================================
// Persistent cache store
// ============================================================================

// contentSnapshot is the on-disk form of the whole cache. Translation, color
// and image namespaces live in Entries; data-store namespaces in Items.
type contentSnapshot struct {
	Entries map[string]map[string]map[string]string `json:"entries"`
	Items   map[string][]StoreItem                  `json:"items"`
}

// namespaceSnapshot is the on-disk form of the known-namespace set.
type namespaceSnapshot struct {
	Tabs   []string `json:"tabs"`
	Stores []string `json:"stores"`
}

// contentCache is the sole source of truth for all synchronous reads: a
// nested namespace → key → locale/field → value map plus the data-store
// records, guarded by one coarse mutex. Every write replaces a namespace
// wholesale and then snapshots the entire cache to disk, so a reader never
// observes a partially-updated namespace and a restart never loads torn
// state. Snapshot writes go through persist, which serializes writers and
// re-captures the in-memory state inside the file lock.
// Disk failures are logged and swallowed; memory stays authoritative.
type contentCache struct {
	mu     sync.Mutex
	ioMu   sync.Mutex // serializes snapshot file writes and removals
	logger log.Logger
	dir    string // empty disables persistence

	entries map[string]map[string]map[string]string
	items   map[string][]StoreItem
	tabs    []string
	stores  []string
}

func newContentCache(dir string, logger log.Logger) *contentCache {
	c := &contentCache{
		logger:  logger,
		dir:     dir,
		entries: make(map[string]map[string]map[string]string),
		items:   make(map[string][]StoreItem),
	}
	c.load()
	return c
}

// load restores both snapshots. A corrupted file is deleted and its portion
// of the state starts empty; the other file is unaffected.
func (c *contentCache) load() {
	var content contentSnapshot
	if c.loadSnapshot(contentFile, &content) {
		if content.Entries != nil {
			c.entries = content.Entries
		}
		if content.Items != nil {
			c.items = content.Items
		}
	}

	var namespaces namespaceSnapshot
	if c.loadSnapshot(namespacesFile, &namespaces) {
		c.tabs = namespaces.Tabs
		c.stores = namespaces.Stores
	}
}

// ── Reads ────────────────────────────────────────────────

// translation returns the value for (namespace, key, locale), or "" when any
// level is absent.
func (c *contentCache) translation(namespace, key, locale string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[namespace][key][locale]
}

func (c *contentCache) color(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[NamespaceColors][key][colorField]
	return v, ok && v != ""
}

func (c *contentCache) image(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[NamespaceImages][key][urlField]
	return v, ok && v != ""
}

// storeItems returns a copy of the records for a data-store namespace; the
// empty slice when the store has not been fetched.
func (c *contentCache) storeItems(namespace string) []StoreItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StoreItem(nil), c.items[namespace]...)
}

// ── Writes ───────────────────────────────────────────────

// replaceNamespace swaps a content namespace wholesale and persists.
func (c *contentCache) replaceNamespace(namespace string, content map[string]map[string]string) {
	c.mu.Lock()
	if content == nil {
		content = make(map[string]map[string]string)
	}
	c.entries[namespace] = content
	c.mu.Unlock()

	c.persist(contentFile, c.snapshotContent)
}

// replaceStore swaps a data-store namespace wholesale and persists.
func (c *contentCache) replaceStore(namespace string, items []StoreItem) {
	c.mu.Lock()
	c.items[namespace] = items
	c.mu.Unlock()

	c.persist(contentFile, c.snapshotContent)
}

func (c *contentCache) snapshotContent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(contentSnapshot{Entries: c.entries, Items: c.items})
	if err != nil {
		level.Error(c.logger).Log("op", "snapshotContent", "err", err)
		return nil
	}
	return data
}

// ── Known-namespace set ──────────────────────────────────

func (c *contentCache) knownTabs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tabs...)
}

func (c *contentCache) knownStores() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stores...)
}

// isStore reports whether the identifier names a data store. The known set
// from the auth response is authoritative; nothing is inferred from the
// identifier's shape.
func (c *contentCache) isStore(identifier string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.stores {
		if s == identifier {
			return true
		}
	}
	return false
}

// setKnown replaces the whole known-namespace set and persists it.
func (c *contentCache) setKnown(tabs, stores []string) {
	c.mu.Lock()
	c.tabs = append([]string(nil), tabs...)
	c.stores = append([]string(nil), stores...)
	c.mu.Unlock()

	c.persist(namespacesFile, c.snapshotNamespaces)
}

// addTab records a tab first seen through an explicit sync. Reserved
// namespaces and already-known tabs are ignored.
func (c *contentCache) addTab(name string) {
	if name == NamespaceColors || name == NamespaceImages {
		return
	}
	c.mu.Lock()
	for _, t := range c.tabs {
		if t == name {
			c.mu.Unlock()
			return
		}
	}
	c.tabs = append(c.tabs, name)
	c.mu.Unlock()

	c.persist(namespacesFile, c.snapshotNamespaces)
}

func (c *contentCache) snapshotNamespaces() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(namespaceSnapshot{Tabs: c.tabs, Stores: c.stores})
	if err != nil {
		level.Error(c.logger).Log("op", "snapshotNamespaces", "err", err)
		return nil
	}
	return data
}

// ── Lifecycle ────────────────────────────────────────────

// clear empties the cache and removes both snapshot files.
func (c *contentCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]map[string]map[string]string)
	c.items = make(map[string][]StoreItem)
	c.tabs = nil
	c.stores = nil
	c.mu.Unlock()

	c.removeSnapshot(contentFile)
	c.removeSnapshot(namespacesFile)
}

// ── Disk I/O ─────────────────────────────────────────────

// loadSnapshot reads and parses one snapshot file. A missing file is normal.
// A file that fails to parse is deleted so the next start is clean.
func (c *contentCache) loadSnapshot(name string, v any) bool {
	if c.dir == "" {
		return false
	}
	path := filepath.Join(c.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			level.Warn(c.logger).Log("op", "loadSnapshot", "file", name, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		level.Warn(c.logger).Log("op", "loadSnapshot", "file", name, "err", err, "msg", "removing corrupted snapshot")
		if rmErr := os.Remove(path); rmErr != nil {
			level.Warn(c.logger).Log("op", "loadSnapshot", "file", name, "err", rmErr)
		}
		return false
	}
	return true
}

// persist overwrites one snapshot file. The marshal callback runs inside the
// file lock, so concurrent writers serialize and the write that lands last on
// disk always carries the newest in-memory state; an older snapshot can never
// overwrite a newer one.
func (c *contentCache) persist(name string, marshal func() []byte) {
	if c.dir == "" {
		return
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	c.writeFileLocked(name, marshal())
}

// writeFileLocked writes one snapshot file atomically: write to a temp file
// in the same directory, then rename over the target. Callers hold ioMu.
func (c *contentCache) writeFileLocked(name string, data []byte) {
	if data == nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		level.Warn(c.logger).Log("op", "persistSnapshot", "file", name, "err", err)
		return
	}
	path := filepath.Join(c.dir, name)
	tmp, err := os.CreateTemp(c.dir, name+".tmp-*")
	if err != nil {
		level.Warn(c.logger).Log("op", "persistSnapshot", "file", name, "err", err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		level.Warn(c.logger).Log("op", "persistSnapshot", "file", name, "err", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		level.Warn(c.logger).Log("op", "persistSnapshot", "file", name, "err", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		level.Warn(c.logger).Log("op", "persistSnapshot", "file", name, "err", err)
	}
}

func (c *contentCache) removeSnapshot(name string) {
	if c.dir == "" {
		return
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
		level.Warn(c.logger).Log("op", "removeSnapshot", "file", name, "err", err)
	}
}
