package copydeck

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*contentCache, string) {
	t.Helper()
	dir := t.TempDir()
	return newContentCache(dir, log.NewNopLogger()), dir
}

func TestCacheEmptyReads(t *testing.T) {
	c, _ := newTestCache(t)

	assert.Equal(t, "", c.translation("home", "title", "en"))

	_, ok := c.color("primary")
	assert.False(t, ok)

	_, ok = c.image("logo")
	assert.False(t, ok)

	assert.Empty(t, c.storeItems("deals"))
	assert.Empty(t, c.knownTabs())
	assert.False(t, c.isStore("deals"))
}

func TestCacheReplaceAndRead(t *testing.T) {
	c, _ := newTestCache(t)

	c.replaceNamespace("home", map[string]map[string]string{
		"title": {"en": "Welcome", "de": "Willkommen"},
	})
	c.replaceNamespace(NamespaceColors, map[string]map[string]string{
		"primary": {colorField: "#112233"},
	})
	c.replaceNamespace(NamespaceImages, map[string]map[string]string{
		"logo": {urlField: "https://cdn.example.com/logo.png"},
	})

	assert.Equal(t, "Welcome", c.translation("home", "title", "en"))
	assert.Equal(t, "Willkommen", c.translation("home", "title", "de"))
	assert.Equal(t, "", c.translation("home", "title", "fr"), "missing locale reads empty")

	v, ok := c.color("primary")
	require.True(t, ok)
	assert.Equal(t, "#112233", v)

	u, ok := c.image("logo")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/logo.png", u)
}

func TestCacheReplaceIsWholesale(t *testing.T) {
	c, _ := newTestCache(t)

	c.replaceNamespace("home", map[string]map[string]string{
		"title": {"en": "Welcome"},
		"cta":   {"en": "Buy now"},
	})
	c.replaceNamespace("home", map[string]map[string]string{
		"title": {"en": "Hello"},
	})

	assert.Equal(t, "Hello", c.translation("home", "title", "en"))
	assert.Equal(t, "", c.translation("home", "cta", "en"), "keys absent from the new content are gone")
}

func TestCachePersistRoundTrip(t *testing.T) {
	c, dir := newTestCache(t)

	c.replaceNamespace("home", map[string]map[string]string{
		"title": {"en": "Welcome"},
	})
	c.replaceStore("deals", []StoreItem{{
		ID:        "d1",
		Fields:    map[string]Value{"discount": {Kind: ValueInt, Int: 20}},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}})
	c.setKnown([]string{"home"}, []string{"deals"})

	// Simulated restart.
	reloaded := newContentCache(dir, log.NewNopLogger())

	assert.Equal(t, "Welcome", reloaded.translation("home", "title", "en"))
	items := reloaded.storeItems("deals")
	require.Len(t, items, 1)
	assert.Equal(t, "d1", items[0].ID)
	assert.Equal(t, int64(20), items[0].Fields["discount"].Int)
	assert.Equal(t, []string{"home"}, reloaded.knownTabs())
	assert.True(t, reloaded.isStore("deals"))
}

func TestCacheCorruptedSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, contentFile), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, namespacesFile), []byte(`{"tabs":["home"],"stores":[]}`), 0o600))

	c := newContentCache(dir, log.NewNopLogger())

	assert.Equal(t, "", c.translation("home", "title", "en"), "corrupted content starts empty")
	assert.Equal(t, []string{"home"}, c.knownTabs(), "intact sibling file still loads")

	_, err := os.Stat(filepath.Join(dir, contentFile))
	assert.True(t, os.IsNotExist(err), "corrupted file is removed")
}

func TestCacheConcurrentReplaces(t *testing.T) {
	c, _ := newTestCache(t)
	const namespaces = 16

	var wg sync.WaitGroup
	for i := 0; i < namespaces; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ns := fmt.Sprintf("tab-%d", i)
			c.replaceNamespace(ns, map[string]map[string]string{
				"title": {"en": fmt.Sprintf("Title %d", i)},
			})
			c.addTab(ns)
		}()
	}
	wg.Wait()

	for i := 0; i < namespaces; i++ {
		ns := fmt.Sprintf("tab-%d", i)
		assert.Equal(t, fmt.Sprintf("Title %d", i), c.translation(ns, "title", "en"))
	}
	assert.Len(t, c.knownTabs(), namespaces)
}

func TestCacheConcurrentReplacesSurviveReload(t *testing.T) {
	c, dir := newTestCache(t)
	const namespaces = 16

	var wg sync.WaitGroup
	for i := 0; i < namespaces; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ns := fmt.Sprintf("tab-%d", i)
			c.replaceNamespace(ns, map[string]map[string]string{
				"title": {"en": fmt.Sprintf("Title %d", i)},
			})
			c.addTab(ns)
		}()
	}
	wg.Wait()

	// The last snapshot written to disk must carry every namespace: a slower
	// writer's older snapshot may never overwrite a newer one.
	reloaded := newContentCache(dir, log.NewNopLogger())
	for i := 0; i < namespaces; i++ {
		ns := fmt.Sprintf("tab-%d", i)
		assert.Equal(t, fmt.Sprintf("Title %d", i), reloaded.translation(ns, "title", "en"), "%s missing after reload", ns)
	}
	assert.Len(t, reloaded.knownTabs(), namespaces)
}

func TestCacheAddTab(t *testing.T) {
	c, _ := newTestCache(t)

	c.addTab("home")
	c.addTab("home")
	c.addTab(NamespaceColors)
	c.addTab(NamespaceImages)

	assert.Equal(t, []string{"home"}, c.knownTabs(), "duplicates and reserved names are not recorded")
}

func TestCacheClear(t *testing.T) {
	c, dir := newTestCache(t)

	c.replaceNamespace("home", map[string]map[string]string{"title": {"en": "Welcome"}})
	c.setKnown([]string{"home"}, []string{"deals"})
	c.clear()

	assert.Equal(t, "", c.translation("home", "title", "en"))
	assert.Empty(t, c.knownTabs())
	assert.Empty(t, c.knownStores())

	for _, name := range []string{contentFile, namespacesFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), "%s should be deleted", name)
	}
}

func TestCacheNoPersistenceDir(t *testing.T) {
	c := newContentCache("", log.NewNopLogger())
	c.replaceNamespace("home", map[string]map[string]string{"title": {"en": "Welcome"}})
	assert.Equal(t, "Welcome", c.translation("home", "title", "en"))
}
