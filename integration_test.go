//go:build integration

package copydeck_test

import (
	"context"
	"os"
	"testing"
	"time"

	copydeck "github.com/copydeck/copydeck-go"
)

// Live tests against a real CopyDeck project. Run with:
//
//	COPYDECK_PROJECT_ID_TEST=... COPYDECK_API_KEY_TEST=... \
//	COPYDECK_PROJECT_SECRET_TEST=... go test -tags integration ./...

// helpers ---------------------------------------------------------------

func credentials(t *testing.T) (projectID, apiKey, secret string) {
	t.Helper()
	projectID = os.Getenv("COPYDECK_PROJECT_ID_TEST")
	apiKey = os.Getenv("COPYDECK_API_KEY_TEST")
	secret = os.Getenv("COPYDECK_PROJECT_SECRET_TEST")
	if projectID == "" || apiKey == "" || secret == "" {
		t.Fatal("COPYDECK_PROJECT_ID_TEST, COPYDECK_API_KEY_TEST and COPYDECK_PROJECT_SECRET_TEST environment variables are required")
	}
	return
}

func newLiveSDK(t *testing.T) *copydeck.SDK {
	t.Helper()
	opts := []copydeck.Option{copydeck.WithStorageDir(t.TempDir())}
	if base := os.Getenv("COPYDECK_BASE_URL_TEST"); base != "" {
		opts = append(opts, copydeck.WithBaseURL(base))
	}
	sdk := copydeck.New(opts...)
	t.Cleanup(sdk.Close)

	projectID, apiKey, secret := credentials(t)
	if err := sdk.Configure(projectID, apiKey, secret); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return sdk
}

// =======================================================================
// Live auth + sync
// =======================================================================

func TestLiveAuthAndFullSync(t *testing.T) {
	sdk := newLiveSDK(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := sdk.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	t.Logf("Authenticated — tabs=%v stores=%v", sdk.KnownTabs(), sdk.KnownStores())

	sdk.SyncAll(ctx)
	for _, tab := range sdk.KnownTabs() {
		t.Logf("Tab %s synced", tab)
	}

	langs := sdk.AvailableLanguages(ctx)
	t.Logf("Languages — %v", langs)
}

func TestLiveRealtimeConnect(t *testing.T) {
	sdk := newLiveSDK(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := sdk.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := sdk.StartListening(ctx); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer sdk.StopListening()

	deadline := time.Now().Add(10 * time.Second)
	for !sdk.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("channel did not connect")
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Log("Realtime channel connected")
}
