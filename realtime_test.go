package copydeck

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSocketHarness(m *mockCMS) *socketHarness {
	sock := &socketHarness{
		autoAck:    true,
		handshakes: make(chan handshakeMessage, 4),
		send:       make(chan socketEnvelope),
	}
	m.mu.Lock()
	m.sock = sock
	m.mu.Unlock()
	return sock
}

func (h *socketHarness) push(t *testing.T, msg pushMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	select {
	case h.send <- socketEnvelope{Event: eventUpdated, Data: data}:
	case <-time.After(5 * time.Second):
		t.Fatal("no connected socket to push to")
	}
}

func waitConnected(t *testing.T, s *SDK) {
	t.Helper()
	require.Eventually(t, s.IsConnected, 5*time.Second, 10*time.Millisecond)
}

func TestRealtimeHandshakeTriggersFullSync(t *testing.T) {
	m := newMockCMS(t)
	sock := newSocketHarness(m)

	s := newTestSDK(t, m, "")
	configureAndAuth(t, s)

	require.NoError(t, s.StartListening(context.Background()))
	waitConnected(t, s)

	// The handshake proves key possession: it decrypts under the
	// server-confirmed secret and names the project.
	var hs handshakeMessage
	select {
	case hs = <-sock.handshakes:
	case <-time.After(5 * time.Second):
		t.Fatal("no handshake received")
	}
	assert.Equal(t, "p1", hs.ProjectID)

	plaintext, err := decryptEnvelope(deriveKey("s1-confirmed"), &cipherEnvelope{
		IV: hs.IV, Ciphertext: hs.Ciphertext, Tag: hs.Tag,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"projectId":"p1"}`, string(plaintext))

	// An acknowledged handshake means missed pushes are possible, so the
	// client refreshes everything.
	require.Eventually(t, func() bool {
		return m.tabCalls("home") >= 1 &&
			m.tabCalls(NamespaceColors) >= 1 &&
			m.imageCallCount() >= 1 &&
			m.storeCallCount("deals") >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRealtimePushRoutesByNamespace(t *testing.T) {
	m := newMockCMS(t)
	sock := newSocketHarness(m)

	s := newTestSDK(t, m, "")
	configureAndAuth(t, s)

	require.NoError(t, s.StartListening(context.Background()))
	waitConnected(t, s)
	<-sock.handshakes

	// Let the post-ack full sync settle before counting targeted fetches.
	require.Eventually(t, func() bool { return m.tabCalls("home") >= 1 }, 5*time.Second, 20*time.Millisecond)

	homeBefore := m.tabCalls("home")
	sock.push(t, pushMessage{ScreenName: "home"})
	require.Eventually(t, func() bool {
		return m.tabCalls("home") == homeBefore+1
	}, 5*time.Second, 20*time.Millisecond)

	storeBefore := m.storeCallCount("deals")
	sock.push(t, pushMessage{StoreAPIIdentifier: "deals"})
	require.Eventually(t, func() bool {
		return m.storeCallCount("deals") == storeBefore+1
	}, 5*time.Second, 20*time.Millisecond)

	// A push naming a known store in screenName still routes to the store.
	storeBefore = m.storeCallCount("deals")
	sock.push(t, pushMessage{ScreenName: "deals"})
	require.Eventually(t, func() bool {
		return m.storeCallCount("deals") == storeBefore+1
	}, 5*time.Second, 20*time.Millisecond)

	imagesBefore := m.imageCallCount()
	sock.push(t, pushMessage{ScreenName: NamespaceAll})
	require.Eventually(t, func() bool {
		return m.imageCallCount() >= imagesBefore+1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRealtimeHandshakeSkippedWithoutCredentials(t *testing.T) {
	m := newMockCMS(t)
	sock := newSocketHarness(m)

	s := newTestSDK(t, m, "")

	require.NoError(t, s.StartListening(context.Background()))
	waitConnected(t, s)

	select {
	case <-sock.handshakes:
		t.Fatal("handshake sent without a key")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRealtimeStopListening(t *testing.T) {
	m := newMockCMS(t)
	newSocketHarness(m)

	s := newTestSDK(t, m, "")
	configureAndAuth(t, s)

	require.NoError(t, s.StartListening(context.Background()))
	waitConnected(t, s)

	s.StopListening()
	assert.False(t, s.IsConnected())

	// No reconnect after an intentional stop.
	time.Sleep(200 * time.Millisecond)
	assert.False(t, s.IsConnected())
}

func TestRealtimeStartDuringReconnectBackoff(t *testing.T) {
	m := newMockCMS(t)
	sock := newSocketHarness(m)
	m.mu.Lock()
	sock.dropFirst = true
	m.mu.Unlock()

	s := newTestSDK(t, m, "")
	configureAndAuth(t, s)

	// The server cuts the first connection, leaving the backoff loop pending.
	_ = s.StartListening(context.Background())

	// A caller reconnecting by hand while the loop sleeps must win cleanly.
	require.NoError(t, s.StartListening(context.Background()))
	waitConnected(t, s)

	// Once the stale loop wakes it must bow out, not tear down or duplicate
	// the live connection. The first backoff delay is at most 1.5s.
	time.Sleep(1700 * time.Millisecond)
	assert.True(t, s.IsConnected())
	m.mu.Lock()
	accepted := sock.accepted
	m.mu.Unlock()
	assert.Equal(t, 2, accepted, "exactly the dropped connection plus the live one")
}

func TestRealtimeReconnectAfterDrop(t *testing.T) {
	m := newMockCMS(t)
	sock := newSocketHarness(m)
	m.mu.Lock()
	sock.dropFirst = true
	m.mu.Unlock()

	s := newTestSDK(t, m, "")
	configureAndAuth(t, s)

	// The first connection is cut by the server; the client backs off and
	// dials again on its own.
	_ = s.StartListening(context.Background())

	select {
	case hs := <-sock.handshakes:
		assert.Equal(t, "p1", hs.ProjectID)
	case <-time.After(15 * time.Second):
		t.Fatal("no handshake after reconnect")
	}
	require.Eventually(t, s.IsConnected, 15*time.Second, 20*time.Millisecond)

	m.mu.Lock()
	accepted := sock.accepted
	m.mu.Unlock()
	assert.GreaterOrEqual(t, accepted, 2)
}
