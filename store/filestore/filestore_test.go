package filestore_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jrsteele09/go-auth-client/store"
	"github.com/jrsteele09/go-auth-client/store/filestore"
)

const testPollInterval = 10 * time.Millisecond

func testKey() []byte {
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newStore(t *testing.T, path string) *filestore.Store {
	t.Helper()

	s, err := filestore.New(path, testKey(), filestore.WithPollInterval(testPollInterval))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	s := newStore(t, path)

	s.Set(store.KeyAccessToken, "token-1")
	s.Set(store.KeyUser, `{"id":1}`)

	value, ok := s.Get(store.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "token-1", value)

	s.Remove(store.KeyAccessToken)
	_, ok = s.Get(store.KeyAccessToken)
	require.False(t, ok)

	s.RemoveGroup(store.SessionKeys()...)
	_, ok = s.Get(store.KeyUser)
	require.False(t, ok)
}

func TestEntriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")

	first := newStore(t, path)
	first.Set(store.KeyAccessToken, "token-1")
	require.NoError(t, first.Close())

	second := newStore(t, path)
	value, ok := second.Get(store.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "token-1", value)
}

func TestTokensAreNotStoredInPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	s := newStore(t, path)

	s.Set(store.KeyAccessToken, "super-secret-access-token")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "super-secret-access-token")
	require.NotContains(t, string(raw), store.KeyAccessToken)
}

func TestWrongKeyReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	s := newStore(t, path)
	s.Set(store.KeyAccessToken, "token-1")
	require.NoError(t, s.Close())

	wrongKey := testKey()
	wrongKey[0] ^= 0xff
	other, err := filestore.New(path, wrongKey, filestore.WithPollInterval(testPollInterval))
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })

	_, ok := other.Get(store.KeyAccessToken)
	require.False(t, ok)
}

func TestInvalidKeyLengthRejected(t *testing.T) {
	_, err := filestore.New(filepath.Join(t.TempDir(), "session"), []byte("short"))
	require.Error(t, err)
}

func TestForeignWritesAreObserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	writer := newStore(t, path)
	watcher := newStore(t, path)

	var mu sync.Mutex
	var events []store.Event
	cancel := watcher.Subscribe(func(ev store.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer cancel()

	writer.Set(store.KeyAccessToken, "token-1")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, testPollInterval)

	mu.Lock()
	require.Equal(t, store.Event{Key: store.KeyAccessToken, Value: "token-1", Present: true}, events[0])
	mu.Unlock()

	value, ok := watcher.Get(store.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "token-1", value)
}

func TestForeignRemovalIsObserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	writer := newStore(t, path)
	writer.Set(store.KeyAccessToken, "token-1")

	watcher := newStore(t, path)

	var mu sync.Mutex
	var events []store.Event
	cancel := watcher.Subscribe(func(ev store.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer cancel()

	writer.Remove(store.KeyAccessToken)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1 && !events[0].Present
	}, 2*time.Second, testPollInterval)
}

func TestOwnWritesAreNotObserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	s := newStore(t, path)

	var mu sync.Mutex
	var events []store.Event
	cancel := s.Subscribe(func(ev store.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer cancel()

	s.Set(store.KeyAccessToken, "token-1")
	time.Sleep(5 * testPollInterval)

	mu.Lock()
	require.Empty(t, events)
	mu.Unlock()
}
