package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lanshare/logging"
	"lanshare/storage"
)

type failingKV struct {
	getErr error
	setErr error
}

func (f failingKV) Get(string) (string, bool, error) { return "", false, f.getErr }
func (f failingKV) Set(string, string) error         { return f.setErr }

func TestLoadGeneratesAndPersists(t *testing.T) {
	kv := NewMemoryStore()
	store := NewStore(kv, Options{Logger: logging.Discard()})

	first := store.Load()
	require.True(t, strings.HasPrefix(first.ID, ClientIDPrefix))
	require.Len(t, first.ID, len(ClientIDPrefix)+clientIDSuffixLen)
	require.Len(t, strings.Split(first.DisplayName, " "), 2)
	require.False(t, store.Ephemeral())

	require.Equal(t, first, store.Load())

	persistedID, ok, err := kv.Get(KeyClientID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.ID, persistedID)

	// a fresh store over the same storage sees the same identity
	again := NewStore(kv, Options{Logger: logging.Discard()}).Load()
	require.Equal(t, first, again)
}

func TestLoadKeepsExistingValues(t *testing.T) {
	kv := NewMemoryStore()
	require.NoError(t, kv.Set(KeyClientID, "client_fixed"))
	require.NoError(t, kv.Set(KeyDisplayName, "Teal Otter"))

	got := NewStore(kv, Options{Logger: logging.Discard()}).Load()
	require.Equal(t, "client_fixed", got.ID)
	require.Equal(t, "Teal Otter", got.DisplayName)
}

func TestLoadFallsBackWhenStorageFails(t *testing.T) {
	store := NewStore(failingKV{getErr: errors.New("disk gone")}, Options{Logger: logging.Discard()})

	got := store.Load()
	require.True(t, strings.HasPrefix(got.ID, ClientIDPrefix))
	require.NotEmpty(t, got.DisplayName)
	require.True(t, store.Ephemeral())
	require.Equal(t, got, store.Load())
}

func TestLoadFallsBackWhenWriteFails(t *testing.T) {
	store := NewStore(failingKV{setErr: errors.New("read-only")}, Options{Logger: logging.Discard()})

	got := store.Load()
	require.NotEmpty(t, got.ID)
	require.True(t, store.Ephemeral())
}

func TestLoadWithoutStorage(t *testing.T) {
	store := NewStore(nil, Options{Logger: logging.Discard()})
	require.NotEmpty(t, store.Load().ID)
	require.True(t, store.Ephemeral())
}

func TestLoadFromSQLiteSettings(t *testing.T) {
	db, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first := NewStore(db, Options{Logger: logging.Discard()}).Load()
	second := NewStore(db, Options{Logger: logging.Discard()}).Load()
	require.Equal(t, first, second)
}

func TestGenerateDisplayNameDeterministicPicker(t *testing.T) {
	name := GenerateDisplayName(func(int) int { return 0 })
	require.Equal(t, "Amber Albatross", name)

	id := GenerateClientID(func(int) int { return 10 })
	require.Equal(t, "client_aaaaaaaaa", id)
}
