package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"lanshare/logging"
	"lanshare/models"
)

const (
	// KeyClientID is the persistence key for the client id.
	KeyClientID = "clientId"
	// KeyDisplayName is the persistence key for the display name.
	KeyDisplayName = "displayName"
	// ClientIDPrefix prefixes every generated client id.
	ClientIDPrefix = "client_"

	clientIDSuffixLen = 9
)

// ErrStorageUnavailable marks an identity that could not be read from or written to storage.
var ErrStorageUnavailable = errors.New("identity: storage unavailable")

// KeyValue is the persistence contract the store needs.
type KeyValue interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Options configures a Store.
type Options struct {
	Logger *logrus.Logger
	// Pick overrides the random source used for generated values.
	Pick Picker
}

// Store resolves the device identity once and caches it for the session.
type Store struct {
	kv     KeyValue
	logger *logrus.Logger
	pick   Picker

	mu        sync.Mutex
	loaded    *models.ClientIdentity
	ephemeral bool
}

// NewStore wraps kv. A nil kv behaves as unavailable storage.
func NewStore(kv KeyValue, opts Options) *Store {
	return &Store{
		kv:     kv,
		logger: logging.OrDefault(opts.Logger),
		pick:   opts.Pick,
	}
}

// Load returns the persisted identity, generating and saving it on first use.
//
// Storage failures never surface: the store falls back to an in-memory identity
// that lives until the process exits.
func (s *Store) Load() models.ClientIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded != nil {
		return *s.loaded
	}

	identity, err := s.resolve()
	if err != nil {
		s.logger.WithError(err).Warn("identity storage unavailable, using ephemeral identity")
		s.ephemeral = true
	}
	s.loaded = &identity
	return identity
}

// Ephemeral reports whether the loaded identity failed to persist.
func (s *Store) Ephemeral() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ephemeral
}

func (s *Store) resolve() (models.ClientIdentity, error) {
	identity := models.ClientIdentity{}
	if s.kv == nil {
		identity.ID = GenerateClientID(s.pick)
		identity.DisplayName = GenerateDisplayName(s.pick)
		return identity, ErrStorageUnavailable
	}

	var errs []error
	identity.ID, errs = s.resolveKey(KeyClientID, func() string { return GenerateClientID(s.pick) }, errs)
	identity.DisplayName, errs = s.resolveKey(KeyDisplayName, func() string { return GenerateDisplayName(s.pick) }, errs)
	return identity, errors.Join(errs...)
}

func (s *Store) resolveKey(key string, generate func() string, errs []error) (string, []error) {
	value, ok, err := s.kv.Get(key)
	if err != nil {
		return generate(), append(errs, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, key, err))
	}
	if ok && strings.TrimSpace(value) != "" {
		return value, errs
	}

	value = generate()
	if err := s.kv.Set(key, value); err != nil {
		errs = append(errs, fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, key, err))
	}
	return value, errs
}

// MemoryStore is an in-process KeyValue.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value for key.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set stores value under key.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
