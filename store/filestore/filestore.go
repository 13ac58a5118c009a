// Package filestore persists the session entry group to a single encrypted
// file, giving separate processes on one machine the same shared-origin
// semantics browser tabs get from web storage. External writes are picked
// up by polling the file and diffed into per-key change events.
//
// Entries are sealed with XChaCha20-Poly1305 so access and refresh tokens
// never touch disk in plaintext.
package filestore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jrsteele09/go-auth-client/store"
)

const defaultPollInterval = 500 * time.Millisecond

var _ store.Store = (*Store)(nil)

// envelope is the decrypted file layout. Version and Writer let a polling
// handle distinguish foreign writes from its own.
type envelope struct {
	Version uint64            `json:"version"`
	Writer  string            `json:"writer"`
	Entries map[string]string `json:"entries"`
}

// Store is one handle onto the encrypted session file. Every process (or
// component) opens its own handle; handles sharing a path observe each
// other's writes through the poller.
type Store struct {
	path     string
	writerID string
	aead     cipher.AEAD

	mu       sync.Mutex
	lastSeen envelope
	subs     map[int]func(store.Event)
	nextSub  int

	done chan struct{}
	once sync.Once
}

// Option configures a Store.
type Option func(*options)

type options struct {
	pollInterval time.Duration
}

// WithPollInterval overrides how often the file is checked for foreign
// writes.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// New opens (or lazily creates) the encrypted session file at path. The
// key must be chacha20poly1305.KeySize (32) bytes.
func New(path string, key []byte, opts ...Option) (*Store, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "[filestore.New] invalid key")
	}

	o := options{pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		path:     path,
		writerID: uuid.New().String(),
		aead:     aead,
		subs:     make(map[int]func(store.Event)),
		done:     make(chan struct{}),
	}
	// An unreadable or undecryptable file is treated as empty rather than
	// fatal, the same way a browser treats cleared storage.
	if env, err := s.load(); err == nil {
		s.lastSeen = env
	} else if !os.IsNotExist(errors.Cause(err)) {
		log.Warn().Err(err).Str("path", path).Msg("session file unreadable, starting empty")
	}

	go s.poll(o.pollInterval)
	return s, nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.load()
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			log.Err(err).Str("key", key).Msg("filestore read failed")
		}
		return "", false
	}
	v, ok := env.Entries[key]
	return v, ok
}

func (s *Store) Set(key, value string) {
	s.mutate(func(entries map[string]string) {
		entries[key] = value
	})
}

func (s *Store) Remove(key string) {
	s.mutate(func(entries map[string]string) {
		delete(entries, key)
	})
}

func (s *Store) RemoveGroup(keys ...string) {
	s.mutate(func(entries map[string]string) {
		for _, key := range keys {
			delete(entries, key)
		}
	})
}

func (s *Store) Subscribe(fn func(store.Event)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close stops the poller. The file itself is left in place for the next
// handle.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *Store) mutate(apply func(entries map[string]string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.load()
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		log.Err(err).Msg("filestore read failed, rebuilding session file")
	}
	if env.Entries == nil {
		env.Entries = make(map[string]string)
	}

	apply(env.Entries)
	env.Version++
	env.Writer = s.writerID

	if err := s.save(env); err != nil {
		log.Err(err).Msg("filestore write failed")
		return
	}
	s.lastSeen = env
}

func (s *Store) load() (envelope, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return envelope{}, errors.Wrap(err, "[filestore.load] read")
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return envelope{}, errors.New("[filestore.load] session file truncated")
	}

	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return envelope{}, errors.Wrap(err, "[filestore.load] decrypt")
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return envelope{}, errors.Wrap(err, "[filestore.load] unmarshal")
	}
	return env, nil
}

func (s *Store) save(env envelope) error {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "[filestore.save] marshal")
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "[filestore.save] nonce")
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	// Atomic replace so a concurrent reader never sees a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return errors.Wrap(err, "[filestore.save] temp file")
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "[filestore.save] write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "[filestore.save] close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "[filestore.save] rename")
}

// poll watches the file for versions written by other handles and turns
// the difference into change events.
func (s *Store) poll(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkForeignWrites()
		}
	}
}

func (s *Store) checkForeignWrites() {
	s.mu.Lock()

	env, err := s.load()
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			env = envelope{} // file removed externally: everything is gone
		} else {
			s.mu.Unlock()
			return
		}
	}
	if env.Version == s.lastSeen.Version || env.Writer == s.writerID {
		s.lastSeen = env
		s.mu.Unlock()
		return
	}

	events := diff(s.lastSeen.Entries, env.Entries)
	s.lastSeen = env
	fns := make([]func(store.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func diff(before, after map[string]string) []store.Event {
	var events []store.Event
	for key := range before {
		if _, ok := after[key]; !ok {
			events = append(events, store.Event{Key: key})
		}
	}
	for key, value := range after {
		if old, ok := before[key]; !ok || old != value {
			events = append(events, store.Event{Key: key, Value: value, Present: true})
		}
	}
	return events
}
