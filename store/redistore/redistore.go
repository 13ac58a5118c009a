// Package redistore backs the origin store with Redis, letting client
// handles on different machines share one session the way browser tabs
// share web storage. Entries live in a hash; change notifications travel
// over pub/sub and carry the writer's identity so a handle never hears its
// own writes.
package redistore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/store"
)

const opTimeout = 2 * time.Second

var _ store.Store = (*Store)(nil)

// notification is the pub/sub payload for one changed key.
type notification struct {
	Writer  string `json:"writer"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
}

// Store is one handle onto a Redis-backed origin. Handles created with the
// same namespace share entries and notify each other.
type Store struct {
	client   *redis.Client
	hashKey  string
	channel  string
	writerID string

	mu      sync.Mutex
	subs    map[int]func(store.Event)
	nextSub int

	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

// New connects a handle to the origin identified by namespace. The
// connection is verified with a ping before use.
func New(ctx context.Context, client *redis.Client, namespace string) (*Store, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "[redistore.New] ping")
	}

	s := &Store{
		client:   client,
		hashKey:  "authclient:origin:" + namespace,
		channel:  "authclient:events:" + namespace,
		writerID: uuid.New().String(),
		subs:     make(map[int]func(store.Event)),
		done:     make(chan struct{}),
	}

	s.pubsub = client.Subscribe(ctx, s.channel)
	// Force the subscription onto the wire before any writer can publish.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return nil, errors.Wrap(err, "[redistore.New] subscribe")
	}
	go s.listen()

	return s, nil
}

func (s *Store) Get(key string) (string, bool) {
	ctx, cancel := s.opCtx()
	defer cancel()

	value, err := s.client.HGet(ctx, s.hashKey, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Err(err).Str("key", key).Msg("redistore read failed")
		}
		return "", false
	}
	return value, true
}

func (s *Store) Set(key, value string) {
	ctx, cancel := s.opCtx()
	defer cancel()

	if err := s.client.HSet(ctx, s.hashKey, key, value).Err(); err != nil {
		log.Err(err).Str("key", key).Msg("redistore write failed")
		return
	}
	s.publish(ctx, notification{Writer: s.writerID, Key: key, Value: value, Present: true})
}

func (s *Store) Remove(key string) {
	ctx, cancel := s.opCtx()
	defer cancel()

	removed, err := s.client.HDel(ctx, s.hashKey, key).Result()
	if err != nil {
		log.Err(err).Str("key", key).Msg("redistore delete failed")
		return
	}
	if removed > 0 {
		s.publish(ctx, notification{Writer: s.writerID, Key: key})
	}
}

func (s *Store) RemoveGroup(keys ...string) {
	ctx, cancel := s.opCtx()
	defer cancel()

	if err := s.client.HDel(ctx, s.hashKey, keys...).Err(); err != nil {
		log.Err(err).Msg("redistore group delete failed")
		return
	}
	for _, key := range keys {
		s.publish(ctx, notification{Writer: s.writerID, Key: key})
	}
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

// Close tears down the pub/sub listener. The underlying Redis client is
// owned by the caller and stays open.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *Store) publish(ctx context.Context, n notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Err(err).Msg("redistore notification marshal failed")
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		log.Err(err).Msg("redistore notification publish failed")
	}
}

func (s *Store) listen() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.deliver(msg.Payload)
		}
	}
}

func (s *Store) deliver(payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		log.Err(err).Msg("redistore notification decode failed")
		return
	}
	if n.Writer == s.writerID {
		return
	}

	s.mu.Lock()
	fns := make([]func(store.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	ev := store.Event{Key: n.Key, Value: n.Value, Present: n.Present}
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Store) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}
