// Package session owns the in-memory session state of one client handle
// and reconciles it with the shared origin store, the credential
// transport, and the remote authentication service.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/authmodel"
	"github.com/jrsteele09/go-auth-client/store"
)

// State classifies the controller's session.
type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Snapshot is a point-in-time copy of the session state. Authenticated is
// true exactly when User is present; Loading is true only during the
// initial bootstrap check.
type Snapshot struct {
	User          *authmodel.User
	Authenticated bool
	Loading       bool
}

// Service is the slice of the authentication API the controller needs.
// Satisfied by *authapi.Client.
type Service interface {
	Login(ctx context.Context, req authmodel.LoginRequest) (*authmodel.AuthResponse, error)
	Register(ctx context.Context, req authmodel.RegisterRequest) (*authmodel.AuthResponse, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*authmodel.User, error)
}

// Error wraps a service failure with the resolved user-facing message,
// following the precedence server detail > endpoint message > generic.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

const reconcileTimeout = 10 * time.Second

// Controller reconciles in-memory session state with the store and the
// service. It is the transport's Observer and the single writer of its own
// tab's state.
type Controller struct {
	service Service
	store   store.Store

	mu      sync.RWMutex
	user    *authmodel.User
	loading bool

	bootstrapOnce sync.Once

	subMu       sync.Mutex
	subs        map[int]func(Snapshot)
	nextSub     int
	cancelStore func()
}

// NewController builds a controller in the Loading state and subscribes it
// to the store's cross-tab change notifications. Call Bootstrap to run the
// initial session check.
func NewController(service Service, st store.Store) (*Controller, error) {
	if service == nil {
		return nil, errors.New("[session.NewController] service is required")
	}
	if st == nil {
		return nil, errors.New("[session.NewController] store is required")
	}

	c := &Controller{
		service: service,
		store:   st,
		loading: true,
		subs:    make(map[int]func(Snapshot)),
	}
	c.cancelStore = st.Subscribe(c.onStoreEvent)
	return c, nil
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var user *authmodel.User
	if c.user != nil {
		u := *c.user
		user = &u
	}
	return Snapshot{User: user, Authenticated: c.user != nil, Loading: c.loading}
}

// State derives the classification from the snapshot.
func (c *Controller) State() State {
	snap := c.Snapshot()
	switch {
	case snap.Loading && !snap.Authenticated:
		return StateLoading
	case snap.Authenticated:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// Subscribe registers a listener invoked after every state change. It
// returns a cancel function.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// Close detaches the controller from the store. In-memory state is left as
// is.
func (c *Controller) Close() error {
	if c.cancelStore != nil {
		c.cancelStore()
	}
	return nil
}

// Bootstrap runs the initial session check: adopt the cached user when a
// token is stored, then verify against the service. The loading phase ends
// exactly once, whatever the outcome; repeated calls are no-ops.
func (c *Controller) Bootstrap(ctx context.Context) {
	c.bootstrapOnce.Do(func() {
		c.reconcile(ctx)
		c.setLoading(false)
	})
}

// reconcile is the verification path shared by Bootstrap and the
// cross-tab "token appeared" notification.
func (c *Controller) reconcile(ctx context.Context) {
	if _, ok := c.store.Get(store.KeyAccessToken); !ok {
		c.setUser(nil)
		return
	}

	// A token is present: adopt the cached user optimistically before the
	// network round trip settles.
	if cached := c.cachedUser(); cached != nil {
		c.setUser(cached)
	}

	user, err := c.service.Me(ctx)
	switch {
	case err == nil:
		c.cacheUser(user)
		c.setUser(user)
	case authmodel.IsUnauthorized(err):
		// The token is dead and the transport could not revive it.
		c.store.RemoveGroup(store.SessionKeys()...)
		c.setUser(nil)
	case authmodel.IsForbidden(err):
		// Restricted account, valid session. Keep whatever was adopted.
		log.Warn().Err(err).Msg("session verification denied for restricted account")
	default:
		// Transient failure: never punish the session for a flaky network.
		log.Warn().Err(err).Msg("session verification failed, keeping current state")
	}
}

// Login authenticates, persists the session entry group, and transitions
// to Authenticated. On failure the state is unchanged and the returned
// error carries a presentable message.
func (c *Controller) Login(ctx context.Context, req authmodel.LoginRequest) (*authmodel.User, error) {
	resp, err := c.service.Login(ctx, req)
	if err != nil {
		return nil, &Error{Message: authmodel.UserMessage(err, loginFallback(err)), Err: err}
	}

	c.persistSession(resp)
	c.setUser(&resp.User)
	log.Info().Str("email", resp.User.Email).Msg("logged in")
	return &resp.User, nil
}

// Register creates an account. When the service issues a complete token
// pair the result is treated exactly like a login; when tokens are
// withheld pending email verification, session state is left untouched and
// the caller must route the user to the pending-verification flow.
func (c *Controller) Register(ctx context.Context, req authmodel.RegisterRequest) (*authmodel.AuthResponse, error) {
	resp, err := c.service.Register(ctx, req)
	if err != nil {
		return nil, &Error{Message: authmodel.UserMessage(err, "registration failed"), Err: err}
	}

	if resp.Tokens.Complete() {
		c.persistSession(resp)
		c.setUser(&resp.User)
		log.Info().Str("email", resp.User.Email).Msg("registered and logged in")
	}
	return resp, nil
}

// Logout notifies the service best-effort, then unconditionally clears the
// persisted entries and the in-memory state. Local consistency takes
// priority over server acknowledgment, so no error is returned.
func (c *Controller) Logout(ctx context.Context) {
	if err := c.service.Logout(ctx); err != nil {
		log.Warn().Err(err).Msg("server logout failed, clearing session anyway")
	}
	c.store.RemoveGroup(store.SessionKeys()...)
	c.setUser(nil)
	log.Info().Msg("logged out")
}

// RefreshUser re-fetches the profile and updates the cached and in-memory
// user without changing the session classification. Failures are logged,
// not propagated.
func (c *Controller) RefreshUser(ctx context.Context) {
	if c.Snapshot().User == nil {
		return
	}

	user, err := c.service.Me(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("user refresh failed")
		return
	}
	c.cacheUser(user)
	c.setUser(user)
}

// TokenRefreshed implements transport.Observer. The refresh proved the
// session is alive, but the user record may have changed server-side, so
// it is re-fetched. Runs asynchronously: it is invoked from inside the
// transport's refresh critical section.
func (c *Controller) TokenRefreshed(*authmodel.TokenPair) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()

		user, err := c.service.Me(ctx)
		if err != nil {
			if authmodel.IsUnauthorized(err) {
				c.store.RemoveGroup(store.SessionKeys()...)
				c.setUser(nil)
			} else {
				log.Warn().Err(err).Msg("user re-fetch after token refresh failed")
			}
			return
		}
		c.cacheUser(user)
		c.setUser(user)
	}()
}

// AuthError implements transport.Observer. The transport has already
// cleared the store; the tab drops to Unauthenticated with no network
// call.
func (c *Controller) AuthError(err error) {
	log.Warn().Err(err).Msg("session ended by refresh failure")
	c.setUser(nil)
}

// onStoreEvent reconciles this tab with changes made by other tabs.
func (c *Controller) onStoreEvent(ev store.Event) {
	if ev.Key != store.KeyAccessToken {
		return
	}

	if !ev.Present {
		// Another tab logged out; no network call needed.
		c.setUser(nil)
		return
	}

	// Another tab logged in: re-run the verification path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		c.reconcile(ctx)
	}()
}

func (c *Controller) persistSession(resp *authmodel.AuthResponse) {
	c.store.Set(store.KeyAccessToken, resp.Tokens.AccessToken)
	c.store.Set(store.KeyRefreshToken, resp.Tokens.RefreshToken)
	c.cacheUser(&resp.User)
}

func (c *Controller) cacheUser(user *authmodel.User) {
	raw, err := json.Marshal(user)
	if err != nil {
		log.Err(err).Msg("cached user serialization failed")
		return
	}
	c.store.Set(store.KeyUser, string(raw))
}

// cachedUser reads the advisory user copy from the store. It is only
// consulted when an access token is present; a stale copy without a token
// is never trusted.
func (c *Controller) cachedUser() *authmodel.User {
	raw, ok := c.store.Get(store.KeyUser)
	if !ok {
		return nil
	}
	var user authmodel.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable cached user")
		return nil
	}
	return &user
}

func (c *Controller) setUser(user *authmodel.User) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setLoading(loading bool) {
	c.mu.Lock()
	c.loading = loading
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	snap := c.Snapshot()

	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func loginFallback(err error) string {
	switch {
	case authmodel.IsUnauthorized(err):
		return "invalid credentials"
	case authmodel.IsForbidden(err):
		return "account restricted or unverified"
	default:
		return "login failed"
	}
}
