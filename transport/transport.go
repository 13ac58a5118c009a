// Package transport implements the credential interceptor: an
// http.RoundTripper that attaches the stored access token to outgoing
// requests, and on a 401 performs a single-flight refresh-token exchange
// before retrying the faulted request exactly once.
//
// The refresh call itself never travels through this transport. The
// Refresher is handed a bare HTTP client at construction time, so a 401
// from the refresh endpoint can never recurse into another refresh.
package transport

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/authmodel"
	"github.com/jrsteele09/go-auth-client/store"
)

// Refresher exchanges a refresh token for a new token pair, bypassing the
// interceptor. Implemented by authapi.Client over an unwrapped HTTP client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authmodel.TokenPair, error)
}

// Observer is notified of interceptor-driven session changes. It is a
// constructed collaborator (normally the session controller), not a
// replaceable global callback, so a handler cannot be silently lost by
// re-registration.
type Observer interface {
	// TokenRefreshed is called after a successful exchange, once the new
	// pair has been persisted.
	TokenRefreshed(pair *authmodel.TokenPair)

	// AuthError is called after a terminal refresh failure, once the
	// session entries have been removed from the store.
	AuthError(err error)
}

// NopObserver is an Observer that ignores every notification.
type NopObserver struct{}

func (NopObserver) TokenRefreshed(*authmodel.TokenPair) {}
func (NopObserver) AuthError(error)                     {}

// ErrNoRefreshToken is the terminal failure used when a 401 arrives and no
// refresh token is stored.
var ErrNoRefreshToken = errors.New("no refresh token in session store")

type refreshResult struct {
	accessToken string
	err         error
}

// Transport is the credential interceptor. At most one refresh-token
// exchange is in flight at any time; requests that fault with a 401 while
// one is pending wait for it and share its outcome.
type Transport struct {
	base      http.RoundTripper
	store     store.Store
	refresher Refresher
	observer  Observer

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

var _ http.RoundTripper = (*Transport)(nil)

// New builds the interceptor. A nil base falls back to
// http.DefaultTransport and a nil observer to NopObserver.
func New(base http.RoundTripper, st store.Store, refresher Refresher, observer Observer) (*Transport, error) {
	if st == nil {
		return nil, errors.New("[transport.New] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[transport.New] refresher is required")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Transport{base: base, store: st, refresher: refresher, observer: observer}, nil
}

// RoundTrip attaches the bearer credential, dispatches, and on a 401
// refreshes and retries once. A second 401 after the retry is returned to
// the caller unchanged.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := req
	if token, ok := t.store.Get(store.KeyAccessToken); ok && req.Header.Get("Authorization") == "" {
		attempt = req.Clone(req.Context())
		attempt.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The request body was consumed by the first attempt; without GetBody
	// the retry cannot be replayed and the original 401 stands.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	newToken, refreshErr := t.awaitRefresh(req.Context())
	if refreshErr != nil {
		return resp, nil
	}

	retry, err := t.rewind(req)
	if err != nil {
		log.Err(err).Str("url", req.URL.Path).Msg("cannot replay request after token refresh")
		return resp, nil
	}
	retry.Header.Set("Authorization", "Bearer "+newToken)

	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	return t.base.RoundTrip(retry)
}

// awaitRefresh joins an in-flight refresh or starts one. Waiters are
// resolved in arrival order once the exchange settles.
func (t *Transport) awaitRefresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.refreshing {
		ch := make(chan refreshResult, 1)
		t.waiters = append(t.waiters, ch)
		t.mu.Unlock()

		select {
		case res := <-ch:
			return res.accessToken, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	t.refreshing = true
	t.mu.Unlock()

	accessToken, err := t.doRefresh(ctx)

	t.mu.Lock()
	t.refreshing = false
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{accessToken: accessToken, err: err}
	}
	return accessToken, err
}

func (t *Transport) doRefresh(ctx context.Context) (string, error) {
	refreshToken, ok := t.store.Get(store.KeyRefreshToken)
	if !ok || refreshToken == "" {
		t.failSession(ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	// Waiting requests share this exchange's fate, so it must outlive a
	// cancellation of the request that happened to trigger it.
	pair, err := t.refresher.Refresh(context.WithoutCancel(ctx), refreshToken)
	if err != nil {
		t.failSession(err)
		return "", errors.Wrap(err, "[Transport.doRefresh] token exchange")
	}

	t.store.Set(store.KeyAccessToken, pair.AccessToken)
	t.store.Set(store.KeyRefreshToken, pair.RefreshToken)
	log.Debug().Msg("access token refreshed")
	t.observer.TokenRefreshed(pair)
	return pair.AccessToken, nil
}

// failSession removes the whole session entry group and reports the
// terminal failure. Readers treat the remaining state as logged out.
func (t *Transport) failSession(cause error) {
	t.store.RemoveGroup(store.SessionKeys()...)
	log.Warn().Err(cause).Msg("token refresh failed, session cleared")
	t.observer.AuthError(cause)
}

func (t *Transport) rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "[Transport.rewind] GetBody")
		}
		retry.Body = body
	}
	return retry, nil
}
