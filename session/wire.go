package session

import (
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/store"
	"github.com/jrsteele09/go-auth-client/transport"
)

const defaultHTTPTimeout = 30 * time.Second

// Option configures the wiring built by New.
type Option func(*wireOptions)

type wireOptions struct {
	httpTimeout   time.Duration
	baseTransport http.RoundTripper
}

// WithHTTPTimeout overrides the timeout of both HTTP clients.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *wireOptions) { o.httpTimeout = d }
}

// WithBaseTransport overrides the RoundTripper beneath the credential
// interceptor (and of the refresh bypass client).
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *wireOptions) { o.baseTransport = rt }
}

// New wires a complete session stack over the given store: a bare client
// for the refresh bypass path, the credential interceptor observing the
// controller, and the intercepted API client the controller calls through.
// The returned API client shares the interceptor and serves the flows the
// controller does not own (email verification, password recovery).
//
// Call Controller.Bootstrap to run the initial session check.
func New(baseURL string, st store.Store, opts ...Option) (*Controller, *authapi.Client, error) {
	o := wireOptions{httpTimeout: defaultHTTPTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	// Bypass path: the refresh call must never pass through the
	// interceptor, or a 401 from the refresh endpoint could recurse.
	refreshClient, err := authapi.New(baseURL, &http.Client{
		Timeout:   o.httpTimeout,
		Transport: o.baseTransport,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "[session.New] refresh client")
	}

	httpClient := &http.Client{Timeout: o.httpTimeout}
	apiClient, err := authapi.New(baseURL, httpClient)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[session.New] api client")
	}

	controller, err := NewController(apiClient, st)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[session.New] controller")
	}

	interceptor, err := transport.New(o.baseTransport, st, refreshClient, controller)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[session.New] interceptor")
	}
	// Installed before the first request is dispatched.
	httpClient.Transport = interceptor

	return controller, apiClient, nil
}
