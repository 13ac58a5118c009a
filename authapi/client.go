// Package authapi is the typed client for the remote authentication
// service. It is pure HTTP: persistence of tokens and the cached user is
// owned by the session controller and the credential transport, never by
// this client.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-auth-client/authmodel"
)

// Service routes, relative to the base URL.
const (
	RouteLogin              = "/auth/login"
	RouteRegister           = "/auth/register"
	RouteLogout             = "/auth/logout"
	RouteMe                 = "/auth/me"
	RouteRefresh            = "/auth/refresh"
	RouteVerifyToken        = "/auth/verify-token"
	RouteVerifyEmail        = "/auth/verify-email"
	RouteForgotPassword     = "/auth/forgot-password"
	RouteResetPassword      = "/auth/reset-password"
	RouteResendVerification = "/auth/resend-verification"
)

// Client calls the authentication service. The supplied http.Client
// decides whether calls go through the credential interceptor: the main
// client is built over an intercepted one, the Refresher over a bare one.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the service at baseURL.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[authapi.New] baseURL is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}, nil
}

// Login exchanges credentials for a user record and token pair.
func (c *Client) Login(ctx context.Context, req authmodel.LoginRequest) (*authmodel.AuthResponse, error) {
	var out authmodel.AuthResponse
	if err := c.do(ctx, http.MethodPost, RouteLogin, req, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	return &out, nil
}

// Register creates an account. The returned token pair may be incomplete
// when the service withholds tokens pending email verification; callers
// must check Tokens.Complete().
func (c *Client) Register(ctx context.Context, req authmodel.RegisterRequest) (*authmodel.AuthResponse, error) {
	var out authmodel.AuthResponse
	if err := c.do(ctx, http.MethodPost, RouteRegister, req, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.Register]")
	}
	return &out, nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return errors.Wrap(c.do(ctx, http.MethodPost, RouteLogout, nil, nil), "[Client.Logout]")
}

// Me fetches the current user's profile using the stored access token.
func (c *Client) Me(ctx context.Context) (*authmodel.User, error) {
	var out authmodel.User
	if err := c.do(ctx, http.MethodGet, RouteMe, nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.Me]")
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new token pair. It satisfies
// transport.Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*authmodel.TokenPair, error) {
	body := struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: refreshToken}

	var out authmodel.TokenPair
	if err := c.do(ctx, http.MethodPost, RouteRefresh, body, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}
	return &out, nil
}

// VerifyToken asks the service whether the attached access token is still
// valid.
func (c *Client) VerifyToken(ctx context.Context) error {
	return errors.Wrap(c.do(ctx, http.MethodPost, RouteVerifyToken, nil, nil), "[Client.VerifyToken]")
}

// VerifyEmail confirms an email address with the token from the
// verification link.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*authmodel.VerifyEmailResult, error) {
	route := RouteVerifyEmail + "?token=" + url.QueryEscape(token)

	var out authmodel.VerifyEmailResult
	if err := c.do(ctx, http.MethodGet, route, nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.VerifyEmail]")
	}
	return &out, nil
}

// ForgotPassword requests a password-reset email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body := struct {
		Email string `json:"email"`
	}{Email: email}
	return errors.Wrap(c.do(ctx, http.MethodPost, RouteForgotPassword, body, nil), "[Client.ForgotPassword]")
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	body := struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}{Token: token, NewPassword: newPassword}
	return errors.Wrap(c.do(ctx, http.MethodPost, RouteResetPassword, body, nil), "[Client.ResetPassword]")
}

// ResendVerification re-sends the verification email.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	body := struct {
		Email string `json:"email"`
	}{Email: email}
	return errors.Wrap(c.do(ctx, http.MethodPost, RouteResendVerification, body, nil), "[Client.ResendVerification]")
}

// do dispatches one JSON request and decodes either the response body into
// out or a non-2xx body into an APIError.
func (c *Client) do(ctx context.Context, method, route string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "dispatching request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response body")
	}
	return nil
}

// decodeError lifts the service's {"detail": "..."} body into an APIError.
// A body that is not in that shape still yields an APIError carrying the
// status code alone.
func decodeError(resp *http.Response) error {
	apiErr := &authmodel.APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && len(raw) > 0 {
		var body struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &body) == nil {
			apiErr.Detail = body.Detail
		}
	}
	return apiErr
}
