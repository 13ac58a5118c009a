package authapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authmodel"
	"github.com/jrsteele09/go-auth-client/internal/authtest"
)

const (
	testEmail    = "jane.doe@example.com"
	testPassword = "Password123"
)

func newClient(t *testing.T) (*authapi.Client, *authtest.Backend) {
	t.Helper()

	backend := authtest.New()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	client, err := authapi.New(server.URL, server.Client())
	require.NoError(t, err)
	return client, backend
}

// bearerClient wraps the test server's client so every request carries the
// given access token, standing in for the credential interceptor.
func bearerClient(base *http.Client, token string) *http.Client {
	return &http.Client{
		Transport: &bearerTransport{base: base.Transport, token: token},
	}
}

type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)
	rt := bt.base
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := authapi.New("", nil)
	require.Error(t, err)
}

func TestLoginReturnsUserAndCompleteTokens(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, true)

	resp, err := client.Login(context.Background(), authmodel.LoginRequest{
		Email:    testEmail,
		Password: testPassword,
	})
	require.NoError(t, err)
	require.Equal(t, testEmail, resp.User.Email)
	require.True(t, resp.Tokens.Complete())
	require.Equal(t, "bearer", resp.Tokens.TokenType)
	require.NotNil(t, resp.User.LastLogin)
}

func TestLoginFailureCarriesStatusWithoutDetail(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, true)

	_, err := client.Login(context.Background(), authmodel.LoginRequest{
		Email:    testEmail,
		Password: "wrong",
	})
	require.Error(t, err)
	require.True(t, authmodel.IsUnauthorized(err))
	require.Empty(t, authmodel.ErrorDetail(err))
}

func TestLoginUnverifiedCarriesServerDetail(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, false)

	_, err := client.Login(context.Background(), authmodel.LoginRequest{
		Email:    testEmail,
		Password: testPassword,
	})
	require.Error(t, err)
	require.True(t, authmodel.IsForbidden(err))
	require.Equal(t, "email address is not verified yet", authmodel.ErrorDetail(err))
}

func TestRegisterWithheldTokensAreIncomplete(t *testing.T) {
	client, _ := newClient(t)

	resp, err := client.Register(context.Background(), authmodel.RegisterRequest{
		Email:    testEmail,
		Password: testPassword,
	})
	require.NoError(t, err)
	require.Equal(t, testEmail, resp.User.Email)
	require.False(t, resp.User.IsVerified)
	require.False(t, resp.Tokens.Complete())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, true)

	_, err := client.Register(context.Background(), authmodel.RegisterRequest{
		Email:    testEmail,
		Password: testPassword,
	})
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, authmodel.StatusCode(err))
	require.Equal(t, "a user with this email already exists", authmodel.ErrorDetail(err))
}

func TestMeRequiresCredential(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, true)

	_, err := client.Me(context.Background())
	require.Error(t, err)
	require.True(t, authmodel.IsUnauthorized(err))
}

func TestMeWithBearerToken(t *testing.T) {
	backend := authtest.New()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	backend.Seed(testEmail, testPassword, true)
	pair := backend.IssueTokens(testEmail)

	client, err := authapi.New(server.URL, bearerClient(server.Client(), pair.AccessToken))
	require.NoError(t, err)

	user, err := client.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, testEmail, user.Email)
}

func TestRefreshRotatesTokens(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, true)
	pair := backend.IssueTokens(testEmail)

	next, err := client.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.True(t, next.Complete())
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The exchanged token is single use.
	_, err = client.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	require.True(t, authmodel.IsUnauthorized(err))
}

func TestVerifyTokenReportsCredentialValidity(t *testing.T) {
	backend := authtest.New()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	backend.Seed(testEmail, testPassword, true)
	pair := backend.IssueTokens(testEmail)

	withToken, err := authapi.New(server.URL, bearerClient(server.Client(), pair.AccessToken))
	require.NoError(t, err)
	require.NoError(t, withToken.VerifyToken(context.Background()))

	withoutToken, err := authapi.New(server.URL, server.Client())
	require.NoError(t, err)
	err = withoutToken.VerifyToken(context.Background())
	require.Error(t, err)
	require.True(t, authmodel.IsUnauthorized(err))
}

func TestRefreshRejectionCarriesDetail(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, true)
	pair := backend.IssueTokens(testEmail)
	backend.SetFailRefresh(true)

	_, err := client.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	require.True(t, authmodel.IsUnauthorized(err))
	require.Equal(t, "refresh token is invalid or expired", authmodel.ErrorDetail(err))
}

func TestVerifyEmailFlow(t *testing.T) {
	client, backend := newClient(t)
	backend.Seed(testEmail, testPassword, false)
	token := backend.VerificationToken(testEmail)

	result, err := client.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	require.True(t, result.Success)

	// Verification unblocks login.
	resp, err := client.Login(context.Background(), authmodel.LoginRequest{
		Email:    testEmail,
		Password: testPassword,
	})
	require.NoError(t, err)
	require.True(t, resp.User.IsVerified)
}

func TestVerifyEmailWithBadToken(t *testing.T) {
	client, _ := newClient(t)

	// The service reports link errors in the body, not the status code.
	result, err := client.VerifyEmail(context.Background(), "bogus")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
}

func TestForgotPasswordNeverDisclosesAccounts(t *testing.T) {
	client, _ := newClient(t)

	require.NoError(t, client.ForgotPassword(context.Background(), "nobody@example.com"))
}

func TestResetPasswordWithBadToken(t *testing.T) {
	client, _ := newClient(t)

	err := client.ResetPassword(context.Background(), "bogus", "NewPassword1")
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, authmodel.StatusCode(err))
}

func TestTransportFailureIsTransient(t *testing.T) {
	backend := authtest.New()
	server := httptest.NewServer(backend)
	client, err := authapi.New(server.URL, server.Client())
	require.NoError(t, err)

	server.Close()
	_, err = client.Me(context.Background())
	require.Error(t, err)
	require.True(t, authmodel.IsTransient(err))
}
