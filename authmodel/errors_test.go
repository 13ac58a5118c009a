package authmodel_test

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/authmodel"
)

func TestStatusCodeThroughWrapping(t *testing.T) {
	err := errors.Wrap(&authmodel.APIError{StatusCode: http.StatusForbidden}, "[Client.Me]")

	require.Equal(t, http.StatusForbidden, authmodel.StatusCode(err))
	require.True(t, authmodel.IsForbidden(err))
	require.False(t, authmodel.IsUnauthorized(err))
	require.False(t, authmodel.IsTransient(err))
}

func TestTransportErrorsAreTransient(t *testing.T) {
	err := errors.New("connection refused")

	require.Zero(t, authmodel.StatusCode(err))
	require.True(t, authmodel.IsTransient(err))
	require.False(t, authmodel.IsUnauthorized(err))
}

func TestNilErrorIsNotTransient(t *testing.T) {
	require.False(t, authmodel.IsTransient(nil))
}

func TestUserMessagePrecedence(t *testing.T) {
	withDetail := &authmodel.APIError{StatusCode: 403, Detail: "account suspended"}
	withoutDetail := &authmodel.APIError{StatusCode: 401}

	require.Equal(t, "account suspended", authmodel.UserMessage(withDetail, "login failed"))
	require.Equal(t, "invalid credentials", authmodel.UserMessage(withoutDetail, "invalid credentials"))
	require.Equal(t, "request failed, please try again", authmodel.UserMessage(withoutDetail, ""))
}

func TestAPIErrorMessage(t *testing.T) {
	require.Equal(t, "auth service returned 403: account suspended",
		(&authmodel.APIError{StatusCode: 403, Detail: "account suspended"}).Error())
	require.Equal(t, "auth service returned 401",
		(&authmodel.APIError{StatusCode: 401}).Error())
}
