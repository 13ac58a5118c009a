// Package authmodel holds the wire types of the authentication service
// contract shared by the API client, the credential transport, and the
// session controller.
package authmodel

// AuthResponse is the envelope returned by the login and register
// endpoints. Callers of register must check Tokens.Complete() before
// treating the response as an authenticated session: the service withholds
// tokens until the email address is verified.
type AuthResponse struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// Message is the generic acknowledgement body used by logout, verify-token
// and the password-recovery endpoints.
type Message struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// VerifyEmailResult is the body of GET /auth/verify-email.
type VerifyEmailResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LoginRequest carries the credentials for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest carries the sign-up form for POST /auth/register.
type RegisterRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}
