package authmodel

// TokenPair is the token envelope issued by the authentication service on
// login, register, and refresh. Both tokens are opaque strings to this
// layer: they are stored and presented back to the server, never decoded
// locally.
type TokenPair struct {
	// AccessToken is the short-lived credential attached as
	// "Authorization: Bearer <token>" to every protected call.
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived credential presented only to the
	// refresh endpoint in exchange for a new pair.
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "bearer" in the current service contract.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime hint in seconds.
	ExpiresIn int `json:"expires_in,omitempty"`
}

// Complete reports whether both token strings are present. The register
// endpoint returns empty strings when the account still awaits email
// verification, and an incomplete pair must never be persisted.
func (tp TokenPair) Complete() bool {
	return tp.AccessToken != "" && tp.RefreshToken != ""
}
