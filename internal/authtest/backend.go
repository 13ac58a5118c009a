// Package authtest provides an in-memory authentication backend speaking
// the same contract as the real service. Integration tests point the
// client stack at it, and cmd/authstub serves it for manual runs.
package authtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authmodel"
)

type account struct {
	user     authmodel.User
	password string
}

// Backend is the in-memory service. All knobs and counters are safe for
// concurrent use.
type Backend struct {
	mu            sync.Mutex
	router        chi.Router
	accounts      map[string]*account // email -> account
	accessTokens  map[string]string   // access token -> email
	refreshTokens map[string]string   // refresh token -> email
	verifyTokens  map[string]string   // email-verification token -> email
	resetTokens   map[string]string   // password-reset token -> email
	nextID        int64

	verifyOnRegister bool
	failRefresh      bool

	stats Stats
}

// Stats counts the calls the backend has served.
type Stats struct {
	LoginCalls   int
	RefreshCalls int
	MeCalls      int
	LogoutCalls  int
}

// New creates an empty backend.
func New() *Backend {
	b := &Backend{
		accounts:      make(map[string]*account),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		verifyTokens:  make(map[string]string),
		resetTokens:   make(map[string]string),
		nextID:        1,
	}

	r := chi.NewRouter()
	r.Post(authapi.RouteLogin, b.handleLogin)
	r.Post(authapi.RouteRegister, b.handleRegister)
	r.Post(authapi.RouteLogout, b.handleLogout)
	r.Get(authapi.RouteMe, b.handleMe)
	r.Post(authapi.RouteRefresh, b.handleRefresh)
	r.Post(authapi.RouteVerifyToken, b.handleVerifyToken)
	r.Get(authapi.RouteVerifyEmail, b.handleVerifyEmail)
	r.Post(authapi.RouteForgotPassword, b.handleForgotPassword)
	r.Post(authapi.RouteResetPassword, b.handleResetPassword)
	r.Post(authapi.RouteResendVerification, b.handleResendVerification)
	b.router = r

	return b
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

// Stats returns a snapshot of the call counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// SetVerifyOnRegister makes register issue tokens immediately instead of
// withholding them until email verification.
func (b *Backend) SetVerifyOnRegister(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyOnRegister = v
}

// SetFailRefresh makes the refresh endpoint reject every exchange.
func (b *Backend) SetFailRefresh(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRefresh = v
}

// Seed registers an account directly, bypassing the HTTP flow.
func (b *Backend) Seed(email, password string, verified bool) authmodel.User {
	b.mu.Lock()
	defer b.mu.Unlock()

	user := authmodel.User{
		ID:         b.nextID,
		Email:      email,
		Role:       authmodel.RoleUser,
		IsActive:   true,
		IsVerified: verified,
		CreatedAt:  time.Now().UTC(),
	}
	b.nextID++
	b.accounts[email] = &account{user: user, password: password}
	return user
}

// IssueTokens mints a valid token pair for a seeded account, mimicking a
// login performed in an earlier process lifetime.
func (b *Backend) IssueTokens(email string) authmodel.TokenPair {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mintLocked(email)
}

// ExpireAccessTokens invalidates every access token while leaving refresh
// tokens valid, forcing the next protected call into the refresh flow.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessTokens = make(map[string]string)
}

// RevokeAll invalidates every outstanding token of both kinds.
func (b *Backend) RevokeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessTokens = make(map[string]string)
	b.refreshTokens = make(map[string]string)
}

// UpdateUser mutates a seeded account's user record in place, simulating a
// server-side profile change between fetches.
func (b *Backend) UpdateUser(email string, fn func(*authmodel.User)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if acc, ok := b.accounts[email]; ok {
		fn(&acc.user)
	}
}

// VerificationToken returns a fresh email-verification token for email.
func (b *Backend) VerificationToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := uuid.New().String()
	b.verifyTokens[token] = email
	return token
}

func (b *Backend) mintLocked(email string) authmodel.TokenPair {
	pair := authmodel.TokenPair{
		AccessToken:  uuid.New().String(),
		RefreshToken: uuid.New().String(),
		TokenType:    "bearer",
		ExpiresIn:    900,
	}
	b.accessTokens[pair.AccessToken] = email
	b.refreshTokens[pair.RefreshToken] = email
	return pair
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authmodel.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	b.stats.LoginCalls++
	acc, ok := b.accounts[req.Email]
	if !ok || acc.password != req.Password {
		b.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if !acc.user.IsVerified {
		b.mu.Unlock()
		writeDetail(w, http.StatusForbidden, "email address is not verified yet")
		return
	}
	now := time.Now().UTC()
	acc.user.LastLogin = &now
	user := acc.user
	pair := b.mintLocked(req.Email)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, authmodel.AuthResponse{User: user, Tokens: pair})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authmodel.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	if _, exists := b.accounts[req.Email]; exists {
		b.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "a user with this email already exists")
		return
	}
	user := authmodel.User{
		ID:         b.nextID,
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Role:       authmodel.RoleUser,
		IsActive:   true,
		IsVerified: b.verifyOnRegister,
		CreatedAt:  time.Now().UTC(),
	}
	b.nextID++
	b.accounts[req.Email] = &account{user: user, password: req.Password}

	// Tokens are withheld until the email address is verified.
	pair := authmodel.TokenPair{TokenType: "bearer"}
	if b.verifyOnRegister {
		pair = b.mintLocked(req.Email)
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, authmodel.AuthResponse{User: user, Tokens: pair})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.stats.LogoutCalls++
	if email, ok := b.bearerEmailLocked(r); ok {
		for token, owner := range b.accessTokens {
			if owner == email {
				delete(b.accessTokens, token)
			}
		}
		for token, owner := range b.refreshTokens {
			if owner == email {
				delete(b.refreshTokens, token)
			}
		}
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, authmodel.Message{Message: "logged out", Success: true})
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.stats.MeCalls++
	email, ok := b.bearerEmailLocked(r)
	if !ok {
		b.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	user := b.accounts[email].user
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, user)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	b.stats.RefreshCalls++
	if b.failRefresh {
		b.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "refresh token is invalid or expired")
		return
	}
	email, ok := b.refreshTokens[req.RefreshToken]
	if !ok {
		b.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "refresh token is invalid or expired")
		return
	}
	delete(b.refreshTokens, req.RefreshToken) // rotation: single use
	pair := b.mintLocked(email)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, pair)
}

func (b *Backend) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	_, ok := b.bearerEmailLocked(r)
	b.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, authmodel.Message{Message: "token is valid", Success: true})
}

func (b *Backend) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	b.mu.Lock()
	email, ok := b.verifyTokens[token]
	if !ok {
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, authmodel.VerifyEmailResult{Error: "verification token is invalid or expired"})
		return
	}
	delete(b.verifyTokens, token)
	b.accounts[email].user.IsVerified = true
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, authmodel.VerifyEmailResult{Success: true, Message: "email verified"})
}

func (b *Backend) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	if _, ok := b.accounts[req.Email]; ok {
		b.resetTokens[uuid.New().String()] = req.Email
	}
	b.mu.Unlock()

	// Whether the account exists is never disclosed.
	writeJSON(w, http.StatusOK, authmodel.Message{Message: "reset email sent", Success: true})
}

func (b *Backend) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	email, ok := b.resetTokens[req.Token]
	if !ok {
		b.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "reset token is invalid or expired")
		return
	}
	delete(b.resetTokens, req.Token)
	b.accounts[email].password = req.NewPassword
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, authmodel.Message{Message: "password updated", Success: true})
}

func (b *Backend) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}

	b.mu.Lock()
	if _, ok := b.accounts[req.Email]; ok {
		b.verifyTokens[uuid.New().String()] = req.Email
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, authmodel.Message{Message: "verification email sent", Success: true})
}

func (b *Backend) bearerEmailLocked(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	email, ok := b.accessTokens[token]
	return email, ok
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
