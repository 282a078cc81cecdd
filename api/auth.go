package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled makes the token handshake mandatory on every TCP connection
	Enabled bool
	// Token is the shared secret; generated when empty and Enabled
	Token string
}

// Authenticator checks the handshake frame of new connections.
type Authenticator struct {
	config AuthConfig
	mu     sync.RWMutex
}

// NewAuthenticator creates an Authenticator. An enabled config without a
// token gets a freshly generated one, readable through Token.
func NewAuthenticator(config AuthConfig) *Authenticator {
	if config.Enabled && config.Token == "" {
		config.Token = GenerateToken()
	}
	return &Authenticator{config: config}
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// Token returns the configured token.
func (a *Authenticator) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Token
}

// ValidateToken compares in constant time.
func (a *Authenticator) ValidateToken(provided string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.config.Enabled {
		return nil
	}
	if provided == "" {
		return ErrAuthRequired
	}
	if subtle.ConstantTimeCompare([]byte(a.config.Token), []byte(provided)) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// Handshake reads the auth frame from rw, validates it and writes the
// AuthResponse. It is a no-op when authentication is disabled.
func (a *Authenticator) Handshake(rw io.ReadWriter) error {
	if !a.IsEnabled() {
		return nil
	}

	data, err := ReadMessage(rw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	var msg AuthMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "auth" {
		err = ErrAuthRequired
		_ = writeAuthResponse(rw, err)
		return err
	}

	err = a.ValidateToken(msg.Token)
	if werr := writeAuthResponse(rw, err); werr != nil && err == nil {
		return werr
	}
	return err
}

func writeAuthResponse(w io.Writer, authErr error) error {
	resp := AuthResponse{Success: authErr == nil}
	if authErr != nil {
		resp.Error = authErr.Error()
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteMessage(w, data)
}

// GenerateToken generates a random 256 bit hex token.
func GenerateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}

// AuthMessage is the first frame a client sends when auth is enabled.
type AuthMessage struct {
	Type  string `json:"type"`  // Must be "auth"
	Token string `json:"token"` // The authentication token
}

// AuthResponse answers an AuthMessage.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
