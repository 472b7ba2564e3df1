// Package session answers who the current user is from the token the
// identity provider left in session storage.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// ErrLocalLogout reports that session storage was cleared but the provider
// logout URL could not be built.
var ErrLocalLogout = errors.New("signed out locally only")

// Storage is the subset of browser-style sessionStorage the accessor reads.
type Storage interface {
	Keys() ([]string, error)
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Clear() error
}

// AuthnResult is the provider-managed blob stored under the session key.
type AuthnResult struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

type storedSession struct {
	AuthnResult *AuthnResult `json:"authnResult"`
}

type LogoutConfig struct {
	LogoutURL             string
	ClientID              string
	PostLogoutRedirectURI string
}

type Claims struct {
	Subject    string
	Email      string
	GivenName  string
	FamilyName string
}

type Accessor struct {
	storage Storage
	prefix  string
	logout  LogoutConfig
	logger  *logrus.Logger
	parser  *jwt.Parser
}

func NewAccessor(storage Storage, keyPrefix string, logout LogoutConfig, logger *logrus.Logger) *Accessor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Accessor{
		storage: storage,
		prefix:  keyPrefix,
		logout:  logout,
		logger:  logger,
		parser:  jwt.NewParser(),
	}
}

func (a *Accessor) IsAuthenticated() bool {
	_, ok := a.claims()
	return ok
}

// Subject returns the sub claim of the ID token. The signature is not
// verified; the identity provider and TLS are trusted for that.
func (a *Accessor) Subject() (string, bool) {
	c, ok := a.claims()
	if !ok || c.Subject == "" {
		return "", false
	}
	return c.Subject, true
}

func (a *Accessor) Claims() (Claims, bool) {
	return a.claims()
}

func (a *Accessor) IDToken() (string, bool) {
	res, ok := a.authnResult()
	if !ok || res.IDToken == "" {
		return "", false
	}
	return res.IDToken, true
}

func (a *Accessor) AccessToken() (string, bool) {
	res, ok := a.authnResult()
	if !ok || res.AccessToken == "" {
		return "", false
	}
	return res.AccessToken, true
}

// Store writes an authnResult blob under key, replacing whatever was there.
func (a *Accessor) Store(key string, res AuthnResult) error {
	if !strings.HasPrefix(key, a.prefix) {
		return fmt.Errorf("session key %q lacks prefix %q", key, a.prefix)
	}
	raw, err := json.Marshal(storedSession{AuthnResult: &res})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return a.storage.Set(key, string(raw))
}

// Logout clears every session entry and returns the provider logout URL the
// caller should open. When only the URL is unavailable the local session is
// still gone and the error wraps ErrLocalLogout.
func (a *Accessor) Logout(_ context.Context) (string, error) {
	logoutURL, urlErr := a.LogoutURL()
	if err := a.storage.Clear(); err != nil {
		return "", fmt.Errorf("clear session storage: %w", err)
	}
	if urlErr != nil {
		return "", fmt.Errorf("%w: %w", ErrLocalLogout, urlErr)
	}
	return logoutURL, nil
}

func (a *Accessor) LogoutURL() (string, error) {
	if strings.TrimSpace(a.logout.LogoutURL) == "" {
		return "", errors.New("logout url is not configured")
	}
	u, err := url.Parse(a.logout.LogoutURL)
	if err != nil {
		return "", fmt.Errorf("parse logout url: %w", err)
	}
	q := u.Query()
	q.Set("client_id", a.logout.ClientID)
	q.Set("logout_uri", a.logout.PostLogoutRedirectURI)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Accessor) claims() (Claims, bool) {
	token, ok := a.IDToken()
	if !ok {
		return Claims{}, false
	}
	mc := jwt.MapClaims{}
	if _, _, err := a.parser.ParseUnverified(token, mc); err != nil {
		a.logger.WithError(err).Warn("failed to decode ID token")
		return Claims{}, false
	}
	return Claims{
		Subject:    stringClaim(mc, "sub"),
		Email:      stringClaim(mc, "email"),
		GivenName:  stringClaim(mc, "given_name"),
		FamilyName: stringClaim(mc, "family_name"),
	}, true
}

func (a *Accessor) authnResult() (AuthnResult, bool) {
	keys, err := a.storage.Keys()
	if err != nil {
		a.logger.WithError(err).Warn("failed to list session storage keys")
		return AuthnResult{}, false
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, a.prefix) {
			continue
		}
		raw, ok, err := a.storage.Get(key)
		if err != nil {
			a.logger.WithError(err).WithField("key", key).Warn("failed to read session entry")
			return AuthnResult{}, false
		}
		if !ok {
			return AuthnResult{}, false
		}
		var stored storedSession
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			a.logger.WithError(err).WithField("key", key).Warn("failed to parse session entry")
			return AuthnResult{}, false
		}
		if stored.AuthnResult == nil {
			return AuthnResult{}, false
		}
		return *stored.AuthnResult, true
	}
	return AuthnResult{}, false
}

func stringClaim(mc jwt.MapClaims, name string) string {
	v, ok := mc[name].(string)
	if !ok {
		return ""
	}
	return v
}
