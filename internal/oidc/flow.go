// Package oidc runs the authorization-code login against the identity
// provider through a loopback redirect.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatline/internal/session"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var (
	ErrStateMismatch = errors.New("oidc state mismatch")
	ErrDenied        = errors.New("authorization denied")
)

type Config struct {
	Authority    string
	ClientID     string
	RedirectURL  string
	Scope        string
	ResponseType string
	KeyPrefix    string
}

// SessionStore persists the token response. *session.Accessor satisfies it.
type SessionStore interface {
	Store(key string, res session.AuthnResult) error
}

type Flow struct {
	cfg    Config
	http   *http.Client
	store  SessionStore
	logger *logrus.Logger
}

type request struct {
	state    string
	nonce    string
	verifier string
	conf     *oauth2.Config
}

type callback struct {
	code string
	err  error
}

func NewFlow(cfg Config, httpClient *http.Client, store SessionStore, logger *logrus.Logger) *Flow {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.Authority = strings.TrimRight(cfg.Authority, "/")
	return &Flow{cfg: cfg, http: httpClient, store: store, logger: logger}
}

// AuthorizeURL returns a fresh authorization URL with its own state, nonce
// and PKCE challenge.
func (f *Flow) AuthorizeURL() string {
	return f.authorizeURL(f.newRequest(f.cfg.RedirectURL))
}

// Login opens the provider in the browser, waits for the redirect and stores
// the exchanged tokens in session storage.
func (f *Flow) Login(ctx context.Context, open func(string) error) error {
	if strings.TrimSpace(f.cfg.Authority) == "" || strings.TrimSpace(f.cfg.ClientID) == "" {
		return errors.New("oidc authority and client id are required")
	}
	redirect, err := url.Parse(f.cfg.RedirectURL)
	if err != nil {
		return fmt.Errorf("parse redirect url: %w", err)
	}
	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("listen for callback: %w", err)
	}
	if redirect.Port() == "0" {
		redirect.Host = ln.Addr().String()
	}

	req := f.newRequest(redirect.String())
	authURL := f.authorizeURL(req)

	results := make(chan callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath(redirect), func(w http.ResponseWriter, r *http.Request) {
		res := readCallback(r.URL.Query(), req.state)
		select {
		case results <- res:
		default:
		}
		if res.err != nil {
			http.Error(w, "Login failed. You can close this window.", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "Login complete. You can close this window.")
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	f.logger.WithField("callback", redirect.String()).Info("waiting for login callback")
	if err := open(authURL); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}

	var res callback
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait for login callback: %w", ctx.Err())
	case res = <-results:
	}
	if res.err != nil {
		return res.err
	}

	tokens, err := f.exchange(ctx, req, res.code)
	if err != nil {
		return err
	}
	if err := f.store.Store(f.cfg.KeyPrefix+f.cfg.ClientID, tokens); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	f.logger.Info("login complete")
	return nil
}

func (f *Flow) newRequest(redirectURI string) request {
	return request{
		state:    uuid.NewString(),
		nonce:    uuid.NewString(),
		verifier: oauth2.GenerateVerifier(),
		conf: &oauth2.Config{
			ClientID:    f.cfg.ClientID,
			RedirectURL: redirectURI,
			Scopes:      strings.Fields(orDefault(f.cfg.Scope, "openid")),
			Endpoint: oauth2.Endpoint{
				AuthURL:   f.cfg.Authority + "/oauth2/authorize",
				TokenURL:  f.cfg.Authority + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

func (f *Flow) authorizeURL(req request) string {
	return req.conf.AuthCodeURL(req.state,
		oauth2.S256ChallengeOption(req.verifier),
		oauth2.SetAuthURLParam("nonce", req.nonce),
		oauth2.SetAuthURLParam("response_type", orDefault(f.cfg.ResponseType, "code")),
	)
}

func (f *Flow) exchange(ctx context.Context, req request, code string) (session.AuthnResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.http)
	tok, err := req.conf.Exchange(ctx, code, oauth2.VerifierOption(req.verifier))
	if err != nil {
		return session.AuthnResult{}, fmt.Errorf("token exchange: %w", err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return session.AuthnResult{}, errors.New("token response has no id_token")
	}
	return session.AuthnResult{
		IDToken:      idToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    int(tok.ExpiresIn),
		TokenType:    tok.TokenType,
	}, nil
}

func readCallback(q url.Values, wantState string) callback {
	if e := q.Get("error"); e != "" {
		if desc := q.Get("error_description"); desc != "" {
			e += ": " + desc
		}
		return callback{err: fmt.Errorf("%w: %s", ErrDenied, e)}
	}
	if q.Get("state") != wantState {
		return callback{err: ErrStateMismatch}
	}
	code := q.Get("code")
	if code == "" {
		return callback{err: errors.New("callback has no authorization code")}
	}
	return callback{code: code}
}

func callbackPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
