package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"chatline/internal/logging"
	"chatline/internal/session"

	"golang.org/x/oauth2"
)

type recordingStore struct {
	mu   sync.Mutex
	key  string
	res  session.AuthnResult
	hits int
}

func (r *recordingStore) Store(key string, res session.AuthnResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.key, r.res = key, res
	r.hits++
	return nil
}

func newTokenServer(t *testing.T, gotForm chan<- url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		select {
		case gotForm <- r.PostForm:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id_token":     "id.tok.en",
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// browser follows the authorize URL the way the provider would, redirecting
// with code and the supplied state.
func browser(t *testing.T, code string, state func(sent string) string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		cb, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			return err
		}
		cq := cb.Query()
		cq.Set("code", code)
		cq.Set("state", state(q.Get("state")))
		cb.RawQuery = cq.Encode()
		go func() {
			resp, err := http.Get(cb.String())
			if err != nil {
				t.Errorf("callback request: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func testConfig(authority string) Config {
	return Config{
		Authority:   authority,
		ClientID:    "client-1",
		RedirectURL: "http://127.0.0.1:0/callback",
		Scope:       "openid email",
		KeyPrefix:   "0-",
	}
}

func TestAuthorizeURLCarriesPKCE(t *testing.T) {
	f := NewFlow(testConfig("https://idp.example/"), nil, &recordingStore{}, logging.Discard())
	raw := f.AuthorizeURL()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "idp.example" || u.Path != "/oauth2/authorize" {
		t.Fatalf("unexpected endpoint %s", raw)
	}
	q := u.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Fatalf("missing PKCE params: %v", q)
	}
	if q.Get("response_type") != "code" || q.Get("scope") != "openid email" || q.Get("client_id") != "client-1" {
		t.Fatalf("unexpected params: %v", q)
	}
	if q.Get("state") == "" || q.Get("nonce") == "" || q.Get("state") == q.Get("nonce") {
		t.Fatalf("state and nonce must be distinct and set: %v", q)
	}

	if again := f.AuthorizeURL(); again == raw {
		t.Fatalf("expected a fresh request per call")
	}
}

func TestLoginExchangesCodeAndStoresSession(t *testing.T) {
	forms := make(chan url.Values, 1)
	idp := newTokenServer(t, forms)
	store := &recordingStore{}
	f := NewFlow(testConfig(idp.URL), idp.Client(), store, logging.Discard())

	var sent url.Values
	follow := browser(t, "the-code", func(s string) string { return s })
	open := func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		sent = u.Query()
		return follow(authURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Login(ctx, open); err != nil {
		t.Fatalf("login: %v", err)
	}

	if store.hits != 1 || store.key != "0-client-1" {
		t.Fatalf("unexpected store: key=%q hits=%d", store.key, store.hits)
	}
	if store.res.IDToken != "id.tok.en" || store.res.AccessToken != "access" {
		t.Fatalf("unexpected tokens: %#v", store.res)
	}

	form := <-forms
	if form.Get("code") != "the-code" || form.Get("grant_type") != "authorization_code" {
		t.Fatalf("unexpected token form: %v", form)
	}
	if form.Get("client_id") != "client-1" || form.Get("redirect_uri") != sent.Get("redirect_uri") {
		t.Fatalf("exchange must repeat client_id and redirect_uri: %v", form)
	}
	verifier := form.Get("code_verifier")
	if verifier == "" {
		t.Fatalf("expected code_verifier in exchange")
	}
	if got := oauth2.S256ChallengeFromVerifier(verifier); got != sent.Get("code_challenge") {
		t.Fatalf("verifier does not match challenge: %q vs %q", got, sent.Get("code_challenge"))
	}
}

func TestLoginRequiresIDToken(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(idp.Close)
	store := &recordingStore{}
	f := NewFlow(testConfig(idp.URL), idp.Client(), store, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.Login(ctx, browser(t, "the-code", func(s string) string { return s }))
	if err == nil || !strings.Contains(err.Error(), "id_token") {
		t.Fatalf("expected missing id_token error, got %v", err)
	}
	if store.hits != 0 {
		t.Fatalf("session must not be stored without an id token")
	}
}

func TestLoginSurfacesTokenEndpointError(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	t.Cleanup(idp.Close)
	f := NewFlow(testConfig(idp.URL), idp.Client(), &recordingStore{}, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.Login(ctx, browser(t, "the-code", func(s string) string { return s }))
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.ErrorCode != "invalid_grant" {
		t.Fatalf("expected invalid_grant retrieve error, got %v", err)
	}
}

func TestLoginRejectsStateMismatch(t *testing.T) {
	idp := newTokenServer(t, make(chan url.Values, 1))
	store := &recordingStore{}
	f := NewFlow(testConfig(idp.URL), idp.Client(), store, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.Login(ctx, browser(t, "the-code", func(string) string { return "forged" }))
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
	if store.hits != 0 {
		t.Fatalf("session must not be stored on mismatch")
	}
}

func TestLoginHonorsContext(t *testing.T) {
	f := NewFlow(testConfig("https://idp.example"), nil, &recordingStore{}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	err := f.Login(ctx, func(string) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadCallbackDenied(t *testing.T) {
	res := readCallback(url.Values{"error": {"access_denied"}}, "s")
	if !errors.Is(res.err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", res.err)
	}
}
