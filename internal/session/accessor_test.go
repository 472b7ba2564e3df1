package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"testing"

	"chatline/internal/logging"
)

type mapStorage struct {
	data     map[string]string
	keysErr  error
	clearErr error
}

func newMapStorage() *mapStorage { return &mapStorage{data: map[string]string{}} }

func (m *mapStorage) Keys() ([]string, error) {
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mapStorage) Get(k string) (string, bool, error) {
	v, ok := m.data[k]
	return v, ok, nil
}

func (m *mapStorage) Set(k, v string) error { m.data[k] = v; return nil }

func (m *mapStorage) Clear() error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.data = map[string]string{}
	return nil
}

func fakeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + enc.EncodeToString(body) + "." + enc.EncodeToString([]byte("sig"))
}

func sessionBlob(idToken string) string {
	return `{"authnResult":{"id_token":"` + idToken + `","access_token":"access-1"}}`
}

func newTestAccessor(st Storage) *Accessor {
	return NewAccessor(st, "0-", LogoutConfig{
		LogoutURL:             "https://idp.example/logout",
		ClientID:              "client-1",
		PostLogoutRedirectURI: "http://localhost/",
	}, logging.Discard())
}

func TestSubjectFromValidToken(t *testing.T) {
	st := newMapStorage()
	st.data["0-client-1"] = sessionBlob(fakeJWT(t, map[string]any{"sub": "user-123", "email": "a@b.c"}))
	a := newTestAccessor(st)

	if !a.IsAuthenticated() {
		t.Fatalf("expected authenticated")
	}
	sub, ok := a.Subject()
	if !ok || sub != "user-123" {
		t.Fatalf("unexpected subject %q %v", sub, ok)
	}
	c, _ := a.Claims()
	if c.Email != "a@b.c" {
		t.Fatalf("unexpected email %q", c.Email)
	}
	if tok, ok := a.AccessToken(); !ok || tok != "access-1" {
		t.Fatalf("unexpected access token %q", tok)
	}
}

func TestSubjectDegradesToAbsent(t *testing.T) {
	unknownAlg := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"XX"}`)) + "." +
		base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"s"}`)) + ".sig"
	cases := map[string]string{
		"missing sub":       sessionBlob(fakeJWT(t, map[string]any{"email": "x"})),
		"non-string sub":    sessionBlob(fakeJWT(t, map[string]any{"sub": 12})),
		"not a jwt":         sessionBlob("not-a-token"),
		"bad base64":        sessionBlob("a.%%%.c"),
		"malformed json":    `{"authnResult":`,
		"no authn result":   `{"other":true}`,
		"empty id token":    `{"authnResult":{"id_token":""}}`,
		"unknown algorithm": sessionBlob(unknownAlg),
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			st := newMapStorage()
			st.data["0-client"] = blob
			a := newTestAccessor(st)
			if sub, ok := a.Subject(); ok || sub != "" {
				t.Fatalf("expected absent subject, got %q", sub)
			}
		})
	}
}

func TestMissingTokenIsUnauthenticated(t *testing.T) {
	st := newMapStorage()
	st.data["unrelated"] = sessionBlob("x.y.z")
	a := newTestAccessor(st)
	if a.IsAuthenticated() {
		t.Fatalf("keys without the prefix must be ignored")
	}
	if _, ok := a.IDToken(); ok {
		t.Fatalf("expected no id token")
	}
}

func TestStorageErrorIsUnauthenticated(t *testing.T) {
	st := newMapStorage()
	st.keysErr = errors.New("disk gone")
	a := newTestAccessor(st)
	if a.IsAuthenticated() {
		t.Fatalf("storage failure must degrade to unauthenticated")
	}
}

func TestLogoutClearsAndBuildsURL(t *testing.T) {
	st := newMapStorage()
	st.data["0-client-1"] = sessionBlob(fakeJWT(t, map[string]any{"sub": "u"}))
	st.data["other"] = "kept?"
	a := newTestAccessor(st)

	raw, err := a.Logout(context.Background())
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(st.data) != 0 {
		t.Fatalf("expected all session state cleared, got %#v", st.data)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse logout url: %v", err)
	}
	if u.Host != "idp.example" || u.Path != "/logout" {
		t.Fatalf("unexpected logout url %s", raw)
	}
	if u.Query().Get("client_id") != "client-1" || u.Query().Get("logout_uri") != "http://localhost/" {
		t.Fatalf("unexpected logout params %s", u.RawQuery)
	}
	if a.IsAuthenticated() {
		t.Fatalf("expected unauthenticated after logout")
	}
}

func TestLogoutWithoutProviderURLStillClears(t *testing.T) {
	st := newMapStorage()
	st.data["0-client-1"] = sessionBlob(fakeJWT(t, map[string]any{"sub": "u"}))
	a := NewAccessor(st, "0-", LogoutConfig{ClientID: "client-1"}, logging.Discard())

	raw, err := a.Logout(context.Background())
	if !errors.Is(err, ErrLocalLogout) {
		t.Fatalf("expected ErrLocalLogout, got %v", err)
	}
	if raw != "" {
		t.Fatalf("expected no logout url, got %q", raw)
	}
	if len(st.data) != 0 || a.IsAuthenticated() {
		t.Fatalf("local session must be cleared, got %#v", st.data)
	}
}

func TestLogoutKeepsSessionWhenClearFails(t *testing.T) {
	st := newMapStorage()
	st.data["0-client-1"] = sessionBlob(fakeJWT(t, map[string]any{"sub": "u"}))
	st.clearErr = errors.New("disk gone")
	a := newTestAccessor(st)

	if _, err := a.Logout(context.Background()); err == nil || errors.Is(err, ErrLocalLogout) {
		t.Fatalf("expected a storage error, got %v", err)
	}
	if !a.IsAuthenticated() {
		t.Fatalf("session should survive a failed clear")
	}
}

func TestStoreRequiresPrefix(t *testing.T) {
	a := newTestAccessor(newMapStorage())
	if err := a.Store("session", AuthnResult{IDToken: "x"}); err == nil {
		t.Fatalf("expected prefix error")
	}
	if err := a.Store("0-client", AuthnResult{IDToken: "x"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if tok, ok := a.IDToken(); !ok || tok != "x" {
		t.Fatalf("unexpected token after store %q", tok)
	}
}
