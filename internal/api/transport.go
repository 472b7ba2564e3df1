package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TokenSource resolves the bearer credential for API calls.
type TokenSource interface {
	IDToken() (string, bool)
}

// BearerTransport attaches the ID token to requests under Prefix. Requests
// outside the prefix, or made while no token resolves, pass through unmodified.
type BearerTransport struct {
	Base   http.RoundTripper
	Tokens TokenSource
	Prefix string
	Logger *logrus.Logger
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if !t.matches(req) {
		return base.RoundTrip(req)
	}

	token, ok := "", false
	if t.Tokens != nil {
		token, ok = t.Tokens.IDToken()
	}
	if !ok {
		return base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	reqID := out.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
		out.Header.Set("X-Request-ID", reqID)
	}

	start := time.Now()
	resp, err := base.RoundTrip(out)
	if t.Logger != nil {
		fields := logrus.Fields{
			"request_id": reqID,
			"method":     out.Method,
			"path":       out.URL.Path,
			"elapsed":    time.Since(start).String(),
		}
		if err != nil {
			t.Logger.WithFields(fields).WithError(err).Warn("api request failed")
		} else {
			fields["status"] = resp.StatusCode
			t.Logger.WithFields(fields).Debug("api request")
		}
	}
	return resp, err
}

func (t *BearerTransport) matches(req *http.Request) bool {
	prefix := t.Prefix
	if prefix == "" {
		prefix = "/api"
	}
	return strings.HasPrefix(req.URL.Path, prefix)
}
