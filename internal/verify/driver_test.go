package verify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

func testSession() *model.Session {
	return &model.Session{ID: "abcd1234", Secret: "sso-token-value"}
}

func TestVerifySendsHandshake(t *testing.T) {
	var got *http.Request
	var body []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewDriver(srv.URL, "cf-token", "")
	require.NoError(t, err)

	require.NoError(t, d.Verify(context.Background(), testSession()))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/rest/auth/set-birth-date", got.URL.Path)
	assert.Contains(t, got.UserAgent(), "Chrome/")
	assert.Equal(t, srv.URL, got.Header.Get("Origin"))

	cookie := got.Header.Get("Cookie")
	assert.Contains(t, cookie, "sso=sso-token-value")
	assert.Contains(t, cookie, "sso-rw=sso-token-value")
	assert.Contains(t, cookie, "cf_clearance=cf-token")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "2001-01-01T16:00:00.000Z", payload["birthDate"])
}

func TestVerifyCapturesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("challenge failed"))
	}))
	defer srv.Close()

	d, err := NewDriver(srv.URL, "cf-token", "")
	require.NoError(t, err)

	err = d.Verify(context.Background(), testSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "challenge failed")
}

func TestVerifyRequiresClearance(t *testing.T) {
	d, err := NewDriver("https://grok.example", "", "")
	require.NoError(t, err)

	err = d.Verify(context.Background(), testSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cf_clearance not configured")
}

func TestNewDriverRejectsBadProxy(t *testing.T) {
	_, err := NewDriver("https://grok.example", "cf-token", "://not-a-url")
	assert.Error(t, err)
}
