package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/provider"
)

func newTokenBackend(t *testing.T) (*httptest.Server, *HTTPTokenService) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer key:secret", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/token":
			var req issueTokenRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.NotZero(t, req.TTLSeconds)
			_ = json.NewEncoder(w).Encode(issueTokenResponse{
				Token:     "tok-" + req.Channel,
				ExpiresAt: time.Now().Add(time.Duration(req.TTLSeconds) * time.Second).Unix(),
			})
		case "/access":
			var req validateAccessRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := validateAccessResponse{CanJoin: req.Channel != "private"}
			if !resp.CanJoin {
				resp.Reason = "room is private"
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	svc := NewHTTPTokenService(config.CredentialConfig{
		ServiceURL:     srv.URL,
		APIKey:         "key",
		APISecret:      "secret",
		RequestTimeout: time.Second,
	})
	return srv, svc
}

func TestHTTPTokenServiceIssue(t *testing.T) {
	_, svc := newTokenBackend(t)

	token, expiresAt, err := svc.IssueToken(context.Background(), "abc", 7, provider.RoleHost, time.Hour)
	require.NoError(t, err)
	require.Equal(t, "tok-abc", token)
	require.True(t, expiresAt.After(time.Now().Add(50*time.Minute)))
}

func TestHTTPTokenServiceValidateAccess(t *testing.T) {
	_, svc := newTokenBackend(t)

	canJoin, _, err := svc.ValidateAccess(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, canJoin)

	canJoin, reason, err := svc.ValidateAccess(context.Background(), "private")
	require.NoError(t, err)
	require.False(t, canJoin)
	require.Equal(t, "room is private", reason)
}

func TestHTTPTokenServiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	svc := NewHTTPTokenService(config.CredentialConfig{ServiceURL: srv.URL})
	_, _, err := svc.IssueToken(context.Background(), "abc", 7, provider.RoleHost, time.Hour)
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}
