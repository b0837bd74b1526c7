package projectapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAuth(t *testing.T, w http.ResponseWriter, token string) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(authState{
		AccessToken:            token,
		AccessTokenType:        "Bearer",
		AccessTokenExpiresUTC:  time.Now().UTC().Add(time.Hour),
		RefreshToken:           "refresh-1",
		RefreshTokenExpiresUTC: time.Now().UTC().Add(24 * time.Hour),
	}))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("client-id", "client-secret", "hours:read",
		WithBaseURL(srv.URL), WithRateLimit(1000))
}

func TestGetAll_AuthenticatesOnce(t *testing.T) {
	var tokenCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "client-id", payload["client_Id"])
		assert.Equal(t, "client-secret", payload["client_Secret"])
		assert.Equal(t, "hours:read", payload["scope"])
		writeAuth(t, w, "token-1")
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "client-id", r.Header.Get("client_Id"))
		json.NewEncoder(w).Encode([]User{{GUID: "u1"}, {GUID: "u2"}})
	})

	c := newTestClient(t, mux)
	users, err := GetAll[User](context.Background(), c, "users", nil)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	// Second call reuses the cached token.
	_, err = GetAll[User](context.Background(), c, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tokenCalls.Load())
}

func TestGetAll_FollowsNextPageToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		writeAuth(t, w, "token-1")
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			w.Header().Set("NextPageToken", "page-2")
			json.NewEncoder(w).Encode([]User{{GUID: "u1"}})
		case "page-2":
			json.NewEncoder(w).Encode([]User{{GUID: "u2"}})
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	})

	c := newTestClient(t, mux)
	users, err := GetAll[User](context.Background(), c, "users", nil)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].GUID)
	assert.Equal(t, "u2", users[1].GUID)
}

func TestGetAll_ReauthenticatesOn401(t *testing.T) {
	var tokenCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		n := tokenCalls.Add(1)
		if n == 1 {
			writeAuth(t, w, "stale")
		} else {
			writeAuth(t, w, "fresh")
		}
	})
	mux.HandleFunc("GET /invoices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]Invoice{{GUID: "i1"}})
	})

	c := newTestClient(t, mux)
	invoices, err := GetAll[Invoice](context.Background(), c, "invoices", nil)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, int64(2), tokenCalls.Load())
}

func TestGetAll_FailsAfterRetryLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		writeAuth(t, w, "token-1")
	})
	var gets atomic.Int64
	mux.HandleFunc("GET /projects", func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, mux)
	_, err := GetAll[Project](context.Background(), c, "projects", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry limit")
	assert.Equal(t, int64(maxRetries), gets.Load())
}

func TestGetAll_PropagatesServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		writeAuth(t, w, "token-1")
	})
	mux.HandleFunc("GET /projects", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	c := newTestClient(t, mux)
	_, err := GetAll[Project](context.Background(), c, "projects", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestGetAll_SingleObjectPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		writeAuth(t, w, "token-1")
	})
	mux.HandleFunc("GET /users/u1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(User{GUID: "u1", FirstName: "Aino"})
	})

	c := newTestClient(t, mux)
	users, err := GetAll[User](context.Background(), c, "users/u1", nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Aino", users[0].FirstName)
}

func TestDate_UnmarshalBothFormats(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-15"`), &d))
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), d.Time)

	require.NoError(t, json.Unmarshal([]byte(`"2024-03-15T10:30:00+02:00"`), &d))
	assert.Equal(t, time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC), d.Time)

	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.True(t, d.IsZero())
}
