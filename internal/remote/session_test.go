package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	tokens map[string]string
}

func newMemStore() *memStore { return &memStore{tokens: map[string]string{}} }

func (m *memStore) Get(accountID string) (string, error) { return m.tokens[accountID], nil }

func (m *memStore) Put(accountID, token string) error {
	m.tokens[accountID] = token

	return nil
}

func TestAuthenticateWithToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer saved-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/users/me/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMemStore()
	store.tokens["acct-1"] = "saved-token"

	sess := NewSession(srv.URL, srv.Client(), store, nil, time.Second, time.Second)
	err := sess.AuthenticateWithToken(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "saved-token", sess.Token())
}

func TestAuthenticateWithToken_NoSavedToken(t *testing.T) {
	sess := NewSession("https://example.invalid", nil, newMemStore(), nil, time.Second, time.Second)
	err := sess.AuthenticateWithToken(context.Background(), "acct-1")
	require.Error(t, err)
	assert.IsType(t, &AuthError{}, err)
}

func TestAuthenticateWithToken_RejectedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newMemStore()
	store.tokens["acct-1"] = "stale-token"

	sess := NewSession(srv.URL, srv.Client(), store, nil, time.Second, time.Second)
	err := sess.AuthenticateWithToken(context.Background(), "acct-1")
	require.Error(t, err)
	assert.IsType(t, &AuthError{}, err)
	assert.Empty(t, sess.Token())
}

func TestAuthenticateWithPassword_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tokens/" {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "alice", user)
			assert.Equal(t, "hunter2", pass)

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"attributes": map[string]any{"token_id": "fresh-token"},
				},
			})

			return
		}

		assert.Equal(t, "/users/me/", r.URL.Path)
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMemStore()
	sess := NewSession(srv.URL, srv.Client(), store, nil, time.Second, time.Second)

	err := sess.AuthenticateWithPassword(context.Background(), "acct-1", "alice", "hunter2", "")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", sess.Token())
	assert.Equal(t, "fresh-token", store.tokens["acct-1"])
}

func TestAuthenticateWithPassword_NeedsSecondFactor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OSF-OTP", "required")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	err := sess.AuthenticateWithPassword(context.Background(), "acct-1", "alice", "hunter2", "")
	require.Error(t, err)
	assert.IsType(t, &NeedsSecondFactor{}, err)
}

func TestAuthenticateWithPassword_OtherFourXX_IsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	err := sess.AuthenticateWithPassword(context.Background(), "acct-1", "alice", "wrong", "")
	require.Error(t, err)
	assert.IsType(t, &AuthError{}, err)
}

func TestAuthenticateWithPassword_WithOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tokens/" {
			assert.Equal(t, "123456", r.Header.Get("X-OSF-OTP"))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"attributes": map[string]any{"token_id": "tok"}},
			})

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	err := sess.AuthenticateWithPassword(context.Background(), "acct-1", "alice", "hunter2", "123456")
	require.NoError(t, err)
}

func TestDoJSON_RemoteErrorOnUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)

	var out map[string]any
	err := sess.DoJSON(context.Background(), http.MethodGet, srv.URL+"/nodes/abc/", nil, true, &out)
	require.Error(t, err)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusInternalServerError, remoteErr.Status)
}

func TestDoJSON_ProjectDeletedOn410(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)

	err := sess.DoJSON(context.Background(), http.MethodGet, srv.URL+"/nodes/abc/", nil, true, nil)
	require.Error(t, err)
	assert.IsType(t, &ProjectDeleted{}, err)
}
