package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUser_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/", r.URL.Path)
		assert.Equal(t, "ada lovelace", r.URL.Query().Get("filter[full_name]"))

		w.Header().Set("Content-Type", "application/vnd.api+json")
		fmtFprint(w, `{"data":[{"id":"abc12","attributes":{"full_name":"Ada Lovelace"}}]}`)
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)

	user, err := sess.FindUser(context.Background(), "ada lovelace")
	require.NoError(t, err)
	assert.Equal(t, "abc12", user.ID)
	assert.Equal(t, "Ada Lovelace", user.FullName)
}

func TestFindUser_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmtFprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)

	_, err := sess.FindUser(context.Background(), "nobody")
	require.Error(t, err)
}

func TestListUserProjects_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/abc12/nodes/", r.URL.Path)
		assert.Equal(t, "project", r.URL.Query().Get("filter[category]"))

		fmtFprint(w, `{"data":[{"id":"proj1","attributes":{"title":"My Project"}},{"id":"proj2","attributes":{"title":"Other Project"}}]}`)
	}))
	defer srv.Close()

	sess := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)

	projects, err := sess.ListUserProjects(context.Background(), "abc12")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "proj1", projects[0].ID)
	assert.Equal(t, "My Project", projects[0].Title)
}

func fmtFprint(w http.ResponseWriter, s string) {
	_, _ = w.Write([]byte(s))
}
