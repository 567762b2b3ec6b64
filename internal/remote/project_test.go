package remote

import (
	"context"
	"crypto/md5" //nolint:gosec // test fixture digest, matches production's content-addressing use
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychopy/osfsync/internal/digest"
	"github.com/psychopy/osfsync/internal/reconcile"
	"github.com/psychopy/osfsync/internal/transfer"
)

type tempLocalWriter struct {
	root string
}

func (w *tempLocalWriter) FullPath(relPath string) string {
	return filepath.Join(w.root, filepath.FromSlash(relPath))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // see import comment
	return hex.EncodeToString(sum[:])
}

func childrenLink(href string) fileRelationships {
	var rel fileRelationships
	rel.Files.Links.Related = relatedLink{Href: href}

	return rel
}

func withMD5(attrs fileAttrs, hexDigest string) fileAttrs {
	attrs.Extra.Hashes.MD5 = hexDigest

	return attrs
}

func TestRebuildIndex_WalksNestedFolders(t *testing.T) {
	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("/nodes/abc/files/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(providerListResponse{
			Data: []providerData{
				{
					ID:            "osfstorage",
					Links:         reconcile.Links{reconcile.LinkNewFolder: srv.URL + "/new_folder_root"},
					Relationships: childrenLink(srv.URL + "/root-children"),
				},
			},
		})
	})

	mux.HandleFunc("/root-children", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fileListResponse{
			Data: []fileData{
				{
					ID:         "f1",
					Attributes: fileAttrs{Name: "readme.txt", Kind: "file", Size: 12, DateModified: "2024-01-01T00:00:00Z"},
					Links:      reconcile.Links{reconcile.LinkDownload: srv.URL + "/dl1"},
				},
				{
					ID:            "d1",
					Attributes:    fileAttrs{Name: "sub", Kind: "folder"},
					Links:         reconcile.Links{reconcile.LinkNewFolder: srv.URL + "/new_folder_sub"},
					Relationships: childrenLink(srv.URL + "/sub-children"),
				},
			},
		})
	})

	mux.HandleFunc("/sub-children", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fileListResponse{
			Data: []fileData{
				{
					ID:         "f2",
					Attributes: fileAttrs{Name: "data.bin", Kind: "file", Size: 99, DateModified: "2024-02-02T00:00:00Z"},
					Links:      reconcile.Links{reconcile.LinkDownload: srv.URL + "/dl2"},
				},
			},
		})
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	proj := NewProject(session, "abc", digest.MD5, nil, nil, nil)

	idx, err := proj.RebuildIndex(context.Background())
	require.NoError(t, err)

	byPath, err := idx.ByPath()
	require.NoError(t, err)

	assert.Contains(t, byPath, "readme.txt")
	assert.Contains(t, byPath, "sub")
	assert.Contains(t, byPath, "sub/data.bin")
	assert.Equal(t, reconcile.KindFolder, byPath["sub"].Kind)
	assert.Equal(t, "2024-02-02T00:00:00Z", byPath["sub"].DateModified)

	_, known := proj.getContainer("sub")
	assert.True(t, known)
}

func TestAddContainer_CreatesMissingParents(t *testing.T) {
	var created []string

	mux := http.NewServeMux()
	mux.HandleFunc("/new_folder_root", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		created = append(created, name)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(fileData{
			ID:    "a-" + name,
			Links: reconcile.Links{reconcile.LinkNewFolder: "http://" + r.Host + "/new_folder_" + name},
		})
	})
	mux.HandleFunc("/new_folder_a", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		created = append(created, name)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(fileData{ID: "b-" + name})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	proj := NewProject(session, "abc", digest.MD5, nil, nil, nil)
	proj.setContainer("", reconcile.Links{reconcile.LinkNewFolder: srv.URL + "/new_folder_root"})

	asset, err := proj.AddContainer(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "a/b", asset.Path)
	assert.Equal(t, []string{"a", "b"}, created)
}

func TestAddContainer_ConflictReindexesAndReusesExisting(t *testing.T) {
	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("/new_folder_root", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"errors":[{"detail":"already exists"}]}`))
	})
	mux.HandleFunc("/nodes/abc/files/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(providerListResponse{
			Data: []providerData{
				{
					ID:            "osfstorage",
					Links:         reconcile.Links{reconcile.LinkNewFolder: srv.URL + "/new_folder_root"},
					Relationships: childrenLink(srv.URL + "/root-children"),
				},
			},
		})
	})
	mux.HandleFunc("/root-children", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fileListResponse{
			Data: []fileData{
				{
					ID:         "a-id",
					Attributes: fileAttrs{Name: "a", Kind: "folder"},
					Links:      reconcile.Links{reconcile.LinkUpload: srv.URL + "/upload_a"},
				},
			},
		})
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	proj := NewProject(session, "abc", digest.MD5, nil, nil, nil)
	proj.setContainer("", reconcile.Links{reconcile.LinkNewFolder: srv.URL + "/new_folder_root"})

	asset, err := proj.AddContainer(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", asset.Path)
}

func TestRename(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	proj := NewProject(session, "abc", digest.MD5, nil, nil, nil)

	asset := reconcile.Asset{Path: "old.txt", Links: reconcile.Links{reconcile.LinkMove: srv.URL + "/move"}}
	err := proj.Rename(context.Background(), asset, "renamed.txt")
	require.NoError(t, err)
	assert.Equal(t, "rename", gotBody["action"])
	assert.Equal(t, "renamed.txt", gotBody["rename"])
}

func TestDelete(t *testing.T) {
	var called bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	proj := NewProject(session, "abc", digest.MD5, nil, nil, nil)

	asset := reconcile.Asset{Path: "x.txt", Links: reconcile.Links{reconcile.LinkDelete: srv.URL + "/delete"}}
	err := proj.Delete(context.Background(), asset)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestUpload_NewFile_CreatesContainerAndVerifiesDigest(t *testing.T) {
	dir := t.TempDir()
	localFile := filepath.Join(dir, "report.txt")
	content := "upload me"
	require.NoError(t, os.WriteFile(localFile, []byte(content), 0o644))

	wantDigest := md5Hex(content)

	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("/new_folder_root", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(fileData{ID: "folder1", Links: reconcile.Links{reconcile.LinkUpload: srv.URL + "/upload_folder1"}})
	})
	mux.HandleFunc("/upload_folder1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "file", r.URL.Query().Get("kind"))
		assert.Equal(t, "report.txt", r.URL.Query().Get("name"))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(fileData{
			ID: "f1",
			Attributes: withMD5(fileAttrs{
				Name: "report.txt", Kind: "file", Size: int64(len(content)), DateModified: "2024-03-03T00:00:00Z",
			}, wantDigest),
			Links: reconcile.Links{reconcile.LinkUpload: srv.URL + "/upload_folder1/f1"},
		})
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	sched := transfer.New(srv.Client(), 0, nil)
	proj := NewProject(session, "abc", digest.MD5, sched, nil, nil)
	proj.setContainer("", reconcile.Links{reconcile.LinkNewFolder: srv.URL + "/new_folder_root"})

	local := reconcile.Asset{Path: "reports/report.txt", FullPath: localFile, Size: int64(len(content)), Digest: wantDigest}

	asset, err := proj.Upload(context.Background(), "reports/report.txt", local, false)
	require.NoError(t, err)
	assert.Equal(t, wantDigest, asset.Digest)
	assert.Equal(t, "f1", asset.ID)
}

func TestUpload_DigestMismatch_IsIntegrityError(t *testing.T) {
	dir := t.TempDir()
	localFile := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(localFile, []byte("upload me"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(fileData{
			ID:         "f1",
			Attributes: withMD5(fileAttrs{Name: "report.txt", Kind: "file"}, "deadbeef"),
		})
	}))
	defer srv.Close()

	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	sched := transfer.New(srv.Client(), 0, nil)
	proj := NewProject(session, "abc", digest.MD5, sched, nil, nil)

	local := reconcile.Asset{Path: "report.txt", FullPath: localFile, Size: 9, Digest: md5Hex("upload me"), Links: reconcile.Links{reconcile.LinkUpload: srv.URL}}

	_, err := proj.Upload(context.Background(), "report.txt", local, true)
	require.Error(t, err)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
}

func TestDownload_WritesFileAndVerifiesDigest(t *testing.T) {
	content := "downloaded content"
	wantDigest := md5Hex(content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(content))
	}))
	defer srv.Close()

	dir := t.TempDir()
	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	sched := transfer.New(srv.Client(), 0, nil)
	proj := NewProject(session, "abc", digest.MD5, sched, &tempLocalWriter{root: dir}, nil)

	remoteAsset := reconcile.Asset{Path: "notes/a.txt", Digest: wantDigest, Links: reconcile.Links{reconcile.LinkDownload: srv.URL}}

	asset, err := proj.Download(context.Background(), "notes/a.txt", remoteAsset)
	require.NoError(t, err)
	assert.Equal(t, wantDigest, asset.Digest)

	written, err := os.ReadFile(filepath.Join(dir, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, string(written))
}

func TestDownload_DigestMismatch_IsIntegrityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("actual content"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	session := NewSession(srv.URL, srv.Client(), newMemStore(), nil, time.Second, time.Second)
	sched := transfer.New(srv.Client(), 0, nil)
	proj := NewProject(session, "abc", digest.MD5, sched, &tempLocalWriter{root: dir}, nil)

	remoteAsset := reconcile.Asset{Path: "a.txt", Digest: "wrong-digest", Links: reconcile.Links{reconcile.LinkDownload: srv.URL}}

	_, err := proj.Download(context.Background(), "a.txt", remoteAsset)
	require.Error(t, err)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
}

func TestAddContainer_MissingNewFolderLink(t *testing.T) {
	session := NewSession("http://example.invalid", nil, newMemStore(), nil, time.Second, time.Second)
	proj := NewProject(session, "abc", digest.MD5, nil, nil, nil)
	proj.setContainer("", reconcile.Links{})

	_, err := proj.AddContainer(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "new_folder")
}

func TestRename_MissingMoveLink(t *testing.T) {
	session := NewSession("http://example.invalid", nil, newMemStore(), nil, time.Second, time.Second)
	proj := NewProject(session, "abc", digest.MD5, nil, nil, nil)

	err := proj.Rename(context.Background(), reconcile.Asset{Path: "a.txt"}, "b.txt")
	require.Error(t, err)
}
