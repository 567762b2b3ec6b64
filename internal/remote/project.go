package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/psychopy/osfsync/internal/digest"
	"github.com/psychopy/osfsync/internal/reconcile"
	"github.com/psychopy/osfsync/internal/transfer"
)

const dateLayout = "2006-01-02T15:04:05Z"

// LocalWriter resolves a relative path to the absolute filesystem path a
// downloaded file should be written to. Satisfied by *localfs.Indexer.
// Defined here, at the consumer, per the "accept interfaces, return
// structs" convention.
type LocalWriter interface {
	FullPath(relPath string) string
}

// fileAttrs mirrors the OSF v2 file-provider entry JSON: a
// waterbutler file or folder under a node's osfstorage provider.
type fileAttrs struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"` // "file" or "folder"
	DateModified string `json:"date_modified"`
	Size         int64  `json:"size"`
	Extra        struct {
		Hashes struct {
			MD5    string `json:"md5"`
			SHA256 string `json:"sha256"`
		} `json:"hashes"`
	} `json:"extra"`
}

type relatedLink struct {
	Href string `json:"href"`
}

type fileRelationships struct {
	Files struct {
		Links struct {
			Related relatedLink `json:"related"`
		} `json:"links"`
	} `json:"files"`
}

type fileData struct {
	ID            string            `json:"id"`
	Attributes    fileAttrs         `json:"attributes"`
	Links         reconcile.Links   `json:"links"`
	Relationships fileRelationships `json:"relationships"`
}

type fileListLinks struct {
	Next string `json:"next"`
}

type fileListResponse struct {
	Data  []fileData    `json:"data"`
	Links fileListLinks `json:"links"`
}

// providerData describes one storage provider attached to a node (we only
// ever use "osfstorage"): its root-level new_folder/upload links and the
// URL that lists its root children.
type providerData struct {
	ID            string            `json:"id"`
	Links         reconcile.Links   `json:"links"`
	Relationships fileRelationships `json:"relationships"`
}

type providerListResponse struct {
	Data []providerData `json:"data"`
}

// Project abstracts a single OSF node's osfstorage tree into the flat-Asset
// vocabulary the reconciler uses for the local side. It is
// not safe for concurrent use: the reconciler's control task is
// single-threaded and only the Transfer Scheduler it delegates
// to parallelizes byte movement.
type Project struct {
	session   *Session
	nodeID    string
	algorithm digest.Algorithm
	scheduler *transfer.Scheduler
	local     LocalWriter
	logger    *slog.Logger

	mu         sync.Mutex
	containers map[string]reconcile.Links // path ("" for root) -> new_folder/upload links
}

// NewProject returns a Project bound to node nodeID. alg selects which hash
// in a file's reported digest map is used as its Asset.Digest; the same
// algorithm must back all three indices in a pass. A nil logger falls back
// to slog.Default.
func NewProject(session *Session, nodeID string, alg digest.Algorithm, scheduler *transfer.Scheduler, local LocalWriter, logger *slog.Logger) *Project {
	if logger == nil {
		logger = slog.Default()
	}

	return &Project{
		session:    session,
		nodeID:     nodeID,
		algorithm:  alg,
		scheduler:  scheduler,
		local:      local,
		logger:     logger,
		containers: map[string]reconcile.Links{},
	}
}

// RebuildIndex recursively walks the node's osfstorage provider and returns
// a flat list of file and folder assets. Every folder
// encountered is registered in the containers map keyed by path, and after
// the walk each folder's DateModified is set to the max DateModified of any
// descendant file.
func (p *Project) RebuildIndex(ctx context.Context) (reconcile.Index, error) {
	p.resetContainers()

	var provider providerListResponse
	if err := p.session.DoJSON(ctx, http.MethodGet, p.providerListURL(), nil, true, &provider); err != nil {
		return nil, fmt.Errorf("remote: listing storage providers: %w", err)
	}

	var root *providerData

	for i := range provider.Data {
		if provider.Data[i].ID == "osfstorage" {
			root = &provider.Data[i]

			break
		}
	}

	if root == nil {
		return nil, fmt.Errorf("remote: node %s has no osfstorage provider", p.nodeID)
	}

	p.setContainer("", root.Links)

	assets, _, err := p.walkFolder(ctx, "", root.Relationships.Files.Links.Related.Href)
	if err != nil {
		return nil, err
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Path < assets[j].Path })

	return assets, nil
}

func (p *Project) resetContainers() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.containers = map[string]reconcile.Links{}
}

func (p *Project) setContainer(path string, links reconcile.Links) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.containers[path] = links
}

func (p *Project) getContainer(path string) (reconcile.Links, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	links, ok := p.containers[path]

	return links, ok
}

// walkFolder lists every entry under childrenURL (a folder's or the
// provider root's children link), recursing into sub-folders, and returns
// the flat list of assets found at or beneath parentPath together with the
// max DateModified among everything in that subtree. A remote folder's
// date_modified is the max over all of its descendants, computed bottom-up
// as each nested walkFolder call returns.
func (p *Project) walkFolder(ctx context.Context, parentPath, childrenURL string) (reconcile.Index, string, error) {
	var assets reconcile.Index

	maxDesc := ""

	for childrenURL != "" {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		var page fileListResponse
		if err := p.session.DoJSON(ctx, http.MethodGet, childrenURL, nil, true, &page); err != nil {
			return nil, "", fmt.Errorf("remote: listing %q: %w", parentPath, err)
		}

		for _, entry := range page.Data {
			entryPath := digest.JoinRel(parentPath, entry.Attributes.Name)

			if entry.Attributes.Kind == "folder" {
				p.setContainer(entryPath, entry.Links)

				child, childMax, err := p.walkFolder(ctx, entryPath, entry.Relationships.Files.Links.Related.Href)
				if err != nil {
					return nil, "", err
				}

				folderDate := maxDate(entry.Attributes.DateModified, childMax)

				assets = append(assets, reconcile.Asset{
					Path:         entryPath,
					Kind:         reconcile.KindFolder,
					ID:           entry.ID,
					Links:        entry.Links,
					DateModified: folderDate,
				})
				assets = append(assets, child...)

				maxDesc = maxDate(maxDesc, folderDate)

				continue
			}

			assets = append(assets, reconcile.Asset{
				Path:         entryPath,
				Kind:         reconcile.KindFile,
				ID:           entry.ID,
				Links:        entry.Links,
				Size:         entry.Attributes.Size,
				Digest:       p.pickDigest(entry.Attributes),
				DateModified: entry.Attributes.DateModified,
			})

			maxDesc = maxDate(maxDesc, entry.Attributes.DateModified)
		}

		childrenURL = page.Links.Next
	}

	return assets, maxDesc, nil
}

func (p *Project) pickDigest(a fileAttrs) string {
	if p.algorithm == digest.SHA256 {
		return a.Extra.Hashes.SHA256
	}

	return a.Extra.Hashes.MD5
}

func maxDate(a, b string) string {
	if a == "" {
		return b
	}

	if b == "" {
		return a
	}

	if a > b {
		return a
	}

	return b
}

func (p *Project) providerListURL() string {
	return fmt.Sprintf("%s/nodes/%s/files/", p.session.baseURL, p.nodeID)
}

// AddContainer recursively creates any missing folders along path and
// returns the resulting Asset for path itself. A 409 on any
// segment is treated as success if that segment is already known as a
// container; otherwise ErrAlreadyExists is returned wrapped.
func (p *Project) AddContainer(ctx context.Context, path string) (reconcile.Asset, error) {
	if path == "" {
		links, _ := p.getContainer("")

		return reconcile.Asset{Path: "", Kind: reconcile.KindFolder, Links: links}, nil
	}

	segments := strings.Split(path, "/")

	parent := ""

	var asset reconcile.Asset

	for _, seg := range segments {
		childPath := digest.JoinRel(parent, seg)

		a, err := p.ensureFolder(ctx, parent, childPath, seg)
		if err != nil {
			return reconcile.Asset{}, err
		}

		asset = a
		parent = childPath
	}

	return asset, nil
}

func (p *Project) ensureFolder(ctx context.Context, parentPath, childPath, name string) (reconcile.Asset, error) {
	links, known := p.getContainer(childPath)
	parentLinks, haveParent := p.getContainer(parentPath)

	if known {
		return reconcile.Asset{Path: childPath, Kind: reconcile.KindFolder, Links: links}, nil
	}

	if !haveParent {
		return reconcile.Asset{}, fmt.Errorf("remote: creating folder %q: parent %q is not a known container", childPath, parentPath)
	}

	newFolderURL := parentLinks[reconcile.LinkNewFolder]
	if newFolderURL == "" {
		return reconcile.Asset{}, fmt.Errorf("remote: parent %q has no new_folder link", parentPath)
	}

	u, err := url.Parse(newFolderURL)
	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: parsing new_folder link: %w", err)
	}

	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()

	var out fileData

	err = p.session.DoJSON(ctx, http.MethodPut, u.String(), nil, true, &out)

	if err != nil && isConflict(err) {
		p.logger.Debug("remote: folder already exists, re-indexing to confirm", "path", childPath)

		if _, reindexErr := p.RebuildIndex(ctx); reindexErr != nil {
			return reconcile.Asset{}, fmt.Errorf("remote: folder %q: %w", childPath, ErrAlreadyExists)
		}

		if links, known = p.getContainer(childPath); known {
			return reconcile.Asset{Path: childPath, Kind: reconcile.KindFolder, Links: links}, nil
		}

		return reconcile.Asset{}, fmt.Errorf("remote: folder %q: %w", childPath, ErrAlreadyExists)
	}

	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: creating folder %q: %w", childPath, err)
	}

	p.setContainer(childPath, out.Links)

	p.logger.Info("remote: created folder", "path", childPath)

	return reconcile.Asset{Path: childPath, Kind: reconcile.KindFolder, ID: out.ID, Links: out.Links}, nil
}

func isConflict(err error) bool {
	var re *RemoteError

	return errors.As(err, &re) && re.Status == http.StatusConflict
}

// CreateFolder satisfies reconcile.Remote by delegating to AddContainer.
func (p *Project) CreateFolder(ctx context.Context, relPath string) (reconcile.Asset, error) {
	return p.AddContainer(ctx, relPath)
}

type moveRequest struct {
	Action string `json:"action"`
	Rename string `json:"rename"`
}

// Rename renames asset in place via its move link. Rename stays within the
// same container; there is no cross-folder move.
func (p *Project) Rename(ctx context.Context, asset reconcile.Asset, newRelPath string) error {
	moveURL := asset.Links[reconcile.LinkMove]
	if moveURL == "" {
		return fmt.Errorf("remote: asset %q has no move link", asset.Path)
	}

	_, newName := splitParentName(newRelPath)

	body, err := json.Marshal(moveRequest{Action: "rename", Rename: newName})
	if err != nil {
		return fmt.Errorf("remote: encoding rename request: %w", err)
	}

	if err := p.session.DoJSON(ctx, http.MethodPost, moveURL, bytes.NewReader(body), true, nil); err != nil {
		return fmt.Errorf("remote: renaming %q to %q: %w", asset.Path, newRelPath, err)
	}

	p.logger.Info("remote: renamed", "from", asset.Path, "to", newRelPath)

	return nil
}

// Delete removes asset from the remote via its delete link, expecting 204.
func (p *Project) Delete(ctx context.Context, asset reconcile.Asset) error {
	deleteURL := asset.Links[reconcile.LinkDelete]
	if deleteURL == "" {
		return fmt.Errorf("remote: asset %q has no delete link", asset.Path)
	}

	if err := p.session.DoJSON(ctx, http.MethodDelete, deleteURL, nil, true, nil); err != nil {
		return fmt.Errorf("remote: deleting %q: %w", asset.Path, err)
	}

	p.logger.Info("remote: deleted", "path", asset.Path)

	return nil
}

// Upload creates (update=false) or replaces (update=true) a remote file at
// relPath from local's content. For a new file
// the containing folder is created first, recursively, via AddContainer.
// The server-reported digest is compared against local.Digest; a mismatch
// is an IntegrityError rather than a successful result.
func (p *Project) Upload(ctx context.Context, relPath string, local reconcile.Asset, update bool) (reconcile.Asset, error) {
	f, err := os.Open(local.FullPath)
	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: opening %q for upload: %w", local.FullPath, err)
	}
	defer f.Close()

	uploadURL, err := p.resolveUploadURL(ctx, relPath, local, update)
	if err != nil {
		return reconcile.Asset{}, err
	}

	resp, err := p.scheduler.Upload(ctx, uploadURL, relPath, f, local.Size, nil)
	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: uploading %q: %w", relPath, err)
	}

	var out fileData
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: decoding upload response for %q: %w", relPath, err)
	}

	got := p.pickDigest(out.Attributes)
	if got != "" && local.Digest != "" && got != local.Digest {
		return reconcile.Asset{}, &IntegrityError{Path: relPath, Expected: local.Digest, Got: got}
	}

	p.logger.Info("remote: uploaded", "path", relPath, "update", update)

	return reconcile.Asset{
		Path:         relPath,
		Kind:         reconcile.KindFile,
		ID:           out.ID,
		Links:        out.Links,
		Size:         out.Attributes.Size,
		Digest:       got,
		DateModified: out.Attributes.DateModified,
	}, nil
}

// resolveUploadURL returns the PUT target for relPath: the asset's existing
// upload link when replacing content, or the containing folder's
// upload?kind=file&name= link (creating the folder first if needed) for a
// new file.
func (p *Project) resolveUploadURL(ctx context.Context, relPath string, local reconcile.Asset, update bool) (string, error) {
	if update {
		uploadURL := local.Links[reconcile.LinkUpload]
		if uploadURL == "" {
			return "", fmt.Errorf("remote: asset %q has no upload link", relPath)
		}

		return uploadURL, nil
	}

	parentPath, name := splitParentName(relPath)

	container, err := p.AddContainer(ctx, parentPath)
	if err != nil {
		return "", fmt.Errorf("remote: preparing container for %q: %w", relPath, err)
	}

	u, err := url.Parse(container.Links[reconcile.LinkUpload])
	if err != nil {
		return "", fmt.Errorf("remote: parsing upload link for %q: %w", parentPath, err)
	}

	q := u.Query()
	q.Set("kind", "file")
	q.Set("name", name)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Download fetches remote's content and writes it to the local project
// root at relPath, creating any missing parent directories, and returns the
// resulting local Asset, driving the add_local and update_local apply
// steps. The written content's digest is verified against remote.Digest
// when both are known.
func (p *Project) Download(ctx context.Context, relPath string, remote reconcile.Asset) (reconcile.Asset, error) {
	downloadURL := remote.Links[reconcile.LinkDownload]
	if downloadURL == "" {
		return reconcile.Asset{}, fmt.Errorf("remote: asset %q has no download link", relPath)
	}

	fullPath := p.local.FullPath(relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: creating parent directory for %q: %w", relPath, err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: creating %q: %w", fullPath, err)
	}
	defer f.Close()

	hasher, err := p.algorithm.New()
	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: preparing digest for %q: %w", relPath, err)
	}

	if err := p.scheduler.Download(ctx, downloadURL, relPath, io.MultiWriter(f, hasher), nil); err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: downloading %q: %w", relPath, err)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if remote.Digest != "" && got != remote.Digest {
		return reconcile.Asset{}, &IntegrityError{Path: relPath, Expected: remote.Digest, Got: got}
	}

	info, err := f.Stat()
	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("remote: stating downloaded %q: %w", fullPath, err)
	}

	p.logger.Info("remote: downloaded", "path", relPath)

	return reconcile.Asset{
		Path:         relPath,
		Kind:         reconcile.KindFile,
		FullPath:     fullPath,
		Size:         info.Size(),
		Digest:       got,
		DateModified: info.ModTime().UTC().Format(dateLayout),
	}, nil
}

// splitParentName splits relPath into its containing directory ("" for a
// root-level file) and leaf name.
func splitParentName(relPath string) (parent, name string) {
	i := strings.LastIndex(relPath, "/")
	if i < 0 {
		return "", relPath
	}

	return relPath[:i], relPath[i+1:]
}
