// Package project persists the state a sync needs to resume across runs:
// the local root, the remote identifiers, and the index recorded at the end
// of the last successful sync, stored as one atomically-written JSON
// document.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/psychopy/osfsync/internal/reconcile"
)

// FilePerms matches the token store's owner-only permissions; the project
// file can carry a project_id and account_id, not a bearer token, but there
// is no reason to make it world-readable.
const FilePerms = 0o600

// DirPerms is used when creating the project file's parent directory.
const DirPerms = 0o700

// assetDoc is the on-disk shape of one reconcile.Asset. Named json tags keep
// the document stable if reconcile.Asset's Go field order ever changes.
type assetDoc struct {
	Path         string          `json:"path"`
	Kind         string          `json:"kind"`
	Size         int64           `json:"size,omitempty"`
	Digest       string          `json:"digest,omitempty"`
	DateModified string          `json:"date_modified,omitempty"`
	ID           string          `json:"id,omitempty"`
	Links        reconcile.Links `json:"links,omitempty"`
}

// document is the on-disk project file:
// `{root_path, project_id, account_id, name, index}`.
type document struct {
	RootPath  string     `json:"root_path"`
	ProjectID string     `json:"project_id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	Index     []assetDoc `json:"index"`
}

// Project tracks the state of one local<->remote sync pairing and its
// on-disk persistence. It does not itself talk to the filesystem or the
// network beyond (de)serializing its document: the caller drives the Local
// Indexer and Remote Project and hands Project the resulting indices.
type Project struct {
	path     string
	autosave bool
	logger   *slog.Logger

	mu        sync.Mutex
	rootPath  string
	projectID string
	accountID string
	name      string
	lastIndex reconcile.Index
	dirty     bool
}

// Options configures New/Load.
type Options struct {
	// Path is the project file's location on disk.
	Path string
	// NoAutosave disables Close's automatic save when the in-memory state
	// has changed since the last save. Autosave is on by default.
	NoAutosave bool
	Logger     *slog.Logger
}

// Load reads the project file at opts.Path. A missing file is not an
// error: it returns a Project with an empty last-index and the other fields
// zero, ready for a first sync.
func Load(opts Options) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Project{
		path:     opts.Path,
		autosave: !opts.NoAutosave,
		logger:   logger,
	}

	data, err := os.ReadFile(opts.Path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("project: no existing project file, starting fresh", "path", opts.Path)

		return p, nil
	}

	if err != nil {
		return nil, fmt.Errorf("project: reading %s: %w", opts.Path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("project: decoding %s: %w", opts.Path, err)
	}

	p.rootPath = doc.RootPath
	p.projectID = doc.ProjectID
	p.accountID = doc.AccountID
	p.name = doc.Name
	p.lastIndex = fromDocs(doc.Index)

	logger.Info("project: loaded", "path", opts.Path, "assets", len(p.lastIndex))

	return p, nil
}

// New returns a Project with no backing file yet, for a first-ever sync of
// rootPath against the node identified by projectID/accountID. Save (or
// autosave on Close) creates the file.
func New(opts Options, rootPath, projectID, accountID, name string) *Project {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Project{
		path:      opts.Path,
		autosave:  !opts.NoAutosave,
		logger:    logger,
		rootPath:  rootPath,
		projectID: projectID,
		accountID: accountID,
		name:      name,
		dirty:     true,
	}
}

// RootPath returns the local sync root.
func (p *Project) RootPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.rootPath
}

// ProjectID returns the remote node id.
func (p *Project) ProjectID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.projectID
}

// AccountID returns the account id used to look up a saved bearer token.
func (p *Project) AccountID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.accountID
}

// Name returns the project's display name.
func (p *Project) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.name
}

// LastIndex returns the index recorded at the end of the last successful
// sync (empty if none has completed yet).
func (p *Project) LastIndex() reconcile.Index {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(reconcile.Index, len(p.lastIndex))
	copy(out, p.lastIndex)

	return out
}

// SetLastIndex records idx as the new last-sync index, as Apply's Result.Index
// does after every pass. It marks the project dirty so a
// subsequent Save or autosaving Close persists the change.
func (p *Project) SetLastIndex(idx reconcile.Index) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastIndex = idx
	p.dirty = true
}

// Save persists the project document atomically, regardless of whether
// anything changed since the last save.
func (p *Project) Save() error {
	p.mu.Lock()
	doc := document{
		RootPath:  p.rootPath,
		ProjectID: p.projectID,
		AccountID: p.accountID,
		Name:      p.name,
		Index:     toDocs(p.lastIndex),
	}
	path := p.path
	p.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("project: encoding: %w", err)
	}

	if err := writeAtomic(path, data); err != nil {
		return err
	}

	p.mu.Lock()
	p.dirty = false
	p.mu.Unlock()

	p.logger.Info("project: saved", "path", path)

	return nil
}

// Close saves the project if autosave is enabled and the state has changed
// since the last save. Calling Close with autosave disabled, or with
// nothing to save, is a no-op.
func (p *Project) Close() error {
	p.mu.Lock()
	dirty := p.dirty
	autosave := p.autosave
	p.mu.Unlock()

	if !autosave || !dirty {
		return nil
	}

	return p.Save()
}

func toDocs(idx reconcile.Index) []assetDoc {
	docs := make([]assetDoc, len(idx))
	for i, a := range idx {
		docs[i] = assetDoc{
			Path:         a.Path,
			Kind:         string(a.Kind),
			Size:         a.Size,
			Digest:       a.Digest,
			DateModified: a.DateModified,
			ID:           a.ID,
			Links:        a.Links,
		}
	}

	return docs
}

func fromDocs(docs []assetDoc) reconcile.Index {
	idx := make(reconcile.Index, len(docs))
	for i, d := range docs {
		idx[i] = reconcile.Asset{
			Path:         d.Path,
			Kind:         reconcile.Kind(d.Kind),
			Size:         d.Size,
			Digest:       d.Digest,
			DateModified: d.DateModified,
			ID:           d.ID,
			Links:        d.Links,
		}
	}

	return idx
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename, so a crash mid-write cannot leave a truncated
// project file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("project: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".project-*.tmp")
	if err != nil {
		return fmt.Errorf("project: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("project: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("project: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("project: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("project: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("project: renaming: %w", err)
	}

	success = true

	return nil
}
