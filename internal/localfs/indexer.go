// Package localfs implements the Local Indexer: it walks a
// project's root directory and produces the flat Asset list the reconciler
// compares against the remote and last-sync indices, and it carries out the
// filesystem side of Apply (folder creation, rename, delete).
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/psychopy/osfsync/internal/digest"
	"github.com/psychopy/osfsync/internal/reconcile"
)

// ErrSymlinkCycle is returned when following a symlink would revisit a
// directory already on the current walk path.
var ErrSymlinkCycle = errors.New("localfs: symlink cycle detected")

// UnreadableError wraps a stat/open/read failure on a specific path so
// callers (the reconciler via the engine) can distinguish "exists but
// unreadable" from "does not exist".
type UnreadableError struct {
	Path string
	Err  error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("localfs: unreadable %q: %v", e.Path, e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

// Indexer walks a project root and builds a reconcile.Index from its
// contents. It caches the last build and exposes Rebuild so callers control
// when a fresh walk happens; the reconciler always rebuilds before
// analyzing.
type Indexer struct {
	root   string
	algo   digest.Algorithm
	logger *slog.Logger

	skipSymlinks bool

	last reconcile.Index
}

// New returns an Indexer rooted at root, digesting file content with algo.
// A nil logger falls back to slog.Default.
func New(root string, algo digest.Algorithm, skipSymlinks bool, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{root: root, algo: algo, skipSymlinks: skipSymlinks, logger: logger}
}

// Last returns the index built by the most recent Rebuild, or nil if none
// has run yet.
func (ix *Indexer) Last() reconcile.Index { return ix.last }

// Rebuild walks the project root from scratch and returns the resulting
// index. The root itself is never emitted as an Asset.
func (ix *Indexer) Rebuild(ctx context.Context) (reconcile.Index, error) {
	w := &walker{ix: ix, visited: map[string]bool{}}

	if _, err := os.Stat(ix.root); err != nil {
		return nil, fmt.Errorf("localfs: stating root %q: %w", ix.root, err)
	}

	canonicalRoot, err := filepath.EvalSymlinks(ix.root)
	if err != nil {
		return nil, fmt.Errorf("localfs: resolving root %q: %w", ix.root, err)
	}

	w.visited[canonicalRoot] = true

	if err := w.walk(ctx, ""); err != nil {
		return nil, err
	}

	sort.Slice(w.assets, func(i, j int) bool { return w.assets[i].Path < w.assets[j].Path })

	ix.last = w.assets

	return w.assets, nil
}

// walker carries the per-Rebuild state: the set of canonical directory
// paths visited on the current descent (for symlink cycle detection) and
// the accumulated asset list.
type walker struct {
	ix      *Indexer
	visited map[string]bool
	assets  reconcile.Index
}

// walk recursively visits relPath (relative to the indexer's root, ""
// meaning the root itself) and appends an Asset for every entry found.
func (w *walker) walk(ctx context.Context, relPath string) error {
	fullPath := filepath.Join(w.ix.root, relPath)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return fmt.Errorf("localfs: reading directory %q: %w", fullPath, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.visitEntry(ctx, relPath, entry); err != nil {
			return err
		}
	}

	return nil
}

func (w *walker) visitEntry(ctx context.Context, parentRel string, entry fs.DirEntry) error {
	name := norm.NFC.String(entry.Name())
	entryRel := digest.JoinRel(parentRel, name)
	entryFull := filepath.Join(w.ix.root, entryRel)

	info, isDir, err := w.resolve(entryFull, entry)
	if err != nil {
		if errors.Is(err, errSkipEntry) {
			return nil
		}

		return err
	}

	if isDir {
		return w.visitDir(ctx, entryRel, entryFull, info)
	}

	return w.visitFile(entryRel, entryFull, info)
}

var errSkipEntry = errors.New("localfs: skip entry")

// resolve returns the effective FileInfo and directory-ness for entry,
// following a single level of symlink indirection. A broken symlink or a
// skip-symlinks configuration returns errSkipEntry.
func (w *walker) resolve(entryFull string, entry fs.DirEntry) (os.FileInfo, bool, error) {
	if entry.Type()&os.ModeSymlink == 0 {
		info, err := entry.Info()
		if err != nil {
			return nil, false, &UnreadableError{Path: entryFull, Err: err}
		}

		return info, info.IsDir(), nil
	}

	if w.ix.skipSymlinks {
		return nil, false, errSkipEntry
	}

	info, err := os.Stat(entryFull) // follows the link exactly once
	if err != nil {
		w.ix.logger.Warn("localfs: broken symlink, skipping", "path", entryFull, "error", err)

		return nil, false, errSkipEntry
	}

	return info, info.IsDir(), nil
}

func (w *walker) visitDir(ctx context.Context, rel, full string, info os.FileInfo) error {
	canonical, err := filepath.EvalSymlinks(full)
	if err != nil {
		return &UnreadableError{Path: full, Err: err}
	}

	if w.visited[canonical] {
		return ErrSymlinkCycle
	}

	w.visited[canonical] = true
	defer delete(w.visited, canonical)

	w.assets = append(w.assets, reconcile.Asset{
		Path:         rel,
		Kind:         reconcile.KindFolder,
		FullPath:     full,
		DateModified: formatModTime(info),
	})

	return w.walk(ctx, rel)
}

func (w *walker) visitFile(rel, full string, info os.FileInfo) error {
	d, err := digestFile(w.ix.algo, full)
	if err != nil {
		w.ix.logger.Warn("localfs: cannot read file, treating as missing", "path", rel, "error", err)

		return nil
	}

	w.assets = append(w.assets, reconcile.Asset{
		Path:         rel,
		Kind:         reconcile.KindFile,
		FullPath:     full,
		Size:         info.Size(),
		Digest:       d,
		DateModified: formatModTime(info),
	})

	return nil
}

func digestFile(algo digest.Algorithm, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &UnreadableError{Path: path, Err: err}
	}
	defer f.Close()

	d, err := digest.OfReader(algo, f)
	if err != nil {
		return "", &UnreadableError{Path: path, Err: err}
	}

	return d, nil
}

func formatModTime(info os.FileInfo) string {
	return info.ModTime().UTC().Format("2006-01-02T15:04:05Z")
}
